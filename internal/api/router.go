// Package api exposes tasks, page records, archives and prompts over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/observability"
	"github.com/spherical/page-pipeline/internal/orchestrator"
)

// TaskRunner is the part of the orchestrator the API drives.
type TaskRunner interface {
	Submit(ctx context.Context, fileName, sourcePath string, mode domain.ProcessingMode) (*domain.Task, error)
	Process(ctx context.Context, taskID string, opts ...orchestrator.ProcessOption) error
}

// PromptManager reads and replaces the active prompt set.
type PromptManager interface {
	Prompts(ctx context.Context) (domain.PromptSet, error)
	Save(ctx context.Context, ps domain.PromptSet) (domain.PromptSet, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	Store   domain.RecordStore
	Runner  TaskRunner
	Prompts PromptManager
	Layout  *layout.Layout
	Cache   cache.Client
	Logger  *observability.Logger
}

// RouterConfig holds HTTP behaviour settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	UploadDir      string
	MaxUploadBytes int64
	// ProcessOnSubmit starts processing right away instead of leaving the
	// task for the pending sweep.
	ProcessOnSubmit bool
	DisableMetrics  bool
}

// DefaultRouterConfig returns development defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestTimeout: 60 * time.Second,
		UploadDir:      "uploads",
		MaxUploadBytes: 200 << 20,
	}
}

// NewRouter builds the HTTP handler. The returned Jobs tracks background
// runs started by the API so callers can wait for them on shutdown.
func NewRouter(deps Deps, cfg RouterConfig) (http.Handler, *Jobs) {
	logger := observability.OrNop(deps.Logger).WithOperation("api")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRouterConfig().RequestTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultRouterConfig().MaxUploadBytes
	}
	jobs := &Jobs{}

	tasks := &TaskHandler{
		store:  deps.Store,
		runner: deps.Runner,
		layout: deps.Layout,
		cfg:    cfg,
		jobs:   jobs,
		logger: logger,
	}
	prompts := &PromptHandler{prompts: deps.Prompts, logger: logger}
	events := &EventHandler{store: deps.Store, cache: deps.Cache, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(traceID)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", health(deps.Store))
	if !cfg.DisableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	timeout := chimiddleware.Timeout(cfg.RequestTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.With(timeout).Get("/", tasks.List)
			r.With(timeout).Post("/", tasks.Create)

			r.Route("/{taskId}", func(r chi.Router) {
				// long-lived stream, no request timeout
				r.Get("/events", events.Stream)

				r.Group(func(r chi.Router) {
					r.Use(timeout)
					r.Get("/", tasks.Get)
					r.Get("/pages", tasks.Pages)
					r.Get("/pages/{pageNo}/{artifact}", tasks.PageArtifact)
					r.Post("/rerun", tasks.Rerun)
					r.Get("/archive", tasks.Archive)
				})
			})
		})

		r.With(timeout).Get("/prompts", prompts.Get)
		r.With(timeout).Put("/prompts", prompts.Put)
	})

	return r, jobs
}

func health(store domain.RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := store.(Pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "page-pipeline"})
	}
}

// traceID copies chi's request ID into the logging context.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.ContextWithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithContext(r.Context()).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}
