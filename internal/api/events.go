package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

const keepAliveInterval = 15 * time.Second

// EventHandler streams a task's progress events as server-sent events.
type EventHandler struct {
	store  domain.RecordStore
	cache  cache.Client
	logger *observability.Logger
}

// Stream handles GET /tasks/{taskId}/events. The stream ends when the client
// disconnects.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskId")

	if _, err := h.store.GetTask(ctx, taskID); err != nil {
		writeDomainError(w, "task not found", err)
		return
	}
	if h.cache == nil {
		writeError(w, http.StatusNotImplemented, "progress streaming is not configured", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	msgs, unsubscribe, err := h.cache.Subscribe(ctx, cache.ProgressChannel(taskID))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to subscribe", err.Error())
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
