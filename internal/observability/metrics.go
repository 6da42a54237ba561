package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Stage workers ───────────────────────────────────────────────────────────

	StageInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pagepipeline",
		Subsystem: "stage",
		Name:      "inflight",
		Help:      "Stage invocations currently executing.",
	}, []string{"stage"})

	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagepipeline",
		Subsystem: "stage",
		Name:      "outcomes_total",
		Help:      "Completed stage invocations, labelled by stage and result.",
	}, []string{"stage", "result"})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagepipeline",
		Subsystem: "stage",
		Name:      "duration_seconds",
		Help:      "Wall time of one stage invocation.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	InferenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagepipeline",
		Subsystem: "inference",
		Name:      "retries_total",
		Help:      "Inference requests retried, labelled by stage and HTTP status or transport.",
	}, []string{"stage", "reason"})

	// ─── Tasks ───────────────────────────────────────────────────────────────────

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagepipeline",
		Subsystem: "task",
		Name:      "completed_total",
		Help:      "Tasks that reached a terminal status.",
	}, []string{"mode", "status"})

	TaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagepipeline",
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "End-to-end task processing time.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"mode"})

	PagesRasterized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pagepipeline",
		Subsystem: "task",
		Name:      "pages_rasterized_total",
		Help:      "Page images produced by the rasterizer.",
	})

	// ─── Persistence ─────────────────────────────────────────────────────────────

	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagepipeline",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Record store writes that failed after retry and were tolerated.",
	}, []string{"operation"})
)
