package orchestrator

import (
	"context"
	"time"

	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
	"github.com/spherical/page-pipeline/internal/pipeline"
)

const publishTimeout = 2 * time.Second

// ProgressPublisher forwards progress events to the task's cache channel so
// API clients in other processes can follow a run.
type ProgressPublisher struct {
	cache  cache.Client
	logger *observability.Logger
}

var _ pipeline.Listener = (*ProgressPublisher)(nil)

// NewProgressPublisher creates a publisher.
func NewProgressPublisher(c cache.Client, logger *observability.Logger) *ProgressPublisher {
	return &ProgressPublisher{cache: c, logger: observability.OrNop(logger)}
}

// OnProgress publishes ev. Failures are logged and dropped.
func (p *ProgressPublisher) OnProgress(ev domain.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.cache.Publish(ctx, cache.ProgressChannel(ev.TaskID), ev); err != nil {
		p.logger.Debug().Str("task_id", ev.TaskID).Int("page_no", ev.PageNo).Err(err).Msg("progress publish failed")
	}
}
