package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/page-pipeline/internal/domain"
)

// SweepReport summarizes one ProcessPending pass.
type SweepReport struct {
	Found    int               `json:"found"`
	Finished int               `json:"finished"`
	Failed   int               `json:"failed"`
	Skipped  int               `json:"skipped"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// ProcessPending processes every Pending task, oldest first, running at most
// maxConcurrentTasks at a time. A failing task does not stop the sweep; only
// listing errors and cancellation are returned. Tasks another run claimed
// first are counted as skipped.
func (o *Orchestrator) ProcessPending(ctx context.Context) (SweepReport, error) {
	pending := domain.StatusPending
	tasks, err := o.deps.Store.ListTasks(ctx, &pending)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Found: len(tasks), Errors: map[string]string{}}
	if len(tasks) == 0 {
		return report, nil
	}
	o.logger.Info().Int("tasks", len(tasks)).Int("max_concurrent", o.maxConcurrentTasks).Msg("processing pending tasks")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.maxConcurrentTasks)

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		id := task.ID
		g.Go(func() error {
			err := o.Process(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrTaskBusy):
				report.Skipped++
			case err != nil:
				report.Failed++
				report.Errors[id] = err.Error()
			default:
				report.Finished++
			}
			return nil
		})
	}

	g.Wait()
	return report, ctx.Err()
}

// Watch sweeps for Pending tasks every interval until ctx is done.
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := o.ProcessPending(ctx)
		if err != nil && ctx.Err() == nil {
			o.logger.Error().Err(err).Msg("pending sweep failed")
		} else if report.Found > 0 {
			o.logger.Info().Int("finished", report.Finished).Int("failed", report.Failed).Int("skipped", report.Skipped).
				Msg("pending sweep complete")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
