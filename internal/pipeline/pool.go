// Package pipeline runs pages through the OCR and Translate stages with an
// independent concurrency cap per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("stage worker pool is closed")

// StageFunc performs one stage invocation for a page.
type StageFunc func(ctx context.Context, page domain.PageTask) (string, error)

// StageWorkerPool runs at most maxConcurrency invocations of a StageFunc at a
// time against a FIFO queue and emits outcomes in completion order.
type StageWorkerPool struct {
	stage          domain.Stage
	maxConcurrency int
	fn             StageFunc
	ctx            context.Context
	onStart        func(domain.PageTask)
	logger         *observability.Logger

	mu      sync.Mutex
	queue   []domain.PageTask
	running int
	closed  bool

	inFlight    atomic.Int64
	maxObserved atomic.Int64

	pending   sync.WaitGroup
	results   chan domain.StageOutcome
	closeOnce sync.Once
}

// PoolOption configures a StageWorkerPool.
type PoolOption func(*StageWorkerPool)

// WithPoolContext sets the context passed to every invocation.
func WithPoolContext(ctx context.Context) PoolOption {
	return func(p *StageWorkerPool) { p.ctx = ctx }
}

// WithOnStart registers a hook called in the worker right before the stage
// function runs.
func WithOnStart(fn func(domain.PageTask)) PoolOption {
	return func(p *StageWorkerPool) { p.onStart = fn }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *observability.Logger) PoolOption {
	return func(p *StageWorkerPool) { p.logger = l }
}

// NewStageWorkerPool creates a pool. maxConcurrency below 1 is treated as 1.
func NewStageWorkerPool(stage domain.Stage, maxConcurrency int, fn StageFunc, opts ...PoolOption) *StageWorkerPool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	p := &StageWorkerPool{
		stage:          stage,
		maxConcurrency: maxConcurrency,
		fn:             fn,
		ctx:            context.Background(),
		results:        make(chan domain.StageOutcome, maxConcurrency),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = observability.OrNop(p.logger).WithStage(string(stage))
	return p
}

// Submit enqueues a page. It never blocks on stage work.
func (p *StageWorkerPool) Submit(page domain.PageTask) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.pending.Add(1)
	p.queue = append(p.queue, page)
	p.dispatchLocked()
	p.mu.Unlock()
	return nil
}

// Results delivers each outcome as soon as its invocation completes. The
// channel is closed by Close once every submitted page has been delivered.
func (p *StageWorkerPool) Results() <-chan domain.StageOutcome {
	return p.results
}

// Drain blocks until the queue is empty and nothing is in flight, and every
// outcome has been handed to the Results reader. It must not be called
// concurrently with the first Submit.
func (p *StageWorkerPool) Drain() {
	p.pending.Wait()
}

// Close rejects further submissions, drains, and closes Results.
func (p *StageWorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.pending.Wait()
		close(p.results)
	})
}

// InFlight reports the number of invocations currently executing.
func (p *StageWorkerPool) InFlight() int {
	return int(p.inFlight.Load())
}

// MaxObservedInFlight reports the highest InFlight value seen so far.
func (p *StageWorkerPool) MaxObservedInFlight() int {
	return int(p.maxObserved.Load())
}

// dispatchLocked starts queued pages while slots are free. p.mu must be held.
func (p *StageWorkerPool) dispatchLocked() {
	for p.running < p.maxConcurrency && len(p.queue) > 0 {
		page := p.queue[0]
		p.queue[0] = domain.PageTask{}
		p.queue = p.queue[1:]
		p.running++
		go p.work(page)
	}
}

func (p *StageWorkerPool) work(page domain.PageTask) {
	outcome := p.invoke(page)

	p.mu.Lock()
	p.running--
	p.dispatchLocked()
	p.mu.Unlock()

	p.results <- outcome
	p.pending.Done()
}

func (p *StageWorkerPool) invoke(page domain.PageTask) (out domain.StageOutcome) {
	n := p.inFlight.Add(1)
	for {
		seen := p.maxObserved.Load()
		if n <= seen || p.maxObserved.CompareAndSwap(seen, n) {
			break
		}
	}
	observability.StageInFlight.WithLabelValues(string(p.stage)).Inc()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("page_no", page.PageNo).Interface("panic", r).Msg("stage function panicked")
			out = domain.NewFailure(page, p.stage, domain.FailurePanic, fmt.Sprint(r))
		}
		out.Duration = time.Since(start)

		p.inFlight.Add(-1)
		observability.StageInFlight.WithLabelValues(string(p.stage)).Dec()
		observability.StageDurationSeconds.WithLabelValues(string(p.stage)).Observe(out.Duration.Seconds())
		result := "success"
		if !out.Succeeded() {
			result = "failure"
		}
		observability.StageOutcomes.WithLabelValues(string(p.stage), result).Inc()
	}()

	if p.onStart != nil {
		p.onStart(page)
	}

	if err := p.ctx.Err(); err != nil {
		return domain.NewFailure(page, p.stage, domain.FailureKindOf(err), err.Error())
	}

	text, err := p.fn(p.ctx, page)
	if err != nil {
		p.logger.Warn().Int("page_no", page.PageNo).Err(err).Msg("stage invocation failed")
		return domain.NewFailure(page, p.stage, domain.FailureKindOf(err), err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return domain.NewFailure(page, p.stage, domain.FailureEmptyOutput, "stage returned no text")
	}

	return domain.NewSuccess(page, p.stage, text)
}
