package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

// Coordinator wires the OCR pool's output into the Translate pool and keeps
// the record store in step with every page transition.
type Coordinator struct {
	store     domain.RecordStore
	ocr       domain.OCRClient
	translate domain.TranslateClient
	prompts   domain.PromptSource

	ocrConcurrency       int
	translateConcurrency int
	persistRetries       int
	persistBackoff       time.Duration
	listeners            []Listener
	writeFile            func(path, text string) error
	logger               *observability.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency sets the per-stage caps.
func WithConcurrency(ocr, translate int) Option {
	return func(c *Coordinator) {
		c.ocrConcurrency = ocr
		c.translateConcurrency = translate
	}
}

// WithPersistRetry sets how many times a failed store write is retried and the
// pause between attempts.
func WithPersistRetry(retries int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		c.persistRetries = retries
		c.persistBackoff = backoff
	}
}

// WithListener adds progress listeners.
func WithListener(l ...Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l...) }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator. Both stages default to one
// concurrent invocation.
func NewCoordinator(store domain.RecordStore, ocr domain.OCRClient, translate domain.TranslateClient, prompts domain.PromptSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:                store,
		ocr:                  ocr,
		translate:            translate,
		prompts:              prompts,
		ocrConcurrency:       1,
		translateConcurrency: 1,
		persistRetries:       1,
		persistBackoff:       200 * time.Millisecond,
		writeFile:            writeArtifact,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.OrNop(c.logger)
	return c
}

// run is the state of one Coordinator.Run call.
type run struct {
	task  *domain.Task
	total int
	log   *observability.Logger
	// store writes outlive cancellation so every page still reaches a terminal record
	storeCtx context.Context

	ocrText   sync.Map // pageNo -> OCR text awaiting translation
	latch     sync.WaitGroup
	completed atomic.Int64
	curPage   atomic.Int64

	mu      sync.Mutex
	summary domain.Summary
}

// Run processes pages through OCR and, for translate tasks, Translate. It
// returns once every page has reached a terminal status in the task's
// terminal stage. Page failures are recorded, never returned; the error is
// non-nil only when prompts cannot be loaded or ctx was canceled.
func (c *Coordinator) Run(ctx context.Context, task *domain.Task, pages []domain.PageTask) (domain.Summary, error) {
	if len(pages) == 0 {
		return domain.Summary{}, nil
	}

	prompts, err := c.prompts.Prompts(ctx)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load prompts: %w", err)
	}

	r := &run{
		task:     task,
		total:    len(pages),
		log:      c.logger.WithTask(task.ID),
		storeCtx: context.WithoutCancel(ctx),
	}
	r.latch.Add(len(pages))

	ocrPool := NewStageWorkerPool(domain.StageOCR, c.ocrConcurrency,
		func(ctx context.Context, page domain.PageTask) (string, error) {
			return c.ocr.Recognize(ctx, page.SourceImagePath, prompts.OCRPrompt)
		},
		WithPoolContext(ctx),
		WithPoolLogger(r.log),
		WithOnStart(func(page domain.PageTask) {
			c.persist(r, "update_ocr_status", page.PageNo, func(ctx context.Context) error {
				return c.store.UpdateOcrStatus(ctx, task.ID, page.PageNo, domain.StatusProcessing, "")
			})
		}),
	)

	var translatePool *StageWorkerPool
	if task.Mode.RequiresTranslation() {
		translatePool = NewStageWorkerPool(domain.StageTranslate, c.translateConcurrency,
			func(ctx context.Context, page domain.PageTask) (string, error) {
				text, ok := r.ocrText.LoadAndDelete(page.PageNo)
				if !ok {
					return "", domain.NewStageError(domain.StageTranslate, domain.FailureInput, 0,
						fmt.Errorf("no OCR text for page %d", page.PageNo))
				}
				return c.translate.Translate(ctx, text.(string), prompts.TranslatePrompt)
			},
			WithPoolContext(ctx),
			WithPoolLogger(r.log),
			WithOnStart(func(page domain.PageTask) {
				c.persist(r, "update_translate_status", page.PageNo, func(ctx context.Context) error {
					return c.store.UpdateTranslateStatus(ctx, task.ID, page.PageNo, domain.StatusProcessing, "")
				})
			}),
		)
	}

	r.log.Info().Int("pages", r.total).Str("mode", string(task.Mode)).
		Int("ocr_concurrency", c.ocrConcurrency).Int("translate_concurrency", c.translateConcurrency).
		Msg("pipeline started")
	start := time.Now()

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		for o := range ocrPool.Results() {
			c.onOCR(r, o, translatePool)
		}
	}()
	if translatePool != nil {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for o := range translatePool.Results() {
				c.finishTranslate(r, o)
			}
		}()
	}

	for _, page := range pages {
		if err := ocrPool.Submit(page); err != nil {
			c.onOCR(r, domain.NewFailure(page, domain.StageOCR, domain.FailureUnknown, err.Error()), translatePool)
		}
	}

	r.latch.Wait()
	ocrPool.Close()
	if translatePool != nil {
		translatePool.Close()
	}
	consumers.Wait()

	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()

	r.log.Info().
		Int("ocr_success", summary.OCRSuccess).Int("ocr_fail", summary.OCRFail).
		Int("translate_success", summary.TranslateSuccess).Int("translate_fail", summary.TranslateFail).
		Int("max_ocr_inflight", ocrPool.MaxObservedInFlight()).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline finished")

	return summary, ctx.Err()
}

func (c *Coordinator) onOCR(r *run, o domain.StageOutcome, translatePool *StageWorkerPool) {
	o = c.record(r, o)
	page := o.Page

	if translatePool == nil {
		c.advance(r, o)
		return
	}
	c.emit(r, o, int(r.completed.Load()))

	text, ok := o.Text()
	if !ok {
		c.finishTranslate(r, domain.NewFailure(page, domain.StageTranslate, domain.FailureSkipped,
			"skipped because OCR failed: "+failureDetail(o)))
		return
	}

	r.ocrText.Store(page.PageNo, text)
	if err := translatePool.Submit(page); err != nil {
		r.ocrText.Delete(page.PageNo)
		c.finishTranslate(r, domain.NewFailure(page, domain.StageTranslate, domain.FailureUnknown, err.Error()))
	}
}

func (c *Coordinator) finishTranslate(r *run, o domain.StageOutcome) {
	o = c.record(r, o)
	c.advance(r, o)
}

// record writes the artifact, then flips the stage status, then counts it.
// A failed write turns a success into a failure so Finished always has bytes
// behind it.
func (c *Coordinator) record(r *run, o domain.StageOutcome) domain.StageOutcome {
	page := o.Page
	path := page.OutputPath(o.Stage)

	if err := c.writeFile(path, o.ArtifactText()); err != nil {
		r.log.Error().Str("stage", string(o.Stage)).Int("page_no", page.PageNo).Str("path", path).Err(err).
			Msg("failed to write page artifact")
		o = domain.NewFailure(page, o.Stage, domain.FailureWrite, err.Error())
	}

	op := "update_ocr_status"
	update := c.store.UpdateOcrStatus
	if o.Stage == domain.StageTranslate {
		op = "update_translate_status"
		update = c.store.UpdateTranslateStatus
	}
	c.persist(r, op, page.PageNo, func(ctx context.Context) error {
		return update(ctx, r.task.ID, page.PageNo, o.Status(), path)
	})

	r.mu.Lock()
	r.summary.Record(o)
	r.mu.Unlock()

	ev := r.log.Debug()
	if !o.Succeeded() {
		ev = r.log.Warn().Err(domain.StageInvocationError(
			fmt.Sprintf("%s failed for page %d", o.Stage, page.PageNo), errors.New(failureDetail(o))))
	}
	ev.Str("stage", string(o.Stage)).Int("page_no", page.PageNo).Dur("duration", o.Duration).Msg("page stage completed")

	return o
}

// advance marks a page terminal: raises curPage, notifies listeners and
// releases the latch.
func (c *Coordinator) advance(r *run, o domain.StageOutcome) {
	pageNo := int64(o.Page.PageNo)
	for {
		cur := r.curPage.Load()
		if pageNo <= cur {
			break
		}
		if r.curPage.CompareAndSwap(cur, pageNo) {
			c.persist(r, "update_task_progress", o.Page.PageNo, func(ctx context.Context) error {
				return c.store.UpdateTaskProgress(ctx, r.task.ID, int(pageNo))
			})
			break
		}
	}

	c.emit(r, o, int(r.completed.Add(1)))
	r.latch.Done()
}

func (c *Coordinator) emit(r *run, o domain.StageOutcome, completed int) {
	if len(c.listeners) == 0 {
		return
	}

	ev := domain.ProgressEvent{
		TaskID:    r.task.ID,
		Stage:     o.Stage,
		PageNo:    o.Page.PageNo,
		Success:   o.Succeeded(),
		Completed: completed,
		Total:     r.total,
		CurPage:   int(r.curPage.Load()),
		Timestamp: time.Now().UTC(),
	}
	if f, ok := o.Result.(domain.Failure); ok {
		ev.Kind = f.Kind
	}

	for _, l := range c.listeners {
		l.OnProgress(ev)
	}
}

// persist applies the store write policy: retry, then log, count and carry on.
func (c *Coordinator) persist(r *run, op string, pageNo int, fn func(ctx context.Context) error) {
	err := fn(r.storeCtx)
	for attempt := 0; err != nil && attempt < c.persistRetries; attempt++ {
		time.Sleep(c.persistBackoff)
		err = fn(r.storeCtx)
	}
	if err != nil {
		observability.PersistenceErrors.WithLabelValues(op).Inc()
		r.log.Error().Str("operation", op).Int("page_no", pageNo).Err(err).
			Msg("record store write failed, continuing")
	}
}

func failureDetail(o domain.StageOutcome) string {
	if f, ok := o.Result.(domain.Failure); ok {
		return fmt.Sprintf("%s (%s)", f.Detail, f.Kind)
	}
	return ""
}
