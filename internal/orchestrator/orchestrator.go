// Package orchestrator drives a task from Pending to a terminal status:
// rasterize, run the page pipeline, archive.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spherical/page-pipeline/internal/archive"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/observability"
	"github.com/spherical/page-pipeline/internal/pipeline"
)

// ErrTaskBusy means another run holds the task.
var ErrTaskBusy = errors.New("task is held by another run")

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Store      domain.RecordStore
	Rasterizer domain.Rasterizer
	OCR        domain.OCRClient
	Translate  domain.TranslateClient
	Prompts    domain.PromptSource
	Layout     *layout.Layout
	Packager   *archive.Packager
}

// Orchestrator owns the task state machine.
type Orchestrator struct {
	deps        Deps
	coordinator *pipeline.Coordinator
	logger      *observability.Logger

	ocrConcurrency       int
	translateConcurrency int
	persistRetries       int
	persistBackoff       time.Duration
	maxConcurrentTasks   int
	keepImages           bool
	listeners            []pipeline.Listener
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the OCR and Translate caps passed to the coordinator.
func WithConcurrency(ocr, translate int) Option {
	return func(o *Orchestrator) {
		o.ocrConcurrency = ocr
		o.translateConcurrency = translate
	}
}

// WithPersistRetry sets the record store retry policy.
func WithPersistRetry(retries int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.persistRetries = retries
		o.persistBackoff = backoff
	}
}

// WithMaxConcurrentTasks bounds how many tasks ProcessPending runs at once.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *Orchestrator) { o.maxConcurrentTasks = n }
}

// WithKeepImages controls whether page images survive a finished task.
func WithKeepImages(keep bool) Option {
	return func(o *Orchestrator) { o.keepImages = keep }
}

// WithListener adds progress listeners to every run.
func WithListener(l ...pipeline.Listener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l...) }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:                 deps,
		ocrConcurrency:       1,
		translateConcurrency: 1,
		persistRetries:       1,
		persistBackoff:       200 * time.Millisecond,
		maxConcurrentTasks:   1,
		keepImages:           true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = observability.OrNop(o.logger).WithOperation("orchestrator")

	o.coordinator = pipeline.NewCoordinator(deps.Store, deps.OCR, deps.Translate, deps.Prompts,
		pipeline.WithConcurrency(o.ocrConcurrency, o.translateConcurrency),
		pipeline.WithPersistRetry(o.persistRetries, o.persistBackoff),
		pipeline.WithListener(o.listeners...),
		pipeline.WithLogger(o.logger),
	)
	return o
}

type processOptions struct {
	rerun bool
}

// ProcessOption modifies a single Process call.
type ProcessOption func(*processOptions)

// WithRerun lets Process start a fresh run for a task that already reached a
// terminal status. Existing page records and progress are discarded.
func WithRerun() ProcessOption {
	return func(p *processOptions) { p.rerun = true }
}

// Submit registers a Pending task for sourcePath.
func (o *Orchestrator) Submit(ctx context.Context, fileName, sourcePath string, mode domain.ProcessingMode) (*domain.Task, error) {
	if !mode.Valid() {
		return nil, domain.ValidationError(fmt.Sprintf("unknown processing mode %q", mode), nil)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, domain.ValidationError("source file is not readable", err)
	}

	task := &domain.Task{
		FileName:       fileName,
		SourceFilePath: sourcePath,
		Mode:           mode,
		Status:         domain.StatusPending,
	}
	if err := o.deps.Store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	o.logger.Info().Str("task_id", task.ID).Str("file", fileName).Str("mode", string(mode)).Msg("task submitted")
	return task, nil
}

// Process runs one task to a terminal status. Page failures do not fail the
// task; rasterization, record creation, archiving and cancellation do. A
// non-nil error always means the task was marked Failed, except when the
// task could not be picked up at all.
func (o *Orchestrator) Process(ctx context.Context, taskID string, opts ...ProcessOption) (err error) {
	var po processOptions
	for _, opt := range opts {
		opt(&po)
	}

	task, err := o.deps.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	switch {
	case task.Status == domain.StatusProcessing:
		return domain.ValidationError(fmt.Sprintf("task %s is already processing", task.ID), ErrTaskBusy)
	case task.Status.IsTerminal() && !po.rerun:
		return domain.ValidationError(fmt.Sprintf("task %s is already %s", task.ID, task.Status), nil)
	}

	from := []domain.Status{domain.StatusPending}
	if po.rerun {
		from = append(from, domain.StatusFinished, domain.StatusFailed)
	}
	claimed, err := o.deps.Store.ClaimTask(ctx, task.ID, from)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if !claimed {
		return domain.ValidationError(fmt.Sprintf("task %s was picked up by another run", task.ID), ErrTaskBusy)
	}
	previous := task.Status
	task.Status = domain.StatusProcessing

	log := o.logger.WithTask(task.ID)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("task processing panicked")
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
		o.finish(ctx, task, start, err)
	}()

	if po.rerun {
		if err := o.deps.Store.ResetPages(ctx, task.ID); err != nil {
			return domain.PersistenceError("reset pages for rerun", err)
		}
		task.CurPage, task.PageCount = 0, 0
		log.Info().Str("previous_status", previous.String()).Msg("re-running task")
	}

	return o.run(ctx, task, log)
}

func (o *Orchestrator) run(ctx context.Context, task *domain.Task, log *observability.Logger) error {
	imagesDir := o.deps.Layout.ImagesDir(task)
	images, err := o.deps.Rasterizer.Rasterize(ctx, task.SourceFilePath, imagesDir)
	if err != nil {
		if !domain.IsType(err, domain.ErrorTypeRasterization) {
			err = domain.RasterizationError("rasterize source document", err)
		}
		return err
	}
	if len(images) == 0 {
		return domain.RasterizationError("document produced no pages", nil)
	}

	task.PageCount = len(images)
	if err := o.deps.Store.UpdateTaskPageCount(ctx, task.ID, task.PageCount); err != nil {
		return domain.PersistenceError("update page count", err)
	}

	pages := o.deps.Layout.PageTasks(task, images)
	for _, page := range pages {
		if err := o.deps.Store.CreatePageRecord(ctx, domain.NewPageRecord(page, task.Mode)); err != nil {
			return domain.PersistenceError(fmt.Sprintf("create record for page %d", page.PageNo), err)
		}
	}

	log.Info().Int("pages", task.PageCount).Str("mode", string(task.Mode)).Msg("pages ready")

	summary, err := o.coordinator.Run(ctx, task, pages)
	if err != nil {
		return fmt.Errorf("page pipeline: %w", err)
	}

	log.Info().
		Int("ocr_success", summary.OCRSuccess).Int("ocr_fail", summary.OCRFail).
		Int("translate_success", summary.TranslateSuccess).Int("translate_fail", summary.TranslateFail).
		Msg("page pipeline complete")

	if err := o.deps.Packager.PackageAll(o.deps.Layout.Archives(task)); err != nil {
		if !domain.IsType(err, domain.ErrorTypeArchiving) {
			err = domain.ArchivingError("build result archives", err)
		}
		return err
	}

	if !o.keepImages {
		if err := os.RemoveAll(imagesDir); err != nil {
			log.Warn().Str("dir", imagesDir).Err(err).Msg("failed to remove page images")
		}
	}
	return nil
}

// finish records the terminal status. It ignores cancellation of ctx so a
// canceled task is still marked Failed.
func (o *Orchestrator) finish(ctx context.Context, task *domain.Task, start time.Time, runErr error) {
	status := domain.StatusFinished
	if runErr != nil {
		status = domain.StatusFailed
	}
	log := o.logger.WithTask(task.ID)

	storeCtx := context.WithoutCancel(ctx)
	err := o.deps.Store.UpdateTaskStatus(storeCtx, task.ID, status)
	for attempt := 0; err != nil && attempt < o.persistRetries; attempt++ {
		time.Sleep(o.persistBackoff)
		err = o.deps.Store.UpdateTaskStatus(storeCtx, task.ID, status)
	}
	if err != nil {
		observability.PersistenceErrors.WithLabelValues("update_task_status").Inc()
		log.Error().Str("status", status.String()).Err(err).Msg("failed to record terminal task status")
	}
	task.Status = status

	elapsed := time.Since(start)
	observability.TasksCompleted.WithLabelValues(string(task.Mode), status.String()).Inc()
	observability.TaskDurationSeconds.WithLabelValues(string(task.Mode)).Observe(elapsed.Seconds())

	if runErr != nil {
		log.Error().Err(runErr).Dur("elapsed", elapsed).Msg("task failed")
		return
	}
	log.Info().Int("pages", task.PageCount).Dur("elapsed", elapsed).Msg("task finished")
}

// Cleanup removes the page images of a task that reached a terminal status.
func (o *Orchestrator) Cleanup(ctx context.Context, taskID string) error {
	task, err := o.deps.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Status.IsTerminal() {
		return domain.ValidationError(fmt.Sprintf("task %s is still %s", task.ID, task.Status), nil)
	}

	dir := o.deps.Layout.ImagesDir(task)
	if err := os.RemoveAll(dir); err != nil {
		return domain.IOError("remove page images", err)
	}
	o.logger.Info().Str("task_id", task.ID).Str("dir", dir).Msg("page images removed")
	return nil
}
