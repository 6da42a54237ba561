package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/page-pipeline/internal/archive"
	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/storage"
)

// fakeRasterizer writes pages[sourcePath] placeholder images.
type fakeRasterizer struct {
	pages map[string]int
	panic bool
	calls atomic.Int32
}

var _ domain.Rasterizer = (*fakeRasterizer)(nil)

func (f *fakeRasterizer) Rasterize(ctx context.Context, sourcePath, outputDir string) ([]string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("renderer crashed")
	}
	n, ok := f.pages[filepath.Base(sourcePath)]
	if !ok {
		return nil, domain.RasterizationError("failed to open PDF", errors.New("no objects found"))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(outputDir, fmt.Sprintf("page_%03d.jpg", i+1))
		if err := os.WriteFile(paths[i], []byte("jpeg"), 0o644); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

type fakeOCR struct {
	failPages map[string]bool
}

func (f *fakeOCR) Recognize(ctx context.Context, imagePath, prompt string) (string, error) {
	base := filepath.Base(imagePath)
	if f.failPages[base] {
		return "", domain.NewStageError(domain.StageOCR, domain.FailureHTTPStatus, 502, errors.New("bad gateway"))
	}
	return "text of " + base, nil
}

// fakeTranslate fails any text naming a page in failPages.
type fakeTranslate struct {
	mu        sync.Mutex
	calls     int
	failPages []string
}

func (f *fakeTranslate) Translate(ctx context.Context, text, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, page := range f.failPages {
		if strings.Contains(text, page) {
			return "", domain.NewStageError(domain.StageTranslate, domain.FailureHTTPStatus, 500, errors.New("upstream overloaded"))
		}
	}
	return strings.ToUpper(text), nil
}

// slowStore adds a round-trip delay to task reads.
type slowStore struct {
	*storage.MemoryStore
	delay time.Duration
}

func (s *slowStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.GetTask(ctx, id)
}

type staticPrompts struct{}

func (staticPrompts) Prompts(ctx context.Context) (domain.PromptSet, error) {
	return domain.PromptSet{OCRPrompt: "ocr", TranslatePrompt: "translate"}, nil
}

type fixture struct {
	store     *storage.MemoryStore
	backing   domain.RecordStore
	layout    *layout.Layout
	raster    *fakeRasterizer
	ocr       *fakeOCR
	translate *fakeTranslate
	srcDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	paths := config.PathsConfig{
		ImagesDir:       filepath.Join(root, "images"),
		OCRDir:          filepath.Join(root, "ocr"),
		TranslateDir:    filepath.Join(root, "translate"),
		OCRZipDir:       filepath.Join(root, "ocr_zip"),
		TranslateZipDir: filepath.Join(root, "translate_zip"),
	}
	srcDir := filepath.Join(root, "upload")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	return &fixture{
		store:     storage.NewMemoryStore(),
		layout:    layout.New(paths),
		raster:    &fakeRasterizer{pages: map[string]int{"three.pdf": 3, "five.pdf": 5}},
		ocr:       &fakeOCR{failPages: map[string]bool{}},
		translate: &fakeTranslate{},
		srcDir:    srcDir,
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	store := f.backing
	if store == nil {
		store = f.store
	}
	return New(Deps{
		Store:      store,
		Rasterizer: f.raster,
		OCR:        f.ocr,
		Translate:  f.translate,
		Prompts:    staticPrompts{},
		Layout:     f.layout,
		Packager:   archive.NewPackager(archive.NewZipBuilder(), nil),
	}, append([]Option{WithConcurrency(2, 2), WithPersistRetry(0, 0)}, opts...)...)
}

func (f *fixture) submit(t *testing.T, o *Orchestrator, name string, mode domain.ProcessingMode) *domain.Task {
	t.Helper()
	path := filepath.Join(f.srcDir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	task, err := o.Submit(context.Background(), name, path, mode)
	require.NoError(t, err)
	return task
}

func (f *fixture) task(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) records(t *testing.T, id string) []*domain.PageRecord {
	t.Helper()
	recs, err := f.store.ListPageRecords(context.Background(), id)
	require.NoError(t, err)
	return recs
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

var threePageEntries = []string{"page_001.txt", "page_002.txt", "page_003.txt"}

func TestProcess_OCROnly(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	require.NoError(t, o.Process(context.Background(), task.ID))

	got := f.task(t, task.ID)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Equal(t, 3, got.PageCount)
	assert.Equal(t, 3, got.CurPage)

	recs := f.records(t, task.ID)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.PageNo)
		assert.Equal(t, domain.StatusFinished, rec.OCRStatus)
		assert.Equal(t, domain.StatusFinished, rec.TranslateStatus)
	}

	assert.Equal(t, threePageEntries, zipEntries(t, f.layout.ArchivePath(got, domain.StageOCR)))
	assert.NoFileExists(t, f.layout.ArchivePath(got, domain.StageTranslate))
	assert.Zero(t, f.translate.calls)
	assert.NoDirExists(t, filepath.Join(filepath.Dir(f.layout.ArchivePath(got, domain.StageOCR)), "package"))
}

func TestProcess_TranslateWithOCRFailure(t *testing.T) {
	f := newFixture(t)
	f.ocr.failPages["page_002.jpg"] = true
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCRAndTranslate)

	require.NoError(t, o.Process(context.Background(), task.ID))

	got := f.task(t, task.ID)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Equal(t, 3, got.CurPage)
	assert.Equal(t, 2, f.translate.calls)

	recs := f.records(t, task.ID)
	require.Len(t, recs, 3)
	assert.Equal(t, domain.StatusFailed, recs[1].OCRStatus)
	assert.Equal(t, domain.StatusFailed, recs[1].TranslateStatus)
	assert.Equal(t, domain.StatusFinished, recs[0].TranslateStatus)
	assert.Equal(t, domain.StatusFinished, recs[2].TranslateStatus)

	assert.FileExists(t, f.layout.ArchivePath(got, domain.StageOCR))
	assert.FileExists(t, f.layout.ArchivePath(got, domain.StageTranslate))

	text, err := os.ReadFile(filepath.Join(f.layout.StageDir(got, domain.StageTranslate), "page_001.txt"))
	require.NoError(t, err)
	assert.Equal(t, "TEXT OF PAGE_001.JPG", string(text))
}

func TestProcess_TranslateFailureOnOnePage(t *testing.T) {
	f := newFixture(t)
	f.translate.failPages = []string{"page_002"}
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCRAndTranslate)

	require.NoError(t, o.Process(context.Background(), task.ID))

	got := f.task(t, task.ID)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Equal(t, 3, got.CurPage)
	assert.Equal(t, 3, f.translate.calls)

	recs := f.records(t, task.ID)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, domain.StatusFinished, rec.OCRStatus)
	}
	assert.Equal(t, domain.StatusFinished, recs[0].TranslateStatus)
	assert.Equal(t, domain.StatusFailed, recs[1].TranslateStatus)
	assert.Equal(t, domain.StatusFinished, recs[2].TranslateStatus)

	dir := f.layout.StageDir(got, domain.StageTranslate)
	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "TEXT OF PAGE_001.JPG", read("page_001.txt"))
	assert.Contains(t, read("page_002.txt"), "[translate error] page 2")
	assert.Contains(t, read("page_002.txt"), "upstream overloaded")
	assert.Equal(t, "TEXT OF PAGE_003.JPG", read("page_003.txt"))

	assert.Equal(t, threePageEntries, zipEntries(t, f.layout.ArchivePath(got, domain.StageTranslate)))
	assert.Equal(t, threePageEntries, zipEntries(t, f.layout.ArchivePath(got, domain.StageOCR)))
}

func TestProcess_ConcurrentPickupRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.backing = &slowStore{MemoryStore: f.store, delay: 20 * time.Millisecond}
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = o.Process(context.Background(), task.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.raster.calls.Load())

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
			assert.ErrorIs(t, err, ErrTaskBusy)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, domain.StatusFinished, f.task(t, task.ID).Status)
}

func TestProcess_RasterizationFailure(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	task := f.submit(t, o, "corrupt.pdf", domain.ModeOCRAndTranslate)

	err := o.Process(context.Background(), task.ID)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRasterization))

	got := f.task(t, task.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Empty(t, f.records(t, task.ID))
	assert.NoFileExists(t, f.layout.ArchivePath(got, domain.StageOCR))
}

func TestProcess_ArchiveFailureKeepsOutputs(t *testing.T) {
	f := newFixture(t)
	// a regular file where the zip root directory should be
	require.NoError(t, os.WriteFile(f.layout.OCRZipRoot, []byte("x"), 0o644))
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	err := o.Process(context.Background(), task.ID)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeArchiving))

	got := f.task(t, task.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	for _, rec := range f.records(t, task.ID) {
		assert.Equal(t, domain.StatusFinished, rec.OCRStatus)
		assert.FileExists(t, rec.OCROutputPath)
	}
}

func TestProcess_PanicMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.raster.panic = true
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	err := o.Process(context.Background(), task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, domain.StatusFailed, f.task(t, task.ID).Status)
}

func TestProcess_TerminalTaskRequiresRerun(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCRAndTranslate)
	require.NoError(t, o.Process(context.Background(), task.ID))

	got := f.task(t, task.ID)
	zipPath := f.layout.ArchivePath(got, domain.StageTranslate)
	first, err := os.ReadFile(zipPath)
	require.NoError(t, err)

	err = o.Process(context.Background(), task.ID)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	require.NoError(t, o.Process(context.Background(), task.ID, WithRerun()))
	assert.Equal(t, domain.StatusFinished, f.task(t, task.ID).Status)
	assert.Len(t, f.records(t, task.ID), 3)

	second, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-running a task rebuilds an identical archive")
}

func TestProcess_UnknownTask(t *testing.T) {
	f := newFixture(t)
	err := f.orchestrator().Process(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcess_RemovesImagesWhenConfigured(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(WithKeepImages(false))
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	require.NoError(t, o.Process(context.Background(), task.ID))
	assert.NoDirExists(t, f.layout.ImagesDir(f.task(t, task.ID)))
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	_, err := o.Submit(context.Background(), "x.pdf", filepath.Join(f.srcDir, "x.pdf"), domain.ModeOCROnly)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	path := filepath.Join(f.srcDir, "y.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	_, err = o.Submit(context.Background(), "y.pdf", path, domain.ProcessingMode("summarize"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	assert.Error(t, o.Cleanup(context.Background(), task.ID), "pending tasks keep their images")

	require.NoError(t, o.Process(context.Background(), task.ID))
	dir := f.layout.ImagesDir(f.task(t, task.ID))
	assert.DirExists(t, dir)

	require.NoError(t, o.Cleanup(context.Background(), task.ID))
	assert.NoDirExists(t, dir)
}

func TestProcessPending(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(WithMaxConcurrentTasks(2))

	ok1 := f.submit(t, o, "three.pdf", domain.ModeOCROnly)
	bad := f.submit(t, o, "corrupt.pdf", domain.ModeOCROnly)
	ok2 := f.submit(t, o, "five.pdf", domain.ModeOCRAndTranslate)

	report, err := o.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Found)
	assert.Equal(t, 2, report.Finished)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors, bad.ID)

	assert.Equal(t, domain.StatusFinished, f.task(t, ok1.ID).Status)
	assert.Equal(t, domain.StatusFinished, f.task(t, ok2.ID).Status)
	assert.Equal(t, domain.StatusFailed, f.task(t, bad.ID).Status)

	again, err := o.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Found)
}

// claimingStore lets another run claim the oldest task right after a sweep lists it.
type claimingStore struct {
	*storage.MemoryStore
}

func (s claimingStore) ListTasks(ctx context.Context, status *domain.Status) ([]*domain.Task, error) {
	tasks, err := s.MemoryStore.ListTasks(ctx, status)
	if err == nil && len(tasks) > 0 {
		_, err = s.ClaimTask(ctx, tasks[0].ID, []domain.Status{domain.StatusPending})
	}
	return tasks, err
}

func TestProcessPending_SkipsTasksClaimedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.backing = claimingStore{f.store}
	o := f.orchestrator()

	a := f.submit(t, o, "three.pdf", domain.ModeOCROnly)
	b := f.submit(t, o, "five.pdf", domain.ModeOCROnly)

	report, err := o.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Finished)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Errors)

	assert.ElementsMatch(t,
		[]domain.Status{domain.StatusProcessing, domain.StatusFinished},
		[]domain.Status{f.task(t, a.ID).Status, f.task(t, b.ID).Status})
	assert.Equal(t, int32(1), f.raster.calls.Load())
}

func TestWatch_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Watch(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == domain.StatusFinished
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestProgressPublisher(t *testing.T) {
	f := newFixture(t)
	client := cache.NewMemoryClient(16)
	t.Cleanup(func() { client.Close() })

	o := f.orchestrator(WithListener(NewProgressPublisher(client, nil)))
	task := f.submit(t, o, "three.pdf", domain.ModeOCROnly)

	msgs, unsubscribe, err := client.Subscribe(context.Background(), cache.ProgressChannel(task.ID))
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, o.Process(context.Background(), task.ID))

	seen := map[int]bool{}
	for len(seen) < 3 {
		select {
		case raw := <-msgs:
			var ev domain.ProgressEvent
			require.NoError(t, json.Unmarshal(raw, &ev))
			assert.Equal(t, task.ID, ev.TaskID)
			assert.Equal(t, 3, ev.Total)
			seen[ev.PageNo] = true
		case <-time.After(time.Second):
			t.Fatalf("received progress for %d of 3 pages", len(seen))
		}
	}
}
