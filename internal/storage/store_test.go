package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type recordStore interface {
	domain.RecordStore
	domain.PromptStore
}

func forEachStore(t *testing.T, fn func(t *testing.T, s recordStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func seedTask(t *testing.T, s recordStore, mode domain.ProcessingMode) *domain.Task {
	t.Helper()
	task := &domain.Task{FileName: "doc.pdf", SourceFilePath: "/in/doc.pdf", Mode: mode}
	require.NoError(t, s.CreateTask(context.Background(), task))
	require.NotEmpty(t, task.ID)
	return task
}

func TestStore_TaskLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		task := seedTask(t, s, domain.ModeOCRAndTranslate)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "doc.pdf", got.FileName)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, domain.ModeOCRAndTranslate, got.Mode)
		assert.WithinDuration(t, task.CreatedAt, got.CreatedAt, time.Second)

		require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.StatusProcessing))
		require.NoError(t, s.UpdateTaskPageCount(ctx, task.ID, 5))

		got, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		assert.Equal(t, 5, got.PageCount)
	})
}

func TestStore_ClaimTask(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		task := seedTask(t, s, domain.ModeOCROnly)
		pending := []domain.Status{domain.StatusPending}

		var wg sync.WaitGroup
		var won atomic.Int32
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ClaimTask(ctx, task.ID, pending)
				assert.NoError(t, err)
				if ok {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessing, got.Status)

		require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, domain.StatusFinished))
		ok, err := s.ClaimTask(ctx, task.ID, pending)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.ClaimTask(ctx, task.ID, []domain.Status{domain.StatusPending, domain.StatusFinished})
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.ClaimTask(ctx, "missing", pending)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()

		_, err := s.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.UpdateTaskStatus(ctx, "missing", domain.StatusFailed)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.UpdateOcrStatus(ctx, "missing", 1, domain.StatusFinished, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.LatestPrompts(ctx)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStore_ProgressNeverRegresses(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		task := seedTask(t, s, domain.ModeOCROnly)

		for _, v := range []int{2, 5, 3, 5, 4} {
			require.NoError(t, s.UpdateTaskProgress(ctx, task.ID, v))
		}

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.CurPage)
	})
}

func TestStore_PageRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		task := seedTask(t, s, domain.ModeOCROnly)

		for _, n := range []int{3, 1, 2} {
			page := domain.PageTask{TaskID: task.ID, PageNo: n, SourceImagePath: "/img/p.jpg"}
			require.NoError(t, s.CreatePageRecord(ctx, domain.NewPageRecord(page, task.Mode)))
		}

		require.NoError(t, s.UpdateOcrStatus(ctx, task.ID, 2, domain.StatusProcessing, ""))
		require.NoError(t, s.UpdateOcrStatus(ctx, task.ID, 2, domain.StatusFinished, "/ocr/page_002.txt"))
		require.NoError(t, s.UpdateOcrStatus(ctx, task.ID, 2, domain.StatusFinished, ""))

		recs, err := s.ListPageRecords(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for i, r := range recs {
			assert.Equal(t, i+1, r.PageNo)
			assert.Equal(t, domain.StatusFinished, r.TranslateStatus, "ocr-only pages start with translate finished")
		}
		assert.Equal(t, domain.StatusFinished, recs[1].OCRStatus)
		assert.Equal(t, "/ocr/page_002.txt", recs[1].OCROutputPath)
		assert.Equal(t, domain.StatusPending, recs[0].OCRStatus)
	})
}

func TestStore_ResetPages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		task := seedTask(t, s, domain.ModeOCRAndTranslate)

		require.NoError(t, s.UpdateTaskPageCount(ctx, task.ID, 2))
		require.NoError(t, s.UpdateTaskProgress(ctx, task.ID, 2))
		for n := 1; n <= 2; n++ {
			page := domain.PageTask{TaskID: task.ID, PageNo: n}
			require.NoError(t, s.CreatePageRecord(ctx, domain.NewPageRecord(page, task.Mode)))
		}

		require.NoError(t, s.ResetPages(ctx, task.ID))

		recs, err := s.ListPageRecords(ctx, task.ID)
		require.NoError(t, err)
		assert.Empty(t, recs)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Zero(t, got.CurPage)
		assert.Zero(t, got.PageCount)

		assert.ErrorIs(t, s.ResetPages(ctx, "missing"), domain.ErrNotFound)
	})
}

func TestStore_ListTasksByStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		var ids []string
		for i := 0; i < 3; i++ {
			task := &domain.Task{FileName: "f.pdf", Mode: domain.ModeOCROnly, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.CreateTask(ctx, task))
			ids = append(ids, task.ID)
		}
		require.NoError(t, s.UpdateTaskStatus(ctx, ids[1], domain.StatusFinished))

		pending := domain.StatusPending
		got, err := s.ListTasks(ctx, &pending)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ids[0], got[0].ID)
		assert.Equal(t, ids[2], got[1].ID)

		all, err := s.ListTasks(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestStore_Prompts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s recordStore) {
		ctx := context.Background()

		require.NoError(t, s.SavePrompts(ctx, &domain.PromptSet{OCRPrompt: "o1", TranslatePrompt: "t1"}))
		require.NoError(t, s.SavePrompts(ctx, &domain.PromptSet{OCRPrompt: "o2", TranslatePrompt: "t2", Operator: "admin"}))

		p, err := s.LatestPrompts(ctx)
		require.NoError(t, err)
		assert.Equal(t, "o2", p.OCRPrompt)
		assert.Equal(t, "t2", p.TranslatePrompt)
		assert.Equal(t, "admin", p.Operator)
		assert.False(t, p.UpdatedAt.IsZero())
	})
}

func TestMigrator_Idempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	m := NewMigrator(store.db, "sqlite")
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, status.Applied)

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrator_FileSelection(t *testing.T) {
	pg, err := (&Migrator{driver: "postgres", files: NewMigrator(nil, "postgres").files}).listMigrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, pg)

	assert.Equal(t, "0001_init", versionOf("0001_init_sqlite.sql"))
	assert.Equal(t, "0001_init", versionOf("0001_init.sql"))
}
