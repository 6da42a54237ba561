package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/page-pipeline/internal/domain"
)

type pageKey struct {
	taskID string
	pageNo int
}

// MemoryStore is a mutex-guarded in-memory RecordStore and PromptStore.
// Values are copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.Task
	pages   map[pageKey]*domain.PageRecord
	prompts []*domain.PromptSet
}

var (
	_ domain.RecordStore = (*MemoryStore)(nil)
	_ domain.PromptStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*domain.Task),
		pages: make(map[pageKey]*domain.PageRecord),
	}
}

func (m *MemoryStore) CreateTask(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := m.tasks[task.ID]; exists {
		return domain.PersistenceError(fmt.Sprintf("task %s already exists", task.ID), nil)
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.NotFoundError(fmt.Sprintf("task %s", id))
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, status *domain.Status) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Task
	for _, t := range m.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) error {
	return m.updateTask(id, func(t *domain.Task) { t.Status = status })
}

func (m *MemoryStore) ClaimTask(ctx context.Context, id string, from []domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return false, domain.NotFoundError(fmt.Sprintf("task %s", id))
	}
	if !slices.Contains(from, t.Status) {
		return false, nil
	}
	t.Status = domain.StatusProcessing
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) UpdateTaskPageCount(ctx context.Context, id string, pageCount int) error {
	return m.updateTask(id, func(t *domain.Task) { t.PageCount = pageCount })
}

func (m *MemoryStore) UpdateTaskProgress(ctx context.Context, id string, curPage int) error {
	return m.updateTask(id, func(t *domain.Task) {
		if curPage > t.CurPage {
			t.CurPage = curPage
		}
	})
}

func (m *MemoryStore) CreatePageRecord(ctx context.Context, rec *domain.PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	m.pages[pageKey{rec.TaskID, rec.PageNo}] = &cp
	return nil
}

func (m *MemoryStore) ResetPages(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return domain.NotFoundError(fmt.Sprintf("task %s", taskID))
	}
	for k := range m.pages {
		if k.taskID == taskID {
			delete(m.pages, k)
		}
	}
	t.CurPage = 0
	t.PageCount = 0
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateOcrStatus(ctx context.Context, taskID string, pageNo int, status domain.Status, outputPath string) error {
	return m.updatePage(taskID, pageNo, func(r *domain.PageRecord) {
		r.OCRStatus = status
		if outputPath != "" {
			r.OCROutputPath = outputPath
		}
	})
}

func (m *MemoryStore) UpdateTranslateStatus(ctx context.Context, taskID string, pageNo int, status domain.Status, outputPath string) error {
	return m.updatePage(taskID, pageNo, func(r *domain.PageRecord) {
		r.TranslateStatus = status
		if outputPath != "" {
			r.TranslateOutputPath = outputPath
		}
	})
}

func (m *MemoryStore) ListPageRecords(ctx context.Context, taskID string) ([]*domain.PageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.PageRecord
	for k, r := range m.pages {
		if k.taskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNo < out[j].PageNo })
	return out, nil
}

func (m *MemoryStore) LatestPrompts(ctx context.Context) (*domain.PromptSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.prompts) == 0 {
		return nil, domain.NotFoundError("prompts")
	}
	cp := *m.prompts[len(m.prompts)-1]
	return &cp, nil
}

func (m *MemoryStore) SavePrompts(ctx context.Context, prompts *domain.PromptSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prompts.UpdatedAt = time.Now().UTC()
	cp := *prompts
	m.prompts = append(m.prompts, &cp)
	return nil
}

func (m *MemoryStore) updateTask(id string, fn func(*domain.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return domain.NotFoundError(fmt.Sprintf("task %s", id))
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) updatePage(taskID string, pageNo int, fn func(*domain.PageRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.pages[pageKey{taskID, pageNo}]
	if !ok {
		return domain.NotFoundError(fmt.Sprintf("page record %d", pageNo))
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	return nil
}
