package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/page-pipeline/internal/domain"
)

// Placeholders are numbered in order of first appearance in every query so the
// same text binds correctly under both sqlite3 and lib/pq.

// SQLStore implements domain.RecordStore and domain.PromptStore on database/sql.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.RecordStore = (*SQLStore)(nil)
	_ domain.PromptStore = (*SQLStore)(nil)
)

// NewSQLStore wraps an open database. Run a Migrator first.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTask inserts a task, assigning an ID and timestamps when missing.
func (s *SQLStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, file_name, source_file_path, mode, status, page_count, cur_page, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.FileName, task.SourceFilePath, string(task.Mode), int(task.Status),
		task.PageCount, task.CurPage, task.CreatedAt.UTC(), task.UpdatedAt,
	)
	if err != nil {
		return domain.PersistenceError("create task", err)
	}
	return nil
}

const taskColumns = `id, file_name, source_file_path, mode, status, page_count, cur_page, created_at, updated_at`

// GetTask retrieves a task by ID.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError(fmt.Sprintf("task %s", id))
	}
	if err != nil {
		return nil, domain.PersistenceError("get task", err)
	}
	return task, nil
}

// ListTasks returns tasks in creation order, optionally filtered by status.
func (s *SQLStore) ListTasks(ctx context.Context, status *domain.Status) ([]*domain.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at, id`, int(*status))
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	}
	if err != nil {
		return nil, domain.PersistenceError("list tasks", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, domain.PersistenceError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("list tasks", err)
	}
	return tasks, nil
}

// UpdateTaskStatus sets the task status.
func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) error {
	return s.execTask(ctx, "update task status",
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`, int(status), s.now(), id)
}

// ClaimTask flips the task to Processing in a single conditional UPDATE, so
// of two concurrent claims only one affects the row.
func (s *SQLStore) ClaimTask(ctx context.Context, id string, from []domain.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []interface{}{int(domain.StatusProcessing), s.now(), id}
	marks := make([]string, len(from))
	for i, st := range from {
		args = append(args, int(st))
		marks[i] = fmt.Sprintf("$%d", len(args))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3 AND status IN (`+strings.Join(marks, ", ")+`)`,
		args...)
	if err != nil {
		return false, domain.PersistenceError("claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.PersistenceError("claim task", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateTaskPageCount sets the number of rasterized pages.
func (s *SQLStore) UpdateTaskPageCount(ctx context.Context, id string, pageCount int) error {
	return s.execTask(ctx, "update task page count",
		`UPDATE tasks SET page_count = $1, updated_at = $2 WHERE id = $3`, pageCount, s.now(), id)
}

// UpdateTaskProgress raises cur_page; a lower or equal value is a no-op.
func (s *SQLStore) UpdateTaskProgress(ctx context.Context, id string, curPage int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET cur_page = $1, updated_at = $2 WHERE id = $3 AND cur_page < $1`,
		curPage, s.now(), id)
	if err != nil {
		return domain.PersistenceError("update task progress", err)
	}
	return nil
}

// CreatePageRecord inserts a page record, replacing any previous row for the same page.
func (s *SQLStore) CreatePageRecord(ctx context.Context, rec *domain.PageRecord) error {
	rec.UpdatedAt = s.now()
	query := `
		INSERT INTO page_records (task_id, page_no, image_path, ocr_status, ocr_output_path,
			translate_status, translate_output_path, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id, page_no) DO UPDATE SET
			image_path = excluded.image_path,
			ocr_status = excluded.ocr_status,
			ocr_output_path = excluded.ocr_output_path,
			translate_status = excluded.translate_status,
			translate_output_path = excluded.translate_output_path,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.TaskID, rec.PageNo, rec.ImagePath, int(rec.OCRStatus), rec.OCROutputPath,
		int(rec.TranslateStatus), rec.TranslateOutputPath, rec.UpdatedAt,
	)
	if err != nil {
		return domain.PersistenceError(fmt.Sprintf("create page record %d", rec.PageNo), err)
	}
	return nil
}

// ResetPages deletes page records and zeroes progress for a re-run.
func (s *SQLStore) ResetPages(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError("reset pages", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_records WHERE task_id = $1`, taskID); err != nil {
		return domain.PersistenceError("delete page records", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET cur_page = 0, page_count = 0, updated_at = $1 WHERE id = $2`, s.now(), taskID)
	if err != nil {
		return domain.PersistenceError("reset task progress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError(fmt.Sprintf("task %s", taskID))
	}

	if err := tx.Commit(); err != nil {
		return domain.PersistenceError("reset pages", err)
	}
	return nil
}

// UpdateOcrStatus sets a page's OCR status; an empty outputPath keeps the stored one.
func (s *SQLStore) UpdateOcrStatus(ctx context.Context, taskID string, pageNo int, status domain.Status, outputPath string) error {
	return s.execPage(ctx, "update ocr status", pageNo, `
		UPDATE page_records
		SET ocr_status = $1, ocr_output_path = COALESCE(NULLIF($2, ''), ocr_output_path), updated_at = $3
		WHERE task_id = $4 AND page_no = $5`,
		int(status), outputPath, s.now(), taskID, pageNo)
}

// UpdateTranslateStatus sets a page's Translate status; an empty outputPath keeps the stored one.
func (s *SQLStore) UpdateTranslateStatus(ctx context.Context, taskID string, pageNo int, status domain.Status, outputPath string) error {
	return s.execPage(ctx, "update translate status", pageNo, `
		UPDATE page_records
		SET translate_status = $1, translate_output_path = COALESCE(NULLIF($2, ''), translate_output_path), updated_at = $3
		WHERE task_id = $4 AND page_no = $5`,
		int(status), outputPath, s.now(), taskID, pageNo)
}

// ListPageRecords returns a task's page records ordered by page number.
func (s *SQLStore) ListPageRecords(ctx context.Context, taskID string) ([]*domain.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, page_no, image_path, ocr_status, ocr_output_path,
			translate_status, translate_output_path, updated_at
		FROM page_records WHERE task_id = $1 ORDER BY page_no`, taskID)
	if err != nil {
		return nil, domain.PersistenceError("list page records", err)
	}
	defer rows.Close()

	var records []*domain.PageRecord
	for rows.Next() {
		var (
			rec                  domain.PageRecord
			ocrStatus, trnStatus int
		)
		if err := rows.Scan(&rec.TaskID, &rec.PageNo, &rec.ImagePath, &ocrStatus, &rec.OCROutputPath,
			&trnStatus, &rec.TranslateOutputPath, &rec.UpdatedAt); err != nil {
			return nil, domain.PersistenceError("scan page record", err)
		}
		rec.OCRStatus = domain.Status(ocrStatus)
		rec.TranslateStatus = domain.Status(trnStatus)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("list page records", err)
	}
	return records, nil
}

// LatestPrompts returns the most recently saved prompt set.
func (s *SQLStore) LatestPrompts(ctx context.Context) (*domain.PromptSet, error) {
	var p domain.PromptSet
	err := s.db.QueryRowContext(ctx, `
		SELECT ocr_prompt, translate_prompt, operator, updated_at
		FROM prompts ORDER BY id DESC LIMIT 1`).Scan(&p.OCRPrompt, &p.TranslatePrompt, &p.Operator, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("prompts")
	}
	if err != nil {
		return nil, domain.PersistenceError("get prompts", err)
	}
	return &p, nil
}

// SavePrompts appends a new prompt revision.
func (s *SQLStore) SavePrompts(ctx context.Context, prompts *domain.PromptSet) error {
	prompts.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts (ocr_prompt, translate_prompt, operator, updated_at)
		VALUES ($1, $2, $3, $4)`,
		prompts.OCRPrompt, prompts.TranslatePrompt, prompts.Operator, prompts.UpdatedAt)
	if err != nil {
		return domain.PersistenceError("save prompts", err)
	}
	return nil
}

func (s *SQLStore) execTask(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.PersistenceError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundError(fmt.Sprintf("task %v", args[len(args)-1]))
	}
	return nil
}

func (s *SQLStore) execPage(ctx context.Context, op string, pageNo int, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.PersistenceError(fmt.Sprintf("%s page %d", op, pageNo), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundError(fmt.Sprintf("page record %d", pageNo))
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		t      domain.Task
		mode   string
		status int
	)
	if err := row.Scan(&t.ID, &t.FileName, &t.SourceFilePath, &mode, &status,
		&t.PageCount, &t.CurPage, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Mode = domain.ProcessingMode(mode)
	t.Status = domain.Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
