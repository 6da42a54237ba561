package domain

import "context"

// Rasterizer turns a source document into page images
type Rasterizer interface {
	// Rasterize writes one image per page into outputDir and returns their paths in page order
	Rasterize(ctx context.Context, sourcePath, outputDir string) ([]string, error)
}

// OCRClient recognizes the text on a page image
type OCRClient interface {
	Recognize(ctx context.Context, imagePath, prompt string) (string, error)
}

// TranslateClient translates recognized text
type TranslateClient interface {
	Translate(ctx context.Context, sourceText, prompt string) (string, error)
}

// RecordStore is the durable mirror of task and page state
type RecordStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// ListTasks returns tasks in creation order; a nil status lists every task
	ListTasks(ctx context.Context, status *Status) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status Status) error
	// ClaimTask moves the task to Processing only if its current status is one
	// of from. It reports false when another run got there first.
	ClaimTask(ctx context.Context, id string, from []Status) (bool, error)
	UpdateTaskPageCount(ctx context.Context, id string, pageCount int) error
	// UpdateTaskProgress never lowers the stored value
	UpdateTaskProgress(ctx context.Context, id string, curPage int) error

	CreatePageRecord(ctx context.Context, rec *PageRecord) error
	// ResetPages removes page records and progress so a task can be re-run
	ResetPages(ctx context.Context, taskID string) error
	UpdateOcrStatus(ctx context.Context, taskID string, pageNo int, status Status, outputPath string) error
	UpdateTranslateStatus(ctx context.Context, taskID string, pageNo int, status Status, outputPath string) error
	ListPageRecords(ctx context.Context, taskID string) ([]*PageRecord, error)
}

// PromptStore persists prompt revisions
type PromptStore interface {
	LatestPrompts(ctx context.Context) (*PromptSet, error)
	SavePrompts(ctx context.Context, prompts *PromptSet) error
}

// ArchiveBuilder packages a directory of files into a zip archive
type ArchiveBuilder interface {
	BuildArchive(sourceDir, destZipPath string) error
}

// PromptSource supplies the prompts for a pipeline run
type PromptSource interface {
	Prompts(ctx context.Context) (PromptSet, error)
}
