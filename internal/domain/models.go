package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Status is shared by tasks and per-page stage records.
// The integer values are persisted and must not change.
type Status int

const (
	StatusPending    Status = 0
	StatusProcessing Status = 1
	StatusFinished   Status = 2
	StatusFailed     Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// ParseStatus accepts either the persisted integer or the lowercase name.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "pending":
		return StatusPending, nil
	case "1", "processing":
		return StatusProcessing, nil
	case "2", "finished":
		return StatusFinished, nil
	case "3", "failed":
		return StatusFailed, nil
	}
	return StatusPending, ValidationError(fmt.Sprintf("unknown status %q", v), nil)
}

// ProcessingMode selects which stages a task runs.
type ProcessingMode string

const (
	ModeOCROnly         ProcessingMode = "only_ocr"
	ModeOCRAndTranslate ProcessingMode = "translate"
)

// RequiresTranslation reports whether Translate is the terminal stage.
func (m ProcessingMode) RequiresTranslation() bool {
	return m == ModeOCRAndTranslate
}

// Valid reports whether m is a known mode.
func (m ProcessingMode) Valid() bool {
	return m == ModeOCROnly || m == ModeOCRAndTranslate
}

// Stage names one of the two inference steps.
type Stage string

const (
	StageOCR       Stage = "ocr"
	StageTranslate Stage = "translate"
)

// Task is one document-processing job.
type Task struct {
	ID             string         `json:"id"`
	FileName       string         `json:"file_name"`
	SourceFilePath string         `json:"source_file_path"`
	Mode           ProcessingMode `json:"mode"`
	Status         Status         `json:"status"`
	PageCount      int            `json:"page_count"`
	CurPage        int            `json:"cur_page"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FileBase is the file name without directory or extension, used for archive names.
func (t *Task) FileBase() string {
	name := t.FileName
	if name == "" {
		name = filepath.Base(t.SourceFilePath)
	}
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// DateStamp is the UTC creation date used to partition output directories.
func (t *Task) DateStamp() string {
	return t.CreatedAt.UTC().Format("2006-01-02")
}

// PageTask is the immutable unit of pipeline work for one page.
type PageTask struct {
	TaskID              string
	PageNo              int
	SourceImagePath     string
	OCROutputPath       string
	TranslateOutputPath string // empty for OCR-only tasks
}

// NeedsTranslation reports whether this page continues into the Translate stage.
func (p PageTask) NeedsTranslation() bool {
	return p.TranslateOutputPath != ""
}

// OutputPath returns the artifact path for the given stage.
func (p PageTask) OutputPath(stage Stage) string {
	if stage == StageTranslate {
		return p.TranslateOutputPath
	}
	return p.OCROutputPath
}

// PageRecord is the persisted per-page status row, keyed by (TaskID, PageNo).
type PageRecord struct {
	TaskID              string    `json:"task_id"`
	PageNo              int       `json:"page_no"`
	ImagePath           string    `json:"image_path"`
	OCRStatus           Status    `json:"ocr_status"`
	OCROutputPath       string    `json:"ocr_output_path,omitempty"`
	TranslateStatus     Status    `json:"translate_status"`
	TranslateOutputPath string    `json:"translate_output_path,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewPageRecord builds the initial record for a page. Translation status is forced to
// Finished for OCR-only tasks so readers never mistake it for outstanding work.
func NewPageRecord(page PageTask, mode ProcessingMode) *PageRecord {
	rec := &PageRecord{
		TaskID:          page.TaskID,
		PageNo:          page.PageNo,
		ImagePath:       page.SourceImagePath,
		OCRStatus:       StatusPending,
		TranslateStatus: StatusPending,
	}
	if !mode.RequiresTranslation() {
		rec.TranslateStatus = StatusFinished
	}
	return rec
}

// Result is the sealed tagged variant carried by a StageOutcome.
// Only Success and Failure implement it.
type Result interface {
	isResult()
}

// Success carries the text produced by a stage.
type Success struct {
	Text string
}

// Failure carries the classified reason a stage did not produce usable text.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (Success) isResult() {}
func (Failure) isResult() {}

// StageOutcome is the transient hand-off value produced by one stage invocation.
type StageOutcome struct {
	Page     PageTask
	Stage    Stage
	Result   Result
	Duration time.Duration
}

// NewSuccess builds a successful outcome.
func NewSuccess(page PageTask, stage Stage, text string) StageOutcome {
	return StageOutcome{Page: page, Stage: stage, Result: Success{Text: text}}
}

// NewFailure builds a failed outcome.
func NewFailure(page PageTask, stage Stage, kind FailureKind, detail string) StageOutcome {
	return StageOutcome{Page: page, Stage: stage, Result: Failure{Kind: kind, Detail: detail}}
}

// Succeeded reports whether the outcome is a Success.
func (o StageOutcome) Succeeded() bool {
	_, ok := o.Result.(Success)
	return ok
}

// Text returns the produced text; ok is false for failures so error text can never
// be mistaken for content.
func (o StageOutcome) Text() (text string, ok bool) {
	s, ok := o.Result.(Success)
	if !ok {
		return "", false
	}
	return s.Text, true
}

// ArtifactText is what gets written to the page's output file: the text on success,
// a synthetic error line on failure.
func (o StageOutcome) ArtifactText() string {
	switch r := o.Result.(type) {
	case Success:
		return r.Text
	case Failure:
		return fmt.Sprintf("[%s error] page %d: %s (%s)", o.Stage, o.Page.PageNo, r.Detail, r.Kind)
	default:
		return fmt.Sprintf("[%s error] page %d: no result", o.Stage, o.Page.PageNo)
	}
}

// Status maps the outcome to the persisted terminal status.
func (o StageOutcome) Status() Status {
	if o.Succeeded() {
		return StatusFinished
	}
	return StatusFailed
}

// Summary aggregates stage outcome counts for one pipeline run.
type Summary struct {
	OCRSuccess       int `json:"ocr_success"`
	OCRFail          int `json:"ocr_fail"`
	TranslateSuccess int `json:"translate_success"`
	TranslateFail    int `json:"translate_fail"`
}

// Record adds an outcome to the counters.
func (s *Summary) Record(o StageOutcome) {
	switch o.Stage {
	case StageOCR:
		if o.Succeeded() {
			s.OCRSuccess++
		} else {
			s.OCRFail++
		}
	case StageTranslate:
		if o.Succeeded() {
			s.TranslateSuccess++
		} else {
			s.TranslateFail++
		}
	}
}

// PromptSet holds the system prompts for both stages.
type PromptSet struct {
	OCRPrompt       string    `json:"ocr_prompt"`
	TranslatePrompt string    `json:"translate_prompt"`
	Operator        string    `json:"operator,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProgressEvent is published every time a page completes a stage.
type ProgressEvent struct {
	TaskID    string      `json:"task_id"`
	Stage     Stage       `json:"stage"`
	PageNo    int         `json:"page_no"`
	Success   bool        `json:"success"`
	Kind      FailureKind `json:"failure_kind,omitempty"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	CurPage   int         `json:"cur_page"`
	Timestamp time.Time   `json:"timestamp"`
}
