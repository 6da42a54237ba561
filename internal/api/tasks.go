package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/observability"
	"github.com/spherical/page-pipeline/internal/orchestrator"
)

// TaskHandler serves task submission, inspection and downloads.
type TaskHandler struct {
	store  domain.RecordStore
	runner TaskRunner
	layout *layout.Layout
	cfg    RouterConfig
	jobs   *Jobs
	logger *observability.Logger
}

// CreateTaskRequest is the JSON form of a submission for a file already on
// the server.
type CreateTaskRequest struct {
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name,omitempty"`
	Mode       string `json:"mode"`
}

// StageCounts counts page records by status for one stage.
type StageCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Finished   int `json:"finished"`
	Failed     int `json:"failed"`
}

func (c *StageCounts) add(s domain.Status) {
	switch s {
	case domain.StatusPending:
		c.Pending++
	case domain.StatusProcessing:
		c.Processing++
	case domain.StatusFinished:
		c.Finished++
	case domain.StatusFailed:
		c.Failed++
	}
}

// TaskView is the task resource.
type TaskView struct {
	*domain.Task
	StatusName string                        `json:"status_name"`
	Stages     map[domain.Stage]*StageCounts `json:"stages,omitempty"`
	Archives   map[domain.Stage]string       `json:"archives,omitempty"`
}

// List handles GET /tasks, optionally filtered by ?status=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter *domain.Status
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := domain.ParseStatus(v)
		if err != nil {
			writeDomainError(w, "invalid status filter", err)
			return
		}
		filter = &s
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "failed to list tasks", err)
		return
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, TaskView{Task: t, StatusName: t.Status.String()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": views, "count": len(views)})
}

// Create handles POST /tasks. A multipart body uploads the PDF in the "file"
// field; a JSON body names a file already readable by the server.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)

	var (
		fileName, sourcePath string
		mode                 domain.ProcessingMode
		err                  error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		fileName, sourcePath, mode, err = h.receiveUpload(w, r)
	case "application/json", "":
		var req CreateTaskRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		sourcePath, mode = req.SourcePath, domain.ProcessingMode(req.Mode)
		fileName = req.FileName
		if fileName == "" {
			fileName = filepath.Base(sourcePath)
		}
		if sourcePath == "" {
			err = domain.ValidationError("source_path is required", nil)
		}
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type", mediaType)
		return
	}
	if err != nil {
		writeDomainError(w, "invalid submission", err)
		return
	}
	if mode == "" {
		mode = domain.ModeOCROnly
	}

	task, err := h.runner.Submit(ctx, fileName, sourcePath, mode)
	if err != nil {
		writeDomainError(w, "failed to create task", err)
		return
	}

	if h.cfg.ProcessOnSubmit {
		h.start(task.ID, false)
	}

	log.Info().Str("task_id", task.ID).Str("file", fileName).Str("mode", string(mode)).Msg("task created")
	writeJSON(w, http.StatusAccepted, TaskView{Task: task, StatusName: task.Status.String()})
}

func (h *TaskHandler) receiveUpload(w http.ResponseWriter, r *http.Request) (string, string, domain.ProcessingMode, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", "", "", domain.ValidationError("invalid multipart body", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", "", domain.ValidationError("file field is required", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", "", "", domain.ValidationError(fmt.Sprintf("%s is not a PDF", name), nil)
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", "", "", domain.IOError("create upload directory", err)
	}
	dest := filepath.Join(h.cfg.UploadDir, uuid.NewString()+"_"+name)
	out, err := os.Create(dest)
	if err != nil {
		return "", "", "", domain.IOError("store upload", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		return "", "", "", domain.IOError("store upload", err)
	}
	if err := out.Close(); err != nil {
		return "", "", "", domain.IOError("store upload", err)
	}

	return name, dest, domain.ProcessingMode(r.FormValue("mode")), nil
}

// Get handles GET /tasks/{taskId}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	records, err := h.store.ListPageRecords(r.Context(), task.ID)
	if err != nil {
		writeDomainError(w, "failed to load pages", err)
		return
	}

	view := TaskView{
		Task:       task,
		StatusName: task.Status.String(),
		Stages:     map[domain.Stage]*StageCounts{domain.StageOCR: {}},
		Archives:   map[domain.Stage]string{},
	}
	if task.Mode.RequiresTranslation() {
		view.Stages[domain.StageTranslate] = &StageCounts{}
	}
	for _, rec := range records {
		view.Stages[domain.StageOCR].add(rec.OCRStatus)
		if c, ok := view.Stages[domain.StageTranslate]; ok {
			c.add(rec.TranslateStatus)
		}
	}
	for _, a := range h.layout.Archives(task) {
		if _, err := os.Stat(a.ZipPath); err == nil {
			view.Archives[a.Stage] = fmt.Sprintf("/api/v1/tasks/%s/archive?stage=%s", task.ID, a.Stage)
		}
	}

	writeJSON(w, http.StatusOK, view)
}

// Pages handles GET /tasks/{taskId}/pages.
func (h *TaskHandler) Pages(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	records, err := h.store.ListPageRecords(r.Context(), task.ID)
	if err != nil {
		writeDomainError(w, "failed to load pages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": task.ID, "pages": records})
}

// Rerun handles POST /tasks/{taskId}/rerun.
func (h *TaskHandler) Rerun(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	if task.Status == domain.StatusProcessing {
		writeError(w, http.StatusConflict, "task is already processing", "")
		return
	}

	h.start(task.ID, task.Status.IsTerminal())
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": "accepted"})
}

// Archive handles GET /tasks/{taskId}/archive?stage=ocr|translate.
func (h *TaskHandler) Archive(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	stage := domain.Stage(r.URL.Query().Get("stage"))
	if stage == "" {
		stage = domain.StageOCR
	}
	if stage != domain.StageOCR && stage != domain.StageTranslate {
		writeError(w, http.StatusBadRequest, "invalid stage", string(stage))
		return
	}
	if stage == domain.StageTranslate && !task.Mode.RequiresTranslation() {
		writeError(w, http.StatusNotFound, "task has no translate archive", "")
		return
	}
	if task.Status != domain.StatusFinished {
		writeError(w, http.StatusConflict, "task is not finished", task.Status.String())
		return
	}

	path := h.layout.ArchivePath(task, stage)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "archive not found", "")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read archive", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// PageArtifact handles GET /tasks/{taskId}/pages/{pageNo}/{artifact}, where
// artifact is image, ocr or translate. A failed page serves its error text.
func (h *TaskHandler) PageArtifact(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	pageNo, err := strconv.Atoi(chi.URLParam(r, "pageNo"))
	if err != nil || pageNo < 1 {
		writeError(w, http.StatusBadRequest, "invalid page number", chi.URLParam(r, "pageNo"))
		return
	}

	records, err := h.store.ListPageRecords(r.Context(), task.ID)
	if err != nil {
		writeDomainError(w, "failed to load pages", err)
		return
	}
	var rec *domain.PageRecord
	for _, candidate := range records {
		if candidate.PageNo == pageNo {
			rec = candidate
			break
		}
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "page not found", strconv.Itoa(pageNo))
		return
	}

	var path, contentType string
	var status domain.Status
	switch artifact := chi.URLParam(r, "artifact"); artifact {
	case "image":
		path, contentType, status = rec.ImagePath, "image/jpeg", domain.StatusFinished
	case string(domain.StageOCR):
		path, contentType, status = rec.OCROutputPath, "text/plain; charset=utf-8", rec.OCRStatus
	case string(domain.StageTranslate):
		if !task.Mode.RequiresTranslation() {
			writeError(w, http.StatusNotFound, "task has no translate output", "")
			return
		}
		path, contentType, status = rec.TranslateOutputPath, "text/plain; charset=utf-8", rec.TranslateStatus
	default:
		writeError(w, http.StatusBadRequest, "invalid artifact", artifact)
		return
	}

	if !status.IsTerminal() {
		writeError(w, http.StatusConflict, "page output not ready", status.String())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "page output not found", "")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read page output", err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Page-Status", status.String())
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (h *TaskHandler) loadTask(w http.ResponseWriter, r *http.Request) (*domain.Task, bool) {
	task, err := h.store.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeDomainError(w, "task not found", err)
		return nil, false
	}
	return task, true
}

// start runs a task in the background, detached from the request.
func (h *TaskHandler) start(taskID string, rerun bool) {
	var opts []orchestrator.ProcessOption
	if rerun {
		opts = append(opts, orchestrator.WithRerun())
	}
	h.jobs.Go(func() {
		err := h.runner.Process(context.Background(), taskID, opts...)
		switch {
		case errors.Is(err, orchestrator.ErrTaskBusy):
			h.logger.Info().Str("task_id", taskID).Msg("task already picked up by another run")
		case err != nil:
			h.logger.Error().Str("task_id", taskID).Err(err).Msg("background task run failed")
		}
	})
}
