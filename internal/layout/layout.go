// Package layout computes where the pipeline reads and writes files.
// Every path is a pure function of the configured roots and the task, so
// re-running a task addresses the same files.
package layout

import (
	"fmt"
	"path/filepath"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

// packageDirName is the staging directory archives are built from.
const packageDirName = "package"

// Layout resolves output locations from the configured directory roots.
type Layout struct {
	ImagesRoot       string
	OCRRoot          string
	TranslateRoot    string
	OCRZipRoot       string
	TranslateZipRoot string
}

// New builds a Layout from path configuration.
func New(paths config.PathsConfig) *Layout {
	return &Layout{
		ImagesRoot:       paths.ImagesDir,
		OCRRoot:          paths.OCRDir,
		TranslateRoot:    paths.TranslateDir,
		OCRZipRoot:       paths.OCRZipDir,
		TranslateZipRoot: paths.TranslateZipDir,
	}
}

// TaskDir is {root}/{YYYY-MM-DD}/task_{id}.
func TaskDir(root string, task *domain.Task) string {
	return filepath.Join(root, task.DateStamp(), "task_"+task.ID)
}

// PageFileName is page_NNN.txt.
func PageFileName(pageNo int) string {
	return fmt.Sprintf("page_%03d.txt", pageNo)
}

// ImagesDir is where the rasterizer writes this task's page images.
func (l *Layout) ImagesDir(task *domain.Task) string {
	return TaskDir(l.ImagesRoot, task)
}

// StageDir is the per-task artifact directory for a stage.
func (l *Layout) StageDir(task *domain.Task, stage domain.Stage) string {
	if stage == domain.StageTranslate {
		return TaskDir(l.TranslateRoot, task)
	}
	return TaskDir(l.OCRRoot, task)
}

// PageTasks builds one PageTask per image, numbered from 1 in slice order.
// TranslateOutputPath stays empty for OCR-only tasks.
func (l *Layout) PageTasks(task *domain.Task, imagePaths []string) []domain.PageTask {
	ocrDir := l.StageDir(task, domain.StageOCR)
	translateDir := l.StageDir(task, domain.StageTranslate)

	pages := make([]domain.PageTask, len(imagePaths))
	for i, img := range imagePaths {
		pageNo := i + 1
		pages[i] = domain.PageTask{
			TaskID:          task.ID,
			PageNo:          pageNo,
			SourceImagePath: img,
			OCROutputPath:   filepath.Join(ocrDir, PageFileName(pageNo)),
		}
		if task.Mode.RequiresTranslation() {
			pages[i].TranslateOutputPath = filepath.Join(translateDir, PageFileName(pageNo))
		}
	}
	return pages
}

// Archive describes one result archive and the directory it packages.
type Archive struct {
	Stage      domain.Stage
	SourceDir  string
	StagingDir string
	ZipPath    string
}

// Archives lists the archives a task's mode produces: always OCR, plus
// Translate for translate tasks.
func (l *Layout) Archives(task *domain.Task) []Archive {
	archives := []Archive{l.archive(task, domain.StageOCR, l.OCRZipRoot, "ocr")}
	if task.Mode.RequiresTranslation() {
		archives = append(archives, l.archive(task, domain.StageTranslate, l.TranslateZipRoot, "translate"))
	}
	return archives
}

// ArchivePath returns the zip location for a stage regardless of whether it exists.
func (l *Layout) ArchivePath(task *domain.Task, stage domain.Stage) string {
	if stage == domain.StageTranslate {
		return l.archive(task, stage, l.TranslateZipRoot, "translate").ZipPath
	}
	return l.archive(task, stage, l.OCRZipRoot, "ocr").ZipPath
}

func (l *Layout) archive(task *domain.Task, stage domain.Stage, zipRoot, suffix string) Archive {
	zipDir := TaskDir(zipRoot, task)
	return Archive{
		Stage:      stage,
		SourceDir:  l.StageDir(task, stage),
		StagingDir: filepath.Join(zipDir, packageDirName),
		ZipPath:    filepath.Join(zipDir, fmt.Sprintf("%s_%s_result.zip", task.FileBase(), suffix)),
	}
}
