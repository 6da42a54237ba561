package layout

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/domain"
)

func testLayout() *Layout {
	return New(config.PathsConfig{
		ImagesDir:       "/data/images",
		OCRDir:          "/data/ocr",
		TranslateDir:    "/data/translate",
		OCRZipDir:       "/data/ocr-zip",
		TranslateZipDir: "/data/translate-zip",
	})
}

func testTask(mode domain.ProcessingMode) *domain.Task {
	// 23:30 in UTC-5 is the next UTC day.
	loc := time.FixedZone("EST", -5*3600)
	return &domain.Task{
		ID:        "t1",
		FileName:  "report.final.pdf",
		Mode:      mode,
		CreatedAt: time.Date(2026, 3, 9, 23, 30, 0, 0, loc),
	}
}

func TestTaskDir_UsesUTCDate(t *testing.T) {
	assert.Equal(t, filepath.Join("/root", "2026-03-10", "task_t1"), TaskDir("/root", testTask(domain.ModeOCROnly)))
}

func TestPageFileName(t *testing.T) {
	assert.Equal(t, "page_001.txt", PageFileName(1))
	assert.Equal(t, "page_1000.txt", PageFileName(1000))
}

func TestPageTasks(t *testing.T) {
	l := testLayout()
	images := []string{"/img/a.jpg", "/img/b.jpg", "/img/c.jpg"}

	t.Run("translate", func(t *testing.T) {
		pages := l.PageTasks(testTask(domain.ModeOCRAndTranslate), images)
		require.Len(t, pages, 3)
		for i, p := range pages {
			assert.Equal(t, i+1, p.PageNo)
			assert.Equal(t, images[i], p.SourceImagePath)
			assert.True(t, p.NeedsTranslation())
		}
		assert.Equal(t, "/data/ocr/2026-03-10/task_t1/page_002.txt", pages[1].OCROutputPath)
		assert.Equal(t, "/data/translate/2026-03-10/task_t1/page_003.txt", pages[2].TranslateOutputPath)
	})

	t.Run("ocr only", func(t *testing.T) {
		pages := l.PageTasks(testTask(domain.ModeOCROnly), images)
		for _, p := range pages {
			assert.Empty(t, p.TranslateOutputPath)
			assert.False(t, p.NeedsTranslation())
		}
	})
}

func TestArchives(t *testing.T) {
	l := testLayout()

	ocrOnly := l.Archives(testTask(domain.ModeOCROnly))
	require.Len(t, ocrOnly, 1)
	assert.Equal(t, "/data/ocr-zip/2026-03-10/task_t1/report.final_ocr_result.zip", ocrOnly[0].ZipPath)
	assert.Equal(t, "/data/ocr-zip/2026-03-10/task_t1/package", ocrOnly[0].StagingDir)
	assert.Equal(t, "/data/ocr/2026-03-10/task_t1", ocrOnly[0].SourceDir)

	both := l.Archives(testTask(domain.ModeOCRAndTranslate))
	require.Len(t, both, 2)
	assert.Equal(t, domain.StageTranslate, both[1].Stage)
	assert.Equal(t, "/data/translate-zip/2026-03-10/task_t1/report.final_translate_result.zip", both[1].ZipPath)
	assert.Equal(t, both[1].ZipPath, l.ArchivePath(testTask(domain.ModeOCRAndTranslate), domain.StageTranslate))
}
