// Package archive packages per-page result files into downloadable zips.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/spherical/page-pipeline/internal/domain"
)

// fixedModTime is stamped on every entry so rebuilding yields identical bytes.
var fixedModTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ZipBuilder implements domain.ArchiveBuilder with deterministic output:
// entries in lexical order, fixed timestamps, maximum deflate level.
type ZipBuilder struct {
	level int
}

var _ domain.ArchiveBuilder = (*ZipBuilder)(nil)

// NewZipBuilder returns a builder using flate.BestCompression.
func NewZipBuilder() *ZipBuilder {
	return &ZipBuilder{level: flate.BestCompression}
}

// BuildArchive zips every regular file under sourceDir into destZipPath.
// The archive is written to a temporary file and renamed into place.
func (b *ZipBuilder) BuildArchive(sourceDir, destZipPath string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return domain.ArchivingError(fmt.Sprintf("source directory %s", sourceDir), err)
	}
	if !info.IsDir() {
		return domain.ArchivingError(fmt.Sprintf("%s is not a directory", sourceDir), nil)
	}

	if err := os.MkdirAll(filepath.Dir(destZipPath), 0o755); err != nil {
		return domain.ArchivingError("create archive directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destZipPath), ".archive-*.zip")
	if err != nil {
		return domain.ArchivingError("create temporary archive", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := b.write(tmp, sourceDir); err != nil {
		tmp.Close()
		return domain.ArchivingError(fmt.Sprintf("write archive %s", filepath.Base(destZipPath)), err)
	}
	if err := tmp.Close(); err != nil {
		return domain.ArchivingError("close temporary archive", err)
	}

	if err := os.Rename(tmpPath, destZipPath); err != nil {
		return domain.ArchivingError("move archive into place", err)
	}
	return nil
}

func (b *ZipBuilder) write(w io.Writer, sourceDir string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, b.level)
	})

	// WalkDir visits entries in lexical order.
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		header := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   zip.Deflate,
			Modified: fixedModTime,
		}
		header.SetMode(0o644)

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}

	return zw.Close()
}
