package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/observability"
)

// Packager stages a stage's page files into a package directory, zips it and
// removes the staging directory.
type Packager struct {
	builder domain.ArchiveBuilder
	logger  *observability.Logger
}

// NewPackager creates a packager around an ArchiveBuilder.
func NewPackager(builder domain.ArchiveBuilder, logger *observability.Logger) *Packager {
	return &Packager{builder: builder, logger: observability.OrNop(logger)}
}

// Package builds a single archive. An existing zip at the destination is replaced.
func (p *Packager) Package(a layout.Archive) error {
	if err := os.RemoveAll(a.StagingDir); err != nil {
		return domain.ArchivingError("clear staging directory", err)
	}
	defer func() {
		if err := os.RemoveAll(a.StagingDir); err != nil {
			p.logger.Warn().Str("dir", a.StagingDir).Err(err).Msg("failed to remove staging directory")
		}
	}()

	n, err := stagePageFiles(a.SourceDir, a.StagingDir)
	if err != nil {
		return domain.ArchivingError(fmt.Sprintf("stage %s results", a.Stage), err)
	}

	if err := p.builder.BuildArchive(a.StagingDir, a.ZipPath); err != nil {
		return err
	}

	p.logger.Info().Str("stage", string(a.Stage)).Str("archive", a.ZipPath).Int("files", n).Msg("archive built")
	return nil
}

// PackageAll builds every archive in order and stops at the first failure.
func (p *Packager) PackageAll(archives []layout.Archive) error {
	for _, a := range archives {
		if err := p.Package(a); err != nil {
			return err
		}
	}
	return nil
}

func stagePageFiles(sourceDir, stagingDir string) (int, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		if err := copyFile(filepath.Join(sourceDir, e.Name()), filepath.Join(stagingDir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
