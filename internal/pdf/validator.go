package pdf

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

const (
	largeSourceBytes = 100 << 20
	minQuality       = 1
	maxQuality       = 100
)

// Validator checks source documents before they reach the rasterizer and
// reads their structure with pdfcpu.
type Validator struct {
	logger *observability.Logger
}

func NewValidator(logger *observability.Logger) *Validator {
	return &Validator{logger: observability.OrNop(logger)}
}

// ValidatePDFPath accepts an existing regular file with a .pdf extension.
// Very large sources only produce a warning.
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("source path is empty", nil)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.ValidationError("source does not exist: "+path, err)
	case err != nil:
		return domain.ValidationError("cannot stat source: "+path, err)
	case !info.Mode().IsRegular():
		return domain.ValidationError("source is not a regular file: "+path, nil)
	}

	if ext := filepath.Ext(path); !strings.EqualFold(ext, ".pdf") {
		return domain.ValidationError("source must have a .pdf extension, got "+quoteExt(ext), nil)
	}

	if info.Size() > largeSourceBytes {
		v.logger.Warn().Str("path", path).Int64("bytes", info.Size()).Msg("large source document")
	}
	return nil
}

func quoteExt(ext string) string {
	if ext == "" {
		return "none"
	}
	return ext
}

// ValidateQuality checks the JPEG quality used for page images.
func (v *Validator) ValidateQuality(quality int) error {
	if quality < minQuality || quality > maxQuality {
		return domain.ValidationError("image quality out of range 1-100", nil)
	}
	return nil
}

// PageCount reads the page tree in relaxed mode, so slightly malformed
// documents that still render are accepted.
func (v *Validator) PageCount(path string) (int, error) {
	if err := v.ValidatePDFPath(path); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, domain.ValidationError("cannot open source", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, relaxedConfig())
	if err != nil {
		return 0, domain.ValidationError("unreadable PDF structure", err)
	}
	return n, nil
}

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}
