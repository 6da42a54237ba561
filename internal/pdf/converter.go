// Package pdf rasterizes source documents into page images and exposes
// page-level document utilities.
package pdf

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/observability"
)

// Converter implements domain.Rasterizer using go-fitz (MuPDF)
type Converter struct {
	dpi       float64
	quality   int
	validator *Validator
	logger    *observability.Logger
}

// ConverterOption configures a Converter
type ConverterOption func(*Converter)

// WithDPI sets the render resolution. Zero keeps the MuPDF default.
func WithDPI(dpi float64) ConverterOption {
	return func(c *Converter) { c.dpi = dpi }
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(quality int) ConverterOption {
	return func(c *Converter) { c.quality = quality }
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) ConverterOption {
	return func(c *Converter) { c.logger = logger }
}

// NewConverter creates a new PDF converter instance
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{
		quality: 90,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.OrNop(c.logger)
	c.validator = NewValidator(c.logger)
	return c
}

var _ domain.Rasterizer = (*Converter)(nil)

// Rasterize renders every page of sourcePath to outputDir as page_NNN.jpg and
// returns the image paths in page order. Any failure aborts the whole call.
func (c *Converter) Rasterize(ctx context.Context, sourcePath, outputDir string) ([]string, error) {
	if err := c.validator.ValidatePDFPath(sourcePath); err != nil {
		return nil, domain.RasterizationError("invalid source document", err)
	}
	if err := c.validator.ValidateQuality(c.quality); err != nil {
		return nil, domain.RasterizationError("invalid rasterizer settings", err)
	}

	declared, err := c.validator.PageCount(sourcePath)
	if err != nil {
		return nil, domain.RasterizationError("unreadable PDF", err)
	}

	doc, err := fitz.New(sourcePath)
	if err != nil {
		return nil, domain.RasterizationError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.RasterizationError("PDF has no pages", nil)
	}
	if pageCount != declared {
		c.logger.Warn().Str("source", sourcePath).Int("pdfcpu_pages", declared).Int("fitz_pages", pageCount).
			Msg("page count mismatch, rendering what MuPDF reports")
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, domain.RasterizationError("failed to create image directory", err)
	}

	log := c.logger.WithOperation("rasterize")
	log.Debug().Str("source", sourcePath).Int("pages", pageCount).Str("output_dir", outputDir).Msg("rasterizing document")

	paths := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, domain.RasterizationError("rasterization canceled", ctx.Err())
		default:
		}

		path, err := c.renderPage(doc, i, outputDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
		observability.PagesRasterized.Inc()
	}

	log.Info().Str("source", sourcePath).Int("pages", len(paths)).Msg("document rasterized")
	return paths, nil
}

func (c *Converter) renderPage(doc *fitz.Document, index int, outputDir string) (string, error) {
	pageNo := index + 1

	var (
		rgba *image.RGBA
		err  error
	)
	if c.dpi > 0 {
		rgba, err = doc.ImageDPI(index, c.dpi)
	} else {
		rgba, err = doc.Image(index)
	}
	if err != nil {
		return "", domain.RasterizationError(fmt.Sprintf("failed to render page %d", pageNo), err)
	}

	outputPath := filepath.Join(outputDir, ImageName(pageNo))
	f, err := os.Create(outputPath)
	if err != nil {
		return "", domain.RasterizationError(fmt.Sprintf("failed to create image for page %d", pageNo), err)
	}

	err = jpeg.Encode(f, rgba, &jpeg.Options{Quality: c.quality})
	closeErr := f.Close()
	if err != nil {
		return "", domain.RasterizationError(fmt.Sprintf("failed to encode page %d as JPG", pageNo), err)
	}
	if closeErr != nil {
		return "", domain.RasterizationError(fmt.Sprintf("failed to write page %d", pageNo), closeErr)
	}

	return outputPath, nil
}

// ImageName is the file name of the rasterized image for a 1-based page number.
func ImageName(pageNo int) string {
	return fmt.Sprintf("page_%03d.jpg", pageNo)
}
