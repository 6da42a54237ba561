package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/spherical/page-pipeline/internal/domain"
)

// ExportPages writes a new PDF at outPath containing the given 1-based pages of
// inPath, in ascending order with duplicates removed.
func (v *Validator) ExportPages(inPath, outPath string, pages []int) error {
	total, err := v.PageCount(inPath)
	if err != nil {
		return err
	}

	selection, err := pageSelection(pages, total)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return domain.IOError("failed to create export directory", err)
	}

	if err := api.CollectFile(inPath, outPath, selection, relaxedConfig()); err != nil {
		return domain.IOError(fmt.Sprintf("failed to export pages from %s", filepath.Base(inPath)), err)
	}

	v.logger.Info().Str("source", inPath).Str("output", outPath).Strs("pages", selection).Msg("pages exported")
	return nil
}

func pageSelection(pages []int, total int) ([]string, error) {
	if len(pages) == 0 {
		return nil, domain.ValidationError("no pages selected", nil)
	}

	seen := make(map[int]struct{}, len(pages))
	sorted := make([]int, 0, len(pages))
	for _, p := range pages {
		if p < 1 || p > total {
			return nil, domain.ValidationError(fmt.Sprintf("page %d out of range 1-%d", p, total), nil)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)

	selection := make([]string, len(sorted))
	for i, p := range sorted {
		selection[i] = strconv.Itoa(p)
	}
	return selection, nil
}
