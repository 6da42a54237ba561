package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/pdf"
)

var (
	exportPages  string
	exportOutput string
)

var exportPagesCmd = &cobra.Command{
	Use:   "export-pages <pdf>",
	Short: "Write selected pages of a PDF to a new PDF",
	Example: `  page-pipeline export-pages manual.pdf --pages 1,3-5
  page-pipeline export-pages manual.pdf --pages 2 -o page2.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, err := parsePageList(exportPages)
		if err != nil {
			return err
		}

		in := args[0]
		out := exportOutput
		if out == "" {
			base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
			out = filepath.Join(cfg.Paths.ExportDir, fmt.Sprintf("%s_pages.pdf", base))
		}

		if err := pdf.NewValidator(logger).ExportPages(in, out, pages); err != nil {
			return err
		}
		ui.Success("Wrote %d page(s) to %s", len(pages), out)
		return nil
	},
}

// parsePageList parses "1,3-5" into page numbers.
func parsePageList(list string) ([]int, error) {
	var pages []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || last < first {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
		}
		for p := first; p <= last; p++ {
			pages = append(pages, p)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}
	return pages, nil
}

func init() {
	exportPagesCmd.Flags().StringVarP(&exportPages, "pages", "p", "", "pages to export, e.g. 1,3-5")
	exportPagesCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output PDF path")
	_ = exportPagesCmd.MarkFlagRequired("pages")
	rootCmd.AddCommand(exportPagesCmd)
}
