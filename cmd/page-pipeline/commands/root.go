package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "page-pipeline",
	Short: "Rasterize PDFs and run every page through OCR and translation",
	Long: `page-pipeline turns a PDF into page images, recognizes the text on each page with a
vision model, optionally translates it, and packages the per-page results into zip archives.

Tasks are recorded in a database so they can be submitted by one process and
processed by another, inspected while running, and re-run after failures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		output, err := logOutput(cfg)
		if err != nil {
			return err
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      cfg.Observability.LogFormat,
			Output:      output,
			ServiceName: cfg.Observability.ServiceName,
		})
		return nil
	},
}

// logOutput is stdout, plus the log file when log_to_file is set. The file
// stays open for the life of the process.
func logOutput(cfg *config.Config) (io.Writer, error) {
	if !cfg.Observability.LogToFile {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.Paths.LogDir, "page-pipeline.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zerolog.MultiLevelWriter(os.Stdout, f), nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
