package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
)

var submitMode string

var submitCmd = &cobra.Command{
	Use:   "submit <pdf>...",
	Short: "Register PDFs as pending tasks",
	Long:  "Create one pending task per PDF. Pending tasks are picked up by process-pending or serve.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(submitMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var rows [][]string
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			task, err := a.orchestrator.Submit(ctx, filepath.Base(path), path, mode)
			if err != nil {
				ui.Error("%s: %v", arg, err)
				continue
			}
			rows = append(rows, []string{task.ID, task.FileName, string(task.Mode)})
		}

		if len(rows) > 0 {
			ui.Table([]string{"TASK", "FILE", "MODE"}, rows)
			ui.Success("%d task(s) submitted", len(rows))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitMode, "mode", "m", string(domain.ModeOCROnly), "only_ocr or translate")
	rootCmd.AddCommand(submitCmd)
}
