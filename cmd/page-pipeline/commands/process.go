package commands

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/orchestrator"
)

var processRerun bool

var processCmd = &cobra.Command{
	Use:   "process <task-id>",
	Short: "Process one task now",
	Long: `Rasterize the task's document, run every page through OCR (and translation for
translate tasks) and build the result archives. Finished or failed tasks are
only processed again with --rerun.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var runCmd = &cobra.Command{
	Use:   "run <pdf>",
	Short: "Submit a PDF and process it immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var runMode string

func init() {
	processCmd.Flags().BoolVar(&processRerun, "rerun", false, "discard previous results and process again")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", string(domain.ModeOCROnly), "only_ocr or translate")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(runCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	var opts []orchestrator.ProcessOption
	if processRerun {
		opts = append(opts, orchestrator.WithRerun())
	}
	return processWithProgress(cmd, args[0], opts...)
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(runMode)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	task, err := a.orchestrator.Submit(ctx, filepath.Base(path), path, mode)
	a.Close()
	if err != nil {
		return err
	}
	ui.Success("Task %s submitted", task.ID)

	return processWithProgress(cmd, task.ID)
}

func processWithProgress(cmd *cobra.Command, taskID string, opts ...orchestrator.ProcessOption) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	spin := ui.NewSpinner("Rasterizing document...")
	bars := ui.NewStageBars(spin.Stop)

	a, err := newApp(ctx, cfg, logger, bars)
	if err != nil {
		return err
	}
	defer a.Close()

	if !ui.Verbose() {
		spin.Start()
	}
	runErr := a.orchestrator.Process(ctx, taskID, opts...)
	spin.Stop()
	bars.Close()

	task, err := a.store.GetTask(context.WithoutCancel(ctx), taskID)
	if err == nil {
		ui.Section("Task")
		printTask(task)
		for _, stage := range []domain.Stage{domain.StageOCR, domain.StageTranslate} {
			if stage == domain.StageTranslate && !task.Mode.RequiresTranslation() {
				continue
			}
			if task.Status == domain.StatusFinished {
				ui.KeyValue(string(stage)+" archive", a.layout.ArchivePath(task, stage))
			}
		}
	}

	if runErr != nil {
		ui.Error("Task %s failed: %v", taskID, runErr)
		return runErr
	}
	ui.Success("Task %s finished", taskID)
	return nil
}
