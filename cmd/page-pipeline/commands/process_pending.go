package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
	"github.com/spherical/page-pipeline/internal/pipeline"
)

var processPendingCmd = &cobra.Command{
	Use:   "process-pending",
	Short: "Process every pending task",
	Long: `Process all pending tasks, oldest first, running up to pipeline.max_concurrent_tasks
at a time. A failing task does not stop the others.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		var bar *ui.ProgressBar
		onTaskDone := pipeline.ListenerFunc(func(ev domain.ProgressEvent) {
			// exactly one event per run reports every page complete
			if bar != nil && ev.Completed == ev.Total {
				bar.Add(1)
			}
		})

		a, err := newApp(ctx, cfg, logger, onTaskDone)
		if err != nil {
			return err
		}
		defer a.Close()

		pending := domain.StatusPending
		tasks, err := a.store.ListTasks(ctx, &pending)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			ui.Info("No pending tasks")
			return nil
		}

		if !ui.Verbose() {
			bar = ui.NewProgressBar(int64(len(tasks)), "pending tasks")
		}
		report, err := a.orchestrator.ProcessPending(ctx)
		if bar != nil {
			bar.Finish()
		}

		ui.Section("Sweep")
		ui.KeyValue("Found", report.Found)
		ui.KeyValue("Finished", report.Finished)
		ui.KeyValue("Failed", report.Failed)
		ui.KeyValue("Skipped", report.Skipped)

		ids := make([]string, 0, len(report.Errors))
		for id := range report.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			ui.Error("%s: %s", id, report.Errors[id])
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(processPendingCmd)
}
