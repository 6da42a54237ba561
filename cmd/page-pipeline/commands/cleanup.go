package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <task-id>...",
	Short: "Remove the page images of finished or failed tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, id := range args {
			if err := a.orchestrator.Cleanup(ctx, id); err != nil {
				ui.Error("%s: %v", id, err)
				failed++
				continue
			}
			ui.Success("Removed page images for %s", id)
		}
		if failed > 0 {
			ui.Warning("%d task(s) not cleaned", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
