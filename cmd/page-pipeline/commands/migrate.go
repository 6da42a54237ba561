package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := storage.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := storage.NewMigrator(db, cfg.Database.Driver).Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			ui.Info("Database is up to date")
			return nil
		}
		for _, name := range applied {
			ui.Step("applied %s", name)
		}
		ui.Success("%d migration(s) applied", len(applied))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := storage.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := storage.NewMigrator(db, cfg.Database.Driver).Status(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, status.Total)
		for _, name := range status.Applied {
			rows = append(rows, []string{name, ui.StatusText("finished")})
		}
		for _, name := range status.Pending {
			rows = append(rows, []string{name, ui.StatusText("pending")})
		}
		ui.Table([]string{"MIGRATION", "STATE"}, rows)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
