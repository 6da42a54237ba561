package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
)

var (
	statusFilter string
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "List tasks, or show one task's pages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			var filter *domain.Status
			if statusFilter != "" {
				s, err := domain.ParseStatus(statusFilter)
				if err != nil {
					return err
				}
				filter = &s
			}
			tasks, err := store.ListTasks(ctx, filter)
			if err != nil {
				return err
			}
			if statusJSON {
				return json.NewEncoder(os.Stdout).Encode(tasks)
			}

			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				rows = append(rows, []string{
					t.ID, t.FileName, string(t.Mode), ui.StatusText(t.Status.String()),
					fmt.Sprintf("%d/%d", t.CurPage, t.PageCount),
					t.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			ui.Table([]string{"TASK", "FILE", "MODE", "STATUS", "PAGES", "CREATED"}, rows)
			return nil
		}

		task, err := store.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		records, err := store.ListPageRecords(ctx, task.ID)
		if err != nil {
			return err
		}
		if statusJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"task": task, "pages": records})
		}

		ui.Section("Task")
		printTask(task)
		ui.Section("Pages")
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			translate := ui.StatusText(rec.TranslateStatus.String())
			if !task.Mode.RequiresTranslation() {
				translate = "-"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", rec.PageNo),
				ui.StatusText(rec.OCRStatus.String()),
				translate,
				rec.OCROutputPath,
			})
		}
		ui.Table([]string{"PAGE", "OCR", "TRANSLATE", "OUTPUT"}, rows)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only list tasks with this status")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}
