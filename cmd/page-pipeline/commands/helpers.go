package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical/page-pipeline/cmd/page-pipeline/ui"
	"github.com/spherical/page-pipeline/internal/domain"
)

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func parseMode(v string) (domain.ProcessingMode, error) {
	mode := domain.ProcessingMode(v)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", v, domain.ModeOCROnly, domain.ModeOCRAndTranslate)
	}
	return mode, nil
}

func printTask(task *domain.Task) {
	ui.KeyValue("Task", task.ID)
	ui.KeyValue("File", task.FileName)
	ui.KeyValue("Mode", task.Mode)
	ui.KeyValue("Status", ui.StatusText(task.Status.String()))
	ui.KeyValue("Pages", fmt.Sprintf("%d / %d", task.CurPage, task.PageCount))
	ui.KeyValue("Created", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
}
