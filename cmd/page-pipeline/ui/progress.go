package ui

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar counts tasks finished by a sweep.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar renders an empty bar on stderr immediately so the sweep is
// visible before the first task finishes.
func NewProgressBar(total int64, label string) *ProgressBar {
	return &ProgressBar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWidth(36),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetItsString("task"),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { _, _ = os.Stderr.WriteString("\n") }),
	)}
}

func (p *ProgressBar) Add(n int) { _ = p.bar.Add(n) }
func (p *ProgressBar) Finish() { _ = p.bar.Finish() }

// Spinner covers rasterization, which reports no per-page progress.
type Spinner struct {
	s *spinner.Spinner
}

func NewSpinner(label string) *Spinner {
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + label
	return &Spinner{s: s}
}

func (s *Spinner) Start() { s.s.Start() }

// Stop clears the line; repeated calls are no-ops.
func (s *Spinner) Stop() { s.s.Stop() }
