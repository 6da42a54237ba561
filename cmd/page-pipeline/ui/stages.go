package ui

import (
	"os"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/spherical/page-pipeline/internal/domain"
)

// StageBars draws one bar per stage and advances them from progress events.
// A stage's bar is added on its first event and sized from the event total,
// since the page count is only known once the document has been rasterized.
// It satisfies pipeline.Listener.
type StageBars struct {
	onFirst func()

	mu       sync.Mutex
	progress *mpb.Progress
	bars     map[domain.Stage]*mpb.Bar
}

// NewStageBars creates an empty set of bars. onFirst, if set, is called
// before anything is drawn.
func NewStageBars(onFirst func()) *StageBars {
	return &StageBars{onFirst: onFirst, bars: map[domain.Stage]*mpb.Bar{}}
}

// OnProgress advances the bar for ev's stage.
func (s *StageBars) OnProgress(ev domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress == nil {
		if s.onFirst != nil {
			s.onFirst()
		}
		s.progress = mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr))
	}

	bar, ok := s.bars[ev.Stage]
	if !ok {
		bar = s.progress.AddBar(int64(ev.Total),
			mpb.PrependDecorators(
				decor.Name(string(ev.Stage), decor.WC{W: len("translate") + 1, C: decor.DSyncSpaceR}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
			),
		)
		s.bars[ev.Stage] = bar
	}
	bar.Increment()
}

// Close aborts unfinished bars and waits for rendering to stop.
func (s *StageBars) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress == nil {
		return
	}
	for _, bar := range s.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	s.progress.Wait()
}
