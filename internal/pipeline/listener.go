package pipeline

import "github.com/spherical/page-pipeline/internal/domain"

// Listener observes progress. OnProgress is called from the coordinator's
// OCR and Translate consumers concurrently and must not block for long.
type Listener interface {
	OnProgress(ev domain.ProgressEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev domain.ProgressEvent)

// OnProgress calls f.
func (f ListenerFunc) OnProgress(ev domain.ProgressEvent) {
	f(ev)
}
