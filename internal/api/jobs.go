package api

import (
	"context"
	"sync"
)

// Jobs tracks task runs started by API requests.
type Jobs struct {
	wg sync.WaitGroup
}

// Go runs fn in the background.
func (j *Jobs) Go(fn func()) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		fn()
	}()
}

// Wait blocks until every background run returns or ctx is done.
func (j *Jobs) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
