package capture

import (
	"errors"
	"sync"
	"time"
)

// Ticker drives a push-mode backend: it calls grab at a fixed interval on
// its own goroutine until Stop is called or grab returns false.
type Ticker struct {
	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (t *Ticker) Start(interval time.Duration, grab func() bool) error {
	if interval <= 0 {
		return errors.New("capture: non-positive tick interval")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return errors.New("capture: ticker already running")
	}
	stop := make(chan struct{})
	t.stop = stop
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !grab() {
					return
				}
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for the goroutine to exit. It must not be
// called from inside grab.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	t.wg.Wait()
}
