package state

import (
	"context"
	"sync"
	"time"
)

// RunWatchdog evaluates the station-silent rule once per send interval
// until the context is cancelled.
func (e *Engine) RunWatchdog(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(e.interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if e.CheckSilence(now) {
					e.logger.Errorf("station silent past restart grace, restart requested")
				}
			}
		}
	}()
}
