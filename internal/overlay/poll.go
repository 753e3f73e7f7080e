package overlay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// every runs fn immediately and then on each tick until ctx is cancelled.
func every(ctx context.Context, clock clockwork.Clock, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}
