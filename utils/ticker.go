package utils

import (
	"context"

	"github.com/benbjohnson/clock"
)

// runTicker calls f on every tick until ctx is done. Ticks that arrive while f runs are coalesced.
func runTicker(ctx context.Context, ticker *clock.Ticker, f func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f(ctx)
		}
	}
}
