// Package ratelimit enforces minimum spacing between requests to each
// external provider. Providers throttle or ban clients that fan out, so
// the synchronizer calls them from a single loop and this limiter keeps
// consecutive calls at least one configured interval apart per source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces out requests per named source. It never denies a
// request, only delays it; grants per source are strictly serialized.
type Limiter struct {
	mu      sync.Mutex
	sources map[string]*rate.Limiter
}

// New creates a Limiter with the given minimum interval per source.
func New(intervals map[string]time.Duration) *Limiter {
	sources := make(map[string]*rate.Limiter, len(intervals))
	for source, interval := range intervals {
		sources[source] = newSource(interval)
	}
	return &Limiter{sources: sources}
}

func newSource(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	// Burst 1: at most one grant per interval, no catch-up bursts.
	return rate.NewLimiter(rate.Every(interval), 1)
}

// SetInterval registers or replaces the minimum interval for a source.
func (l *Limiter) SetInterval(source string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[source] = newSource(interval)
}

// Wait blocks until the source's minimum interval has elapsed since the
// previous grant, or until ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	l.mu.Lock()
	lim, ok := l.sources[source]
	if !ok {
		// Unknown sources pass through unthrottled but are remembered so
		// the zero interval is stable.
		lim = rate.NewLimiter(rate.Inf, 1)
		l.sources[source] = lim
	}
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", source, err)
	}
	return nil
}
