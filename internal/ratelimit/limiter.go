// Package ratelimit implements fixed-window request counting per
// workspace. Counters live in the shared store so every gateway instance
// sees the same budget; the window boundary math stays in-process.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatehousehq/gatehouse/internal/store"
)

// DefaultWindow is the counting window; the per-key ceiling is expressed
// in requests per minute, so the window is fixed at 60 seconds.
const DefaultWindow = time.Minute

// Decision is the outcome of a rate-limit check, carrying everything
// needed to synthesize the standard X-RateLimit-* headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
// Only meaningful on a denied decision.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter checks and advances per-workspace fixed-window counters. The
// increment is a single conditional atomic operation in the store, never a
// read-then-write, so concurrent requests cannot overshoot the ceiling
// beyond the store's own atomicity guarantee.
type Limiter struct {
	store  *store.Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Limiter over the shared store. A zero window means
// DefaultWindow.
func New(st *store.Store, window time.Duration, logger *slog.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		store:  st,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Check consults and advances the counter for a workspace. The first
// request of a fresh window always succeeds regardless of the previous
// window's count: fixed windows reset hard at the boundary, which permits
// brief bursts across it. That trade-off is intentional.
func (l *Limiter) Check(ctx context.Context, workspaceID string, limit int) (Decision, error) {
	now := l.now()
	windowSecs := int64(l.window / time.Second)
	windowStart := now.Unix() / windowSecs * windowSecs
	resetAt := time.Unix(windowStart+windowSecs, 0)

	count, allowed, err := l.store.IncrementCounter(ctx, workspaceID, windowStart, limit)
	if err != nil {
		return Decision{}, err
	}

	remaining := limit - count
	if !allowed || remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// StartJanitor launches a background loop that reclaims counters from
// rolled-over windows, keeping the counter table from growing without
// bound. Call Stop to drain it.
func (l *Limiter) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.prune(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the janitor loop and waits for it to exit.
func (l *Limiter) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Limiter) prune(ctx context.Context) {
	windowSecs := int64(l.window / time.Second)
	cutoff := l.now().Unix()/windowSecs*windowSecs - windowSecs

	n, err := l.store.PruneCounters(ctx, cutoff)
	if err != nil {
		l.logger.Warn("rate counter prune failed", "error", err)
		return
	}
	if n > 0 {
		l.logger.Debug("pruned rate counters", "rows", n)
	}
}
