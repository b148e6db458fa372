package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gatehousehq/gatehouse/internal/store"
)

func newTestLimiter(t *testing.T) (*Limiter, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, time.Minute, logger), st
}

func TestCheckCountsDown(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	const limit = 5

	// The first `limit` calls succeed with strictly decreasing remaining.
	for want := limit - 1; want >= 0; want-- {
		d, err := l.Check(ctx, "ws-1", limit)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("denied with %d remaining expected", want)
		}
		if d.Remaining != want {
			t.Errorf("Remaining = %d, want %d", d.Remaining, want)
		}
		if d.Limit != limit {
			t.Errorf("Limit = %d, want %d", d.Limit, limit)
		}
	}

	// The (limit+1)th call is denied with zero remaining, and stays zero
	// on further denied calls (the counter is not incremented past the
	// ceiling).
	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "ws-1", limit)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if d.Allowed {
			t.Fatal("expected denial past the ceiling")
		}
		if d.Remaining != 0 {
			t.Errorf("Remaining = %d, want 0 (never negative)", d.Remaining)
		}
	}
}

func TestWindowRollover(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	const limit = 2
	for i := 0; i < limit; i++ {
		if d, _ := l.Check(ctx, "ws-1", limit); !d.Allowed {
			t.Fatal("budget exhausted early")
		}
	}
	denied, _ := l.Check(ctx, "ws-1", limit)
	if denied.Allowed {
		t.Fatal("expected denial at ceiling")
	}

	// Advance past resetAt: the window is fresh, full budget minus one.
	l.now = func() time.Time { return denied.ResetAt }
	d, err := l.Check(ctx, "ws-1", limit)
	if err != nil {
		t.Fatalf("Check after rollover: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected fresh window to allow")
	}
	if d.Remaining != limit-1 {
		t.Errorf("Remaining = %d, want %d", d.Remaining, limit-1)
	}
}

func TestResetAtAndRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 45, 0, time.UTC)
	l.now = func() time.Time { return at }

	d, err := l.Check(ctx, "ws-1", 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	wantReset := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, wantReset)
	}

	retry := d.RetryAfter(at)
	if retry <= 0 || retry > 60 {
		t.Errorf("RetryAfter = %d, want in (0, 60]", retry)
	}

	// Past the reset, RetryAfter clamps to 1.
	if got := d.RetryAfter(wantReset.Add(time.Second)); got != 1 {
		t.Errorf("RetryAfter past reset = %d, want 1", got)
	}
}

func TestWorkspacesIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	if d, _ := l.Check(ctx, "ws-a", 1); !d.Allowed {
		t.Fatal("ws-a denied")
	}
	if d, _ := l.Check(ctx, "ws-a", 1); d.Allowed {
		t.Fatal("ws-a should be exhausted")
	}
	if d, _ := l.Check(ctx, "ws-b", 1); !d.Allowed {
		t.Error("ws-b must not share ws-a's budget")
	}
}

func TestPruneReclaimsOldWindows(t *testing.T) {
	l, st := newTestLimiter(t)
	ctx := context.Background()

	past := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return past }
	if _, err := l.Check(ctx, "ws-1", 10); err != nil {
		t.Fatalf("Check: %v", err)
	}

	l.now = func() time.Time { return past.Add(10 * time.Minute) }
	l.prune(ctx)

	count, err := st.GetCounter(ctx, "ws-1", past.Unix())
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if count != 0 {
		t.Errorf("old window counter survived prune: %d", count)
	}
}
