package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeExpirer struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakeExpirer) ExpireIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

func TestSweep_UsesIdleCutoff(t *testing.T) {
	f := &fakeExpirer{n: 4}
	s := New(f, "*/15 * * * *", 24*time.Hour, zap.NewNop())
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if n := s.Sweep(context.Background()); n != 4 {
		t.Fatalf("swept %d", n)
	}
	if want := now.Add(-24 * time.Hour); !f.before.Equal(want) {
		t.Fatalf("cutoff %v, want %v", f.before, want)
	}
}

func TestSweep_Error(t *testing.T) {
	s := New(&fakeExpirer{err: errors.New("db down")}, "@every 1m", time.Hour, zap.NewNop())
	if n := s.Sweep(context.Background()); n != 0 {
		t.Fatalf("swept %d on error", n)
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := New(&fakeExpirer{}, "not a schedule", time.Hour, zap.NewNop())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected parse error")
	}
}
