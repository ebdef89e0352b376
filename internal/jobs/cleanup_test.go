package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"semaphore/liveclass/internal/config"
)

type fakeSweeper struct {
	calls   atomic.Int32
	expired int64
	err     error
}

func (f *fakeSweeper) ExpireWaitingEntries(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep without deadline")
	}
	return f.expired, f.err
}

func TestRunCleanup(t *testing.T) {
	sweeper := &fakeSweeper{expired: 3}
	got, err := RunCleanup(context.Background(), sweeper, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("run cleanup: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3 expired, got %d", got)
	}
}

func TestRunCleanupReportsErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	if _, err := RunCleanup(context.Background(), sweeper, time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartCleanupJobTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := &fakeSweeper{}
	cfg := config.Config{CleanupJobEnabled: true, CleanupJobInterval: 5 * time.Millisecond, CleanupJobTimeout: time.Second}
	StartCleanupJob(ctx, cfg, sweeper, zap.NewNop())

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 2 sweeps, got %d", sweeper.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartCleanupJobDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := &fakeSweeper{}
	StartCleanupJob(ctx, config.Config{CleanupJobInterval: time.Millisecond}, sweeper, zap.NewNop())
	time.Sleep(20 * time.Millisecond)
	if sweeper.calls.Load() != 0 {
		t.Fatalf("disabled job ran %d sweeps", sweeper.calls.Load())
	}
}
