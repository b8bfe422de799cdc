package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/store/memory"
)

type mockDestination struct {
	err    error
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return "mock" }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	if d.err != nil {
		return d.err
	}
	d.writes.Add(1)
	d.last.Store(append([]byte(nil), data...))
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	dest := &mockDestination{}
	sched := NewScheduler(seededStore(t), []Destination{dest}, 50*time.Millisecond, quietLogger())
	sched.Start()

	// Initial export plus at least one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
	data, ok := dest.last.Load().([]byte)
	if !ok {
		t.Fatal("no data written")
	}
	if lines := nonEmptyLines(string(data)); len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
}

func TestScheduler_FailingDestinationDoesNotBlockOthers(t *testing.T) {
	bad := &mockDestination{err: errors.New("disk full")}
	good := &mockDestination{}
	sched := NewScheduler(memory.New(), []Destination{bad, good}, time.Hour, quietLogger())

	if n := sched.RunOnce(context.Background()); n != 1 {
		t.Fatalf("RunOnce = %d, want 1", n)
	}
	if good.writes.Load() != 1 {
		t.Errorf("good writes = %d", good.writes.Load())
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sched := NewScheduler(memory.New(), nil, time.Hour, nil)
	sched.Stop()
}
