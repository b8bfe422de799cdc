package export

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Destination receives each JSONL snapshot.
type Destination interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the row store to its destinations on a fixed interval.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Start exports once immediately, then on every tick, until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler and waits for an in-flight export.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce builds one snapshot and hands it to every destination. A failing
// destination does not stop the others. It returns the number of
// destinations written.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	var buf bytes.Buffer
	if err := WriteJSONL(ctx, s.src, &buf, s.now()); err != nil {
		s.logger.Error("export snapshot failed", "err", err)
		return 0
	}
	data := buf.Bytes()

	ok := 0
	for _, d := range s.destinations {
		if err := d.Write(ctx, data); err != nil {
			s.logger.Error("export destination failed", "destination", d.Name(), "err", err)
			continue
		}
		ok++
	}
	s.logger.Info("export completed", "destinations", ok, "bytes", len(data))
	return ok
}
