// Package sweeper periodically removes trial posts whose expiry has passed.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/linkfleet/internal/metrics"
)

// DefaultInterval is the time between sweeps
const DefaultInterval = time.Hour

// Expirer deletes expired trial posts
type Expirer interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// Result of a single sweep
type Result struct {
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration"`
}

// Sweeper runs ExpireSweep on an interval
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a sweeper. A non-positive interval uses DefaultInterval.
func New(expirer Expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until Stop is
// called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweeper started", "interval", s.interval)
}

// Stop stops the loop and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Sweep performs a single pass
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	start := time.Now()
	deleted, err := s.expirer.ExpireSweep(ctx)
	duration := time.Since(start)

	metrics.ObserveSweep(deleted, duration, err)
	if err != nil {
		return nil, err
	}

	if deleted > 0 {
		s.logger.Info("expired trial posts deleted", "deleted", deleted, "duration", duration)
	} else {
		s.logger.Debug("no expired trial posts", "duration", duration)
	}
	return &Result{Deleted: deleted, Duration: duration}, nil
}
