package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// PostCounts is a snapshot of post states
type PostCounts struct {
	Trial   int
	Claimed int
}

// PostCounter reports how many posts are in each state
type PostCounter interface {
	CountByState(ctx context.Context) (*PostCounts, error)
}

// GaugeUpdater refreshes the post and system gauges on an interval
type GaugeUpdater struct {
	metrics   *Metrics
	posts     PostCounter
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGaugeUpdater creates an updater. posts may be nil.
func NewGaugeUpdater(m *Metrics, posts PostCounter, interval time.Duration, logger *slog.Logger) *GaugeUpdater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GaugeUpdater{
		metrics:   m,
		posts:     posts,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins updating gauges
func (u *GaugeUpdater) Start(ctx context.Context) {
	u.wg.Add(1)
	go u.loop(ctx)
}

// Stop stops the updater
func (u *GaugeUpdater) Stop() {
	u.stopOnce.Do(func() { close(u.stopCh) })
	u.wg.Wait()
}

func (u *GaugeUpdater) loop(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.Update(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stopCh:
			return
		case <-ticker.C:
			u.Update(ctx)
		}
	}
}

// Update refreshes all gauges once
func (u *GaugeUpdater) Update(ctx context.Context) {
	u.metrics.UptimeSeconds.Set(time.Since(u.startTime).Seconds())
	u.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if u.posts == nil {
		return
	}
	counts, err := u.posts.CountByState(ctx)
	if err != nil {
		u.logger.Warn("failed to count posts for metrics", "error", err)
		return
	}
	u.metrics.TrialPosts.Set(float64(counts.Trial))
	u.metrics.ClaimedPosts.Set(float64(counts.Claimed))
}

// PostCounterFunc adapts a function to PostCounter
type PostCounterFunc func(ctx context.Context) (*PostCounts, error)

func (f PostCounterFunc) CountByState(ctx context.Context) (*PostCounts, error) {
	return f(ctx)
}
