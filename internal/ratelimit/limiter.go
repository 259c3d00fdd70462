// Package ratelimit throttles API callers with hourly and daily windows
// persisted in bbolt so restarts do not reset them.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level is the dimension a limit applies to
type Level string

const (
	LevelGlobal Level = "global"
	LevelActor  Level = "actor"
	LevelIP     Level = "ip"
)

// Config contains rate limit configuration
type Config struct {
	Global *LimitConfig `yaml:"global,omitempty"`

	// Per authenticated actor
	Actor *LimitConfig `yaml:"actor,omitempty"`

	// Per client IP, applied to every request
	IP *LimitConfig `yaml:"ip,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values. Zero disables a window.
type LimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay  int `yaml:"requests_per_day" json:"requests_per_day"`
}

// Counter tracks one key's windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Request identifies the caller being limited
type Request struct {
	ActorID string
	IP      string
}

// Result contains the rate limit decision
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats is a snapshot of one counter
type Stats struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter implements rate limiting with multiple levels
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.Mutex
	now      func() time.Time
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter backed by db and starts the flush loop
func NewLimiter(db *bolt.DB, cfg *Config, logger *slog.Logger, opts ...Option) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		logger:   logger.With("component", "ratelimit"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Allow checks every applicable limit and, if all pass, counts the request
func (l *Limiter) Allow(req Request) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpired(counter, now)

		if denied := evaluate(check, counter.HourlyCount, counter.DailyCount, counter, now); denied != nil {
			return denied
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}
}

// Check reports whether a request would be allowed without counting it
func (l *Limiter) Check(req Request) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, check := range l.getChecks(req) {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}

		hourly, daily := counter.HourlyCount, counter.DailyCount
		if now.Sub(counter.HourStart) >= time.Hour {
			hourly = 0
		}
		if now.Sub(counter.DayStart) >= 24*time.Hour {
			daily = 0
		}

		if denied := evaluate(check, hourly, daily, counter, now); denied != nil {
			return denied
		}
	}
	return &Result{Allowed: true}
}

// GetStats returns the current counts for one key
func (l *Limiter) GetStats(level Level, key string) *Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &Stats{Level: level, Key: key}
	counter, exists := l.counters[makeKey(level, key)]
	if !exists {
		return stats
	}

	now := l.now()
	stats.HourlyCount = counter.HourlyCount
	stats.DailyCount = counter.DailyCount
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart

	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}
	return stats
}

// Stop stops the flush loop and persists counters. Safe to call twice.
func (l *Limiter) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.done
		err = l.persistCounters()
	})
	return err
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if req.ActorID != "" && l.config.Actor != nil {
		checks = append(checks, limitCheck{
			level: LevelActor,
			key:   makeKey(LevelActor, req.ActorID),
			limit: l.config.Actor,
		})
	}

	if req.IP != "" && l.config.IP != nil {
		checks = append(checks, limitCheck{
			level: LevelIP,
			key:   makeKey(LevelIP, req.IP),
			limit: l.config.IP,
		})
	}

	return checks
}

func evaluate(check limitCheck, hourly, daily int, counter *Counter, now time.Time) *Result {
	if check.limit.RequestsPerHour > 0 && hourly >= check.limit.RequestsPerHour {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if check.limit.RequestsPerDay > 0 && daily >= check.limit.RequestsPerDay {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}
	return nil
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				l.logger.Warn("skipping invalid rate limit entry", "key", string(k), "error", err)
				return nil
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

// persistCounters writes live counters and drops keys whose day window has
// passed, both in memory and on disk.
func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			if now.Sub(counter.DayStart) >= 24*time.Hour {
				delete(l.counters, key)
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.persistCounters(); err != nil {
				l.logger.Error("failed to persist rate limit counters", "error", err)
			}
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
