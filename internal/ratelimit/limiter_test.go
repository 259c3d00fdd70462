package ratelimit

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, db *bolt.DB, cfg *Config, c *clock) *Limiter {
	t.Helper()
	cfg.FlushInterval = time.Hour
	limiter, err := NewLimiter(db, cfg, nil, WithClock(c.now))
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })
	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter, err := NewLimiter(setupTestDB(t), nil, nil)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	defer limiter.Stop()

	if limiter.config.FlushInterval != 10*time.Second {
		t.Errorf("expected default FlushInterval=10s, got %v", limiter.config.FlushInterval)
	}
	if res := limiter.Allow(Request{ActorID: "a", IP: "10.0.0.1"}); !res.Allowed {
		t.Error("no limits configured, request should be allowed")
	}
}

func TestAllowActorLimit(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), &Config{Actor: &LimitConfig{RequestsPerHour: 2}}, c)

	for i := 0; i < 2; i++ {
		if res := limiter.Allow(Request{ActorID: "alice"}); !res.Allowed {
			t.Errorf("alice request %d should be allowed", i+1)
		}
	}

	c.advance(10 * time.Minute)
	res := limiter.Allow(Request{ActorID: "alice"})
	if res.Allowed {
		t.Fatal("alice request 3 should be denied")
	}
	if res.DeniedBy != LevelActor || res.DeniedKey != "actor:alice" {
		t.Errorf("unexpected denial: %+v", res)
	}
	if res.RetryAfter != 50*time.Minute {
		t.Errorf("expected RetryAfter 50m, got %v", res.RetryAfter)
	}

	if res := limiter.Allow(Request{ActorID: "bob"}); !res.Allowed {
		t.Error("bob has his own window")
	}

	c.advance(time.Hour)
	if res := limiter.Allow(Request{ActorID: "alice"}); !res.Allowed {
		t.Error("alice should be allowed after the hour window resets")
	}
}

func TestAllowIPAndGlobal(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &Config{
		Global: &LimitConfig{RequestsPerDay: 3},
		IP:     &LimitConfig{RequestsPerHour: 2},
	}
	limiter := newTestLimiter(t, setupTestDB(t), cfg, c)

	limiter.Allow(Request{IP: "10.0.0.1"})
	limiter.Allow(Request{IP: "10.0.0.1"})

	res := limiter.Allow(Request{IP: "10.0.0.1"})
	if res.Allowed || res.DeniedBy != LevelIP {
		t.Fatalf("expected IP denial, got %+v", res)
	}

	// A denied request is not counted, so the global window has one slot left.
	if res := limiter.Allow(Request{IP: "10.0.0.2"}); !res.Allowed {
		t.Fatal("second IP should be allowed")
	}
	res = limiter.Allow(Request{IP: "10.0.0.3"})
	if res.Allowed || res.DeniedBy != LevelGlobal {
		t.Errorf("expected global denial, got %+v", res)
	}
	if res.RetryAfter != 24*time.Hour {
		t.Errorf("expected RetryAfter 24h, got %v", res.RetryAfter)
	}
}

func TestCheckDoesNotCount(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), &Config{Actor: &LimitConfig{RequestsPerHour: 1}}, c)
	req := Request{ActorID: "alice"}

	for i := 0; i < 3; i++ {
		if res := limiter.Check(req); !res.Allowed {
			t.Fatalf("check %d should not consume the limit", i+1)
		}
	}
	limiter.Allow(req)
	if res := limiter.Check(req); res.Allowed {
		t.Error("check after the limit is used should deny")
	}
}

func TestGetStats(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(t, setupTestDB(t), &Config{IP: &LimitConfig{RequestsPerDay: 10}}, c)

	if s := limiter.GetStats(LevelIP, "10.0.0.9"); s.DailyCount != 0 {
		t.Errorf("unknown key should have zero counts, got %+v", s)
	}

	for i := 0; i < 4; i++ {
		limiter.Allow(Request{IP: "10.0.0.9"})
	}
	s := limiter.GetStats(LevelIP, "10.0.0.9")
	if s.DailyCount != 4 || s.HourlyCount != 4 {
		t.Errorf("expected 4/4, got %d/%d", s.HourlyCount, s.DailyCount)
	}

	c.advance(2 * time.Hour)
	s = limiter.GetStats(LevelIP, "10.0.0.9")
	if s.HourlyCount != 0 || s.DailyCount != 4 {
		t.Errorf("expected hourly reset only, got %d/%d", s.HourlyCount, s.DailyCount)
	}
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &Config{Actor: &LimitConfig{RequestsPerHour: 5}}

	limiter, err := NewLimiter(db, cfg, nil, WithClock(c.now))
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	for i := 0; i < 3; i++ {
		limiter.Allow(Request{ActorID: "alice"})
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	restored, err := NewLimiter(db, cfg, nil, WithClock(c.now))
	if err != nil {
		t.Fatalf("failed to reopen limiter: %v", err)
	}
	defer restored.Stop()

	if s := restored.GetStats(LevelActor, "alice"); s.HourlyCount != 3 {
		t.Errorf("expected 3 restored requests, got %d", s.HourlyCount)
	}
}

func TestPersistDropsStaleCounters(t *testing.T) {
	db := setupTestDB(t)
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := &Config{IP: &LimitConfig{RequestsPerHour: 5}}
	limiter := newTestLimiter(t, db, cfg, c)

	limiter.Allow(Request{IP: "10.0.0.1"})
	if err := limiter.persistCounters(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	c.advance(25 * time.Hour)
	if err := limiter.persistCounters(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	err := db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketRateLimits).Get([]byte("ip:10.0.0.1")); v != nil {
			t.Error("stale counter should be removed from disk")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if s := limiter.GetStats(LevelIP, "10.0.0.1"); s.DailyCount != 0 {
		t.Errorf("stale counter should be removed from memory, got %+v", s)
	}
}
