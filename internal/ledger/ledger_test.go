package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
)

type fakeStore struct {
	rows       []models.DomainWithStats
	err        error
	monthStart time.Time
}

func (f *fakeStore) ListWithStats(ctx context.Context, userID string, monthStart time.Time) ([]models.DomainWithStats, error) {
	f.monthStart = monthStart
	if f.err != nil {
		return nil, f.err
	}
	var out []models.DomainWithStats
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWithStats(ctx context.Context, id string, monthStart time.Time) (*models.DomainWithStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.rows {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func row(id, name string, ageDays, published, month int, eligible bool) models.DomainWithStats {
	return models.DomainWithStats{
		Domain: models.Domain{
			ID:                id,
			UserID:            "owner",
			Domain:            name,
			Verified:          eligible,
			PublishingEnabled: true,
			Status:            models.DomainStatusActive,
			CreatedAt:         testNow.Add(-time.Duration(ageDays) * 24 * time.Hour),
		},
		DomainStats: models.DomainStats{PostsPublished: published, CurrentMonthLinks: month},
	}
}

func TestPolicy_Score(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		age, posts, want int
	}{
		{0, 0, 0},
		{10, 0, 20},
		{10, 4, 40},
		{40, 1, 85},
		{365, 0, 100},
		{0, 30, 100},
	}
	for _, tt := range tests {
		if got := p.Score(tt.age, tt.posts); got != tt.want {
			t.Errorf("Score(%d, %d) = %d, want %d", tt.age, tt.posts, got, tt.want)
		}
	}
}

func TestPolicy_Capacity(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		score, want int
	}{
		{100, 8}, {80, 8}, {79, 5}, {60, 5}, {59, 3}, {40, 3}, {39, 1}, {0, 1},
	}
	for _, tt := range tests {
		if got := p.Capacity(tt.score); got != tt.want {
			t.Errorf("Capacity(%d) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestPolicy_Sorted(t *testing.T) {
	p := DefaultPolicy()
	unsorted := []CapacityTier{{MinScore: 10, Capacity: 2}, {MinScore: 90, Capacity: 20}, {MinScore: 50, Capacity: 6}}
	p.CapacityTiers = unsorted

	sorted := p.Sorted()
	want := []int{90, 50, 10}
	for i, tier := range sorted.CapacityTiers {
		if tier.MinScore != want[i] {
			t.Errorf("tier %d: MinScore = %d, want %d", i, tier.MinScore, want[i])
		}
	}
	if unsorted[0].MinScore != 10 {
		t.Error("Sorted must not reorder the caller's tiers")
	}
	if got := sorted.Capacity(95); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
	if got := sorted.Capacity(50); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}
}

func TestLedger_SortsUnsortedTiers(t *testing.T) {
	policy := DefaultPolicy()
	policy.CapacityTiers = []CapacityTier{{MinScore: 10, Capacity: 2}, {MinScore: 90, Capacity: 20}}
	l := New(&fakeStore{}, policy, nil, WithClock(func() time.Time { return testNow }))

	// 365 days old scores 100.
	p := l.Derive(row("d1", "old.example.com", 365, 0, 0, true), testNow)
	if p.LinkCapacity != 20 {
		t.Errorf("expected capacity 20, got %d", p.LinkCapacity)
	}
	if got := l.Policy().CapacityTiers[0].MinScore; got != 90 {
		t.Errorf("expected highest tier first, got %d", got)
	}
}

func TestPolicy_Quality(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name       string
		score, age int
		want       string
	}{
		{"high", 70, 90, models.QualityHigh},
		{"high score young domain", 100, 60, models.QualityMedium},
		{"medium", 50, 30, models.QualityMedium},
		{"medium score too young", 60, 10, models.QualityLow},
		{"low", 49, 400, models.QualityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Quality(tt.score, tt.age); got != tt.want {
				t.Errorf("Quality(%d, %d) = %s, want %s", tt.score, tt.age, got, tt.want)
			}
		})
	}
}

func TestLedger_EligibleDomains(t *testing.T) {
	store := &fakeStore{rows: []models.DomainWithStats{
		row("a", "a.example.com", 40, 1, 7, true),   // 85 -> cap 8, used 7
		row("b", "b.example.com", 20, 0, 3, true),   // 40 -> cap 3, at capacity
		row("c", "c.example.com", 40, 1, 2, true),   // 85, less used than a
		row("d", "d.example.com", 365, 0, 0, false), // unverified
		row("e", "e.example.com", 5, 0, 0, true),    // 10 -> cap 1
	}}
	l := New(store, DefaultPolicy(), nil, WithClock(func() time.Time { return testNow }))

	got, err := l.EligibleDomains(context.Background(), "owner")
	if err != nil {
		t.Fatalf("EligibleDomains failed: %v", err)
	}

	want := []string{"c.example.com", "a.example.com", "e.example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %d eligible domains, got %d: %+v", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i].Domain.Domain != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].Domain.Domain)
		}
	}

	if got[0].AuthorityScore != 85 || got[0].LinkCapacity != 8 || got[0].Headroom() != 6 {
		t.Errorf("unexpected derived fields: %+v", got[0])
	}
	if !store.monthStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected month start of March, got %v", store.monthStart)
	}
}

func TestLedger_ProfilesIncludeIneligible(t *testing.T) {
	store := &fakeStore{rows: []models.DomainWithStats{
		row("a", "a.example.com", 100, 0, 0, false),
		row("b", "b.example.com", 1, 0, 0, true),
	}}
	l := New(store, DefaultPolicy(), nil, WithClock(func() time.Time { return testNow }))

	got, err := l.Profiles(context.Background(), "owner")
	if err != nil {
		t.Fatalf("Profiles failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(got))
	}
	if got[0].Domain.Domain != "a.example.com" || got[0].QualityRating != models.QualityHigh {
		t.Errorf("unexpected first profile: %+v", got[0])
	}
}

func TestLedger_ReReadsOnEveryCall(t *testing.T) {
	store := &fakeStore{rows: []models.DomainWithStats{row("a", "a.example.com", 5, 0, 0, true)}}
	l := New(store, DefaultPolicy(), nil, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	first, _ := l.EligibleDomains(ctx, "owner")
	if len(first) != 1 {
		t.Fatalf("expected 1 eligible domain, got %d", len(first))
	}

	store.rows[0].CurrentMonthLinks = 1
	second, _ := l.EligibleDomains(ctx, "owner")
	if len(second) != 0 {
		t.Errorf("expected domain at capacity to drop out, got %+v", second)
	}
}

func TestLedger_Profile(t *testing.T) {
	store := &fakeStore{rows: []models.DomainWithStats{row("a", "a.example.com", 30, 0, 0, true)}}
	l := New(store, DefaultPolicy(), nil, WithClock(func() time.Time { return testNow }))

	p, err := l.Profile(context.Background(), "a")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.AgeDays != 30 || p.AuthorityScore != 60 || p.LinkCapacity != 5 {
		t.Errorf("unexpected profile: %+v", p)
	}

	if _, err := l.Profile(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedger_StoreError(t *testing.T) {
	l := New(&fakeStore{err: errors.New("db down")}, DefaultPolicy(), nil)

	_, err := l.EligibleDomains(context.Background(), "owner")
	if !errors.Is(err, models.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}
