// Package ledger derives authority, monthly link capacity and quality for
// the publishing domains a user owns. Nothing is cached: every call
// re-reads the store, so two planning passes never see a stale ledger.
package ledger

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
)

// Store is the persistence the ledger reads from
type Store interface {
	ListWithStats(ctx context.Context, userID string, monthStart time.Time) ([]models.DomainWithStats, error)
	GetWithStats(ctx context.Context, id string, monthStart time.Time) (*models.DomainWithStats, error)
}

// CapacityTier maps a minimum authority score to a monthly link capacity
type CapacityTier struct {
	MinScore int `yaml:"min_score"`
	Capacity int `yaml:"capacity"`
}

// Policy holds the scoring constants
type Policy struct {
	AgeWeight       int            `yaml:"age_weight"`
	PostWeight      int            `yaml:"post_weight"`
	MaxScore        int            `yaml:"max_score"`
	CapacityTiers   []CapacityTier `yaml:"capacity_tiers"`
	DefaultCapacity int            `yaml:"default_capacity"`
	HighScore       int            `yaml:"high_score"`
	HighAgeDays     int            `yaml:"high_age_days"`
	MediumScore     int            `yaml:"medium_score"`
	MediumAgeDays   int            `yaml:"medium_age_days"`
}

// DefaultPolicy returns the standard scoring constants
func DefaultPolicy() Policy {
	return Policy{
		AgeWeight:  2,
		PostWeight: 5,
		MaxScore:   100,
		CapacityTiers: []CapacityTier{
			{MinScore: 80, Capacity: 8},
			{MinScore: 60, Capacity: 5},
			{MinScore: 40, Capacity: 3},
		},
		DefaultCapacity: 1,
		HighScore:       70,
		HighAgeDays:     90,
		MediumScore:     50,
		MediumAgeDays:   30,
	}
}

// Score returns the authority score for a domain of the given age and output
func (p Policy) Score(ageDays, postsPublished int) int {
	score := ageDays*p.AgeWeight + postsPublished*p.PostWeight
	if score > p.MaxScore {
		score = p.MaxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Sorted returns a copy of p with CapacityTiers ordered by descending
// MinScore
func (p Policy) Sorted() Policy {
	p.CapacityTiers = slices.Clone(p.CapacityTiers)
	slices.SortFunc(p.CapacityTiers, func(a, b CapacityTier) int { return cmp.Compare(b.MinScore, a.MinScore) })
	return p
}

// Capacity returns the monthly link capacity for an authority score. The
// first tier the score reaches wins, so tiers must be sorted; New sorts them.
func (p Policy) Capacity(score int) int {
	for _, t := range p.CapacityTiers {
		if score >= t.MinScore {
			return t.Capacity
		}
	}
	return p.DefaultCapacity
}

// Quality returns the quality rating for a score and age
func (p Policy) Quality(score, ageDays int) string {
	switch {
	case score >= p.HighScore && ageDays >= p.HighAgeDays:
		return models.QualityHigh
	case score >= p.MediumScore && ageDays >= p.MediumAgeDays:
		return models.QualityMedium
	default:
		return models.QualityLow
	}
}

// Ledger answers capacity questions about a user's domains
type Ledger struct {
	store  Store
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over store
func New(store Store, policy Policy, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:  store,
		policy: policy.Sorted(),
		now:    time.Now,
		logger: logger.With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the scoring constants in use
func (l *Ledger) Policy() Policy {
	return l.policy
}

// MonthStart returns the first instant of t's calendar month in UTC
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Derive computes the profile of a stored domain at now
func (l *Ledger) Derive(d models.DomainWithStats, now time.Time) models.DomainProfile {
	age := 0
	if !d.CreatedAt.IsZero() && now.After(d.CreatedAt) {
		age = int(now.Sub(d.CreatedAt) / (24 * time.Hour))
	}
	score := l.policy.Score(age, d.PostsPublished)

	return models.DomainProfile{
		Domain:            d.Domain,
		AgeDays:           age,
		PostsPublished:    d.PostsPublished,
		AuthorityScore:    score,
		LinkCapacity:      l.policy.Capacity(score),
		CurrentMonthLinks: d.CurrentMonthLinks,
		QualityRating:     l.policy.Quality(score, age),
	}
}

// Profiles returns every domain the owner has, eligible or not, sorted by
// authority.
func (l *Ledger) Profiles(ctx context.Context, ownerID string) ([]models.DomainProfile, error) {
	now := l.now()
	rows, err := l.store.ListWithStats(ctx, ownerID, MonthStart(now))
	if err != nil {
		return nil, models.Persistence("list domains", err)
	}

	profiles := make([]models.DomainProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, l.Derive(row, now))
	}
	sortProfiles(profiles)
	return profiles, nil
}

// EligibleDomains returns the owner's domains that may receive a new
// assignment: verified, publishing enabled, active and under capacity.
// Highest authority first, then lower current usage, then name.
func (l *Ledger) EligibleDomains(ctx context.Context, ownerID string) ([]models.DomainProfile, error) {
	profiles, err := l.Profiles(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.DomainProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.Eligible() {
			eligible = append(eligible, p)
		}
	}

	l.logger.Debug("eligible domains", "owner", ownerID, "total", len(profiles), "eligible", len(eligible))
	return eligible, nil
}

// Profile returns the derived profile of one domain
func (l *Ledger) Profile(ctx context.Context, domainID string) (*models.DomainProfile, error) {
	now := l.now()
	row, err := l.store.GetWithStats(ctx, domainID, MonthStart(now))
	if err != nil {
		return nil, models.Persistence("get domain", err)
	}
	if row == nil {
		return nil, models.ErrNotFound
	}
	p := l.Derive(*row, now)
	return &p, nil
}

func sortProfiles(profiles []models.DomainProfile) {
	slices.SortStableFunc(profiles, func(a, b models.DomainProfile) int {
		return cmp.Or(
			cmp.Compare(b.AuthorityScore, a.AuthorityScore),
			cmp.Compare(a.CurrentMonthLinks, b.CurrentMonthLinks),
			cmp.Compare(a.Domain.Domain, b.Domain.Domain),
		)
	})
}
