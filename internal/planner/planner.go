// Package planner turns a campaign and a ledger snapshot into a
// distribution plan that never schedules more posts on a domain than its
// remaining monthly headroom.
package planner

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
)

const (
	DefaultMaxDomains = 5

	firstPostDelay = 24 * time.Hour
	minGapDays     = 2
	maxGapDays     = 3
)

// Planner builds distribution plans. It is safe for concurrent use.
type Planner struct {
	maxDomains int
	now        func() time.Time
	logger     *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Planner
type Option func(*Planner)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithSeed makes rotation and scheduling gaps deterministic
func WithSeed(seed uint64) Option {
	return func(p *Planner) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithMaxDomains limits how many domains one plan may use
func WithMaxDomains(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxDomains = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New creates a planner
func New(opts ...Option) *Planner {
	p := &Planner{
		maxDomains: DefaultMaxDomains,
		now:        time.Now,
		logger:     slog.Default(),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "planner")
	return p
}

// Plan assigns posts for campaign c across domains, which must be in ledger
// order. Each selected domain gets min(postsPerDomain, headroom)
// assignments.
func (p *Planner) Plan(c *models.Campaign, domains []models.DomainProfile, postsPerDomain int) (*models.DistributionPlan, error) {
	if strings.TrimSpace(c.TargetURL) == "" {
		return nil, models.Validationf("campaign has no target url")
	}
	anchors := nonEmpty(c.AnchorTexts)
	if len(anchors) == 0 {
		return nil, models.Validationf("campaign has no anchor texts")
	}
	if postsPerDomain < 1 {
		return nil, models.Validationf("posts per domain must be at least 1, got %d", postsPerDomain)
	}
	keywords := nonEmpty(c.Keywords)
	if len(keywords) == 0 {
		keywords = anchors
	}

	selected := p.selectDomains(domains, c.Domains)
	if len(selected) == 0 {
		return nil, models.ErrNoEligibleDomains
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	rotation := rotationFor(c.RotationStrategy, p.rng)
	scheduled := now.Add(firstPostDelay)

	plan := &models.DistributionPlan{
		CampaignID:  c.ID,
		Assignments: []models.Assignment{},
		CreatedAt:   now,
	}

	for _, d := range selected {
		count := min(postsPerDomain, d.Headroom())
		if count == 0 {
			p.logger.Debug("domain at capacity, skipped", "domain", d.Domain.Domain)
			continue
		}

		for range count {
			i := len(plan.Assignments)
			if i > 0 {
				gap := minGapDays + p.rng.IntN(maxGapDays-minGapDays+1)
				scheduled = scheduled.Add(time.Duration(gap) * 24 * time.Hour)
			}
			plan.Assignments = append(plan.Assignments, models.Assignment{
				DomainID:      d.ID,
				DomainName:    d.Domain.Domain,
				ContentType:   models.ContentTypeBlogPost,
				AnchorText:    rotation.Choose(i, anchors),
				TargetKeyword: rotation.Choose(i, keywords),
				ScheduledDate: scheduled,
				Priority:      d.AuthorityScore,
			})
		}
		plan.DomainsCount++
	}

	if len(plan.Assignments) == 0 {
		return nil, models.ErrNoEligibleDomains
	}

	plan.TotalPosts = len(plan.Assignments)
	plan.EstimatedCompletion = plan.Assignments[len(plan.Assignments)-1].ScheduledDate

	p.logger.Info("plan built",
		"campaign_id", c.ID,
		"total_posts", plan.TotalPosts,
		"domains", plan.DomainsCount,
		"rotation", c.RotationStrategy,
	)
	return plan, nil
}

// selectDomains keeps the ledger order and takes at most maxDomains. With
// preferred names only those domains are considered.
func (p *Planner) selectDomains(domains []models.DomainProfile, preferred []string) []models.DomainProfile {
	want := map[string]bool{}
	for _, name := range preferred {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			want[name] = true
		}
	}

	selected := make([]models.DomainProfile, 0, p.maxDomains)
	for _, d := range domains {
		if len(selected) == p.maxDomains {
			break
		}
		if len(want) > 0 && !want[strings.ToLower(d.Domain.Domain)] {
			continue
		}
		selected = append(selected, d)
	}
	return selected
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
