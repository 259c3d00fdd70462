// Package executor turns a campaign's distribution plan into published posts.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/linkfleet/internal/content"
	"github.com/foxzi/linkfleet/internal/ledger"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/models"
)

// MaxSlugLength is the longest slug Slugify returns
const MaxSlugLength = 50

// Skip reasons recorded per assignment
const (
	SkipDomainMissing = "domain_missing"
	SkipIneligible    = "domain_ineligible"
	SkipGeneration    = "generation"
	SkipInvalidSlug   = "invalid_slug"
	SkipCapacity      = "capacity"
	SkipSlugTaken     = "slug_taken"
	SkipPersistence   = "persistence"
)

// CampaignStore loads campaigns and records their progress
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	UpdateProgress(ctx context.Context, id, status string, postsCreated, linksBuilt int) error
}

// PostStore inserts posts under a monthly capacity ceiling
type PostStore interface {
	CreateWithinCapacity(ctx context.Context, p *models.Post, capacity int, monthStart time.Time) error
}

// PlanSource returns the plan to execute for a campaign
type PlanSource interface {
	EnsurePlan(ctx context.Context, c *models.Campaign) (*models.DistributionPlan, error)
}

// ProfileSource returns every domain of an owner with its derived capacity
type ProfileSource interface {
	Profiles(ctx context.Context, ownerID string) ([]models.DomainProfile, error)
}

// Result summarizes one execution
type Result struct {
	CampaignID   string         `json:"campaign_id"`
	PostsCreated int            `json:"posts_created"`
	DomainsUsed  []string       `json:"domains_used"`
	Skipped      int            `json:"skipped"`
	SkipReasons  map[string]int `json:"skip_reasons,omitempty"`
}

// Executor publishes the posts of a plan
type Executor struct {
	campaigns CampaignStore
	posts     PostStore
	plans     PlanSource
	profiles  ProfileSource
	generator content.Generator
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor
func New(campaigns CampaignStore, posts PostStore, plans PlanSource, profiles ProfileSource, gen content.Generator, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		campaigns: campaigns,
		posts:     posts,
		plans:     plans,
		profiles:  profiles,
		generator: gen,
		now:       time.Now,
		logger:    logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute publishes one post per assignment of the campaign's latest plan,
// building a plan first if none is stored. A failed assignment is skipped and
// never stops the run. On completion the campaign becomes active and its
// counters are set to the number of posts created by this run.
func (e *Executor) Execute(ctx context.Context, campaignID string) (*Result, error) {
	res, err := e.execute(ctx, campaignID)
	if err != nil {
		metrics.IncExecution("error")
		return nil, err
	}
	metrics.IncExecution("ok")
	return res, nil
}

func (e *Executor) execute(ctx context.Context, campaignID string) (*Result, error) {
	c, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, models.Persistence("get campaign", err)
	}
	if c == nil {
		return nil, models.ErrNotFound
	}

	plan, err := e.plans.EnsurePlan(ctx, c)
	if err != nil {
		return nil, err
	}

	profiles, err := e.profiles.Profiles(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.DomainProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	logger := e.logger.With("campaign_id", c.ID, "plan_id", plan.ID)
	logger.Info("executing campaign", "assignments", len(plan.Assignments))

	res := &Result{CampaignID: c.ID, DomainsUsed: []string{}, SkipReasons: map[string]int{}}
	used := map[string]bool{}
	monthStart := ledger.MonthStart(e.now())

	for i, a := range plan.Assignments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reason, err := e.publish(ctx, c, a, i, byID, monthStart)
		if reason != "" {
			res.Skipped++
			res.SkipReasons[reason]++
			metrics.IncAssignmentSkipped(reason)
			logger.Warn("assignment skipped", "index", i, "domain", a.DomainName, "reason", reason, "error", err)
			continue
		}

		res.PostsCreated++
		metrics.IncPostsCreated(a.DomainName)
		if !used[a.DomainID] {
			used[a.DomainID] = true
			res.DomainsUsed = append(res.DomainsUsed, a.DomainName)
		}
	}

	if err := e.campaigns.UpdateProgress(ctx, c.ID, models.CampaignActive, res.PostsCreated, res.PostsCreated); err != nil {
		return nil, models.Persistence("update campaign progress", err)
	}

	logger.Info("campaign executed",
		"posts_created", res.PostsCreated,
		"domains_used", len(res.DomainsUsed),
		"skipped", res.Skipped,
	)
	return res, nil
}

// publish creates the post for one assignment. A non-empty reason means the
// assignment was skipped.
func (e *Executor) publish(ctx context.Context, c *models.Campaign, a models.Assignment, index int, profiles map[string]models.DomainProfile, monthStart time.Time) (string, error) {
	profile, ok := profiles[a.DomainID]
	if !ok {
		return SkipDomainMissing, nil
	}
	if !profile.Verified || !profile.PublishingEnabled || profile.Status != models.DomainStatusActive {
		return SkipIneligible, nil
	}

	req := content.NewRequest(c.TargetURL, a.AnchorText, a.TargetKeyword, c.ContentQuality)
	req.Variant = index
	req.Series = c.ID
	article, err := e.generator.Generate(ctx, req)
	if err != nil {
		return SkipGeneration, err
	}

	slug := Slugify(article.Title)
	if slug == "" {
		return SkipInvalidSlug, fmt.Errorf("title %q yields an empty slug", article.Title)
	}

	owner := c.UserID
	campaignID := c.ID
	post := &models.Post{
		Slug:            slug,
		DomainID:        a.DomainID,
		UserID:          &owner,
		Claimed:         true,
		Status:          models.PostPublished,
		Title:           article.Title,
		Content:         article.Content,
		Excerpt:         article.Excerpt,
		MetaDescription: article.MetaDescription,
		TargetURL:       c.TargetURL,
		AnchorText:      a.AnchorText,
		Keyword:         a.TargetKeyword,
		IsTrialPost:     false,
		CampaignID:      &campaignID,
	}

	err = e.posts.CreateWithinCapacity(ctx, post, profile.LinkCapacity, monthStart)
	switch {
	case errors.Is(err, models.ErrCapacityExceeded):
		return SkipCapacity, err
	case errors.Is(err, models.ErrConflict):
		return SkipSlugTaken, err
	case err != nil:
		return SkipPersistence, err
	}
	return "", nil
}

// Slugify lower-cases s, replaces every run of characters outside [a-z0-9]
// with one '-', trims leading and trailing '-' and cuts the result to
// MaxSlugLength.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}
