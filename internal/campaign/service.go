// Package campaign manages campaigns and their distribution plans.
package campaign

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/models"
	"github.com/foxzi/linkfleet/internal/planner"
)

// DefaultPostsPerDomain is used when a plan is built without an explicit count
const DefaultPostsPerDomain = 2

// Store persists campaigns
type Store interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// PlanStore persists distribution plans
type PlanStore interface {
	Create(ctx context.Context, p *models.DistributionPlan) error
	Latest(ctx context.Context, campaignID string) (*models.DistributionPlan, error)
}

// DomainSource lists the domains a user may publish to, in ledger order
type DomainSource interface {
	EligibleDomains(ctx context.Context, ownerID string) ([]models.DomainProfile, error)
}

// Service is the campaign use-case layer
type Service struct {
	campaigns      Store
	plans          PlanStore
	domains        DomainSource
	planner        *planner.Planner
	postsPerDomain int
	logger         *slog.Logger
}

// New creates a campaign service. postsPerDomain <= 0 selects the default.
func New(campaigns Store, plans PlanStore, domains DomainSource, p *planner.Planner, postsPerDomain int, logger *slog.Logger) *Service {
	if postsPerDomain <= 0 {
		postsPerDomain = DefaultPostsPerDomain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		campaigns:      campaigns,
		plans:          plans,
		domains:        domains,
		planner:        p,
		postsPerDomain: postsPerDomain,
		logger:         logger.With("component", "campaign"),
	}
}

// Create validates c and stores it as a draft owned by actor
func (s *Service) Create(ctx context.Context, c *models.Campaign, actor *identity.Actor) error {
	if actor == nil {
		return models.ErrAuthRequired
	}
	c.UserID = actor.ID
	c.Status = models.CampaignDraft
	c.PostsCreated, c.LinksBuilt = 0, 0
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return models.Persistence("create campaign", err)
	}
	s.logger.Info("campaign created", "campaign_id", c.ID, "owner", c.UserID)
	return nil
}

// Get returns a campaign or models.ErrNotFound
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, models.Persistence("get campaign", err)
	}
	if c == nil {
		return nil, models.ErrNotFound
	}
	return c, nil
}

// List returns the actor's campaigns. Admins may list any owner's.
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter, actor *identity.Actor) ([]models.Campaign, int, error) {
	if actor == nil {
		return nil, 0, models.ErrAuthRequired
	}
	if !actor.HasRole(identity.RoleAdmin) || filter.UserID == "" {
		filter.UserID = actor.ID
	}
	campaigns, total, err := s.campaigns.List(ctx, filter)
	if err != nil {
		return nil, 0, models.Persistence("list campaigns", err)
	}
	return campaigns, total, nil
}

// Authorize loads the campaign and checks actor may manage it
func (s *Service) Authorize(ctx context.Context, id string, actor *identity.Actor) (*models.Campaign, error) {
	if actor == nil {
		return nil, models.ErrAuthRequired
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != actor.ID && !actor.HasRole(identity.RoleAdmin) {
		return nil, models.ErrPermissionDenied
	}
	return c, nil
}

// SetStatus pauses, resumes or completes a campaign. A campaign never
// returns to draft.
func (s *Service) SetStatus(ctx context.Context, id, status string, actor *identity.Actor) (*models.Campaign, error) {
	if !models.ValidCampaignStatus(status) || status == models.CampaignDraft {
		return nil, models.Validationf("status must be active, paused or completed")
	}
	c, err := s.Authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CampaignCompleted && status != models.CampaignCompleted {
		return nil, models.Validationf("campaign is completed")
	}
	if err := s.campaigns.UpdateStatus(ctx, id, status); err != nil {
		return nil, models.Persistence("update campaign status", err)
	}
	s.logger.Info("campaign status changed", "campaign_id", id, "from", c.Status, "to", status)
	c.Status = status
	return c, nil
}

// BuildPlan builds and stores a new plan for campaign c from the owner's
// eligible domains. postsPerDomain <= 0 selects the configured default.
func (s *Service) BuildPlan(ctx context.Context, c *models.Campaign, postsPerDomain int) (*models.DistributionPlan, error) {
	if postsPerDomain <= 0 {
		postsPerDomain = s.postsPerDomain
	}

	plan, err := s.buildPlan(ctx, c, postsPerDomain)
	if err != nil {
		metrics.ObservePlan(0, err)
		return nil, err
	}
	metrics.ObservePlan(plan.TotalPosts, nil)
	return plan, nil
}

func (s *Service) buildPlan(ctx context.Context, c *models.Campaign, postsPerDomain int) (*models.DistributionPlan, error) {
	domains, err := s.domains.EligibleDomains(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planner.Plan(c, domains, postsPerDomain)
	if err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, models.Persistence("store plan", err)
	}
	return plan, nil
}

// LatestPlan returns the newest stored plan or models.ErrNotFound
func (s *Service) LatestPlan(ctx context.Context, campaignID string) (*models.DistributionPlan, error) {
	plan, err := s.plans.Latest(ctx, campaignID)
	if err != nil {
		return nil, models.Persistence("get plan", err)
	}
	if plan == nil {
		return nil, models.ErrNotFound
	}
	return plan, nil
}

// EnsurePlan returns the campaign's latest plan, building one with the
// default posts per domain if none exists.
func (s *Service) EnsurePlan(ctx context.Context, c *models.Campaign) (*models.DistributionPlan, error) {
	plan, err := s.LatestPlan(ctx, c.ID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	s.logger.Info("no plan stored, building one", "campaign_id", c.ID)
	return s.BuildPlan(ctx, c, 0)
}
