// Package lifecycle moves posts between the Trial, Claimed and Deleted
// states. Every write is conditional on the state it was checked against,
// so a failed or lost transition never changes the row.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/models"
)

// DefaultTrialTTL is how long an unclaimed post lives
const DefaultTrialTTL = 24 * time.Hour

// Store is the persistence the machine runs against
type Store interface {
	GetBySlug(ctx context.Context, slug string) (*models.Post, error)
	Create(ctx context.Context, p *models.Post) error
	Claim(ctx context.Context, slug, userID string, now time.Time) (bool, error)
	Unclaim(ctx context.Context, slug, ownerID string, expiresAt, now time.Time) (bool, error)
	DeleteBySlug(ctx context.Context, slug string, claimed bool) (bool, error)
	DeleteExpiredTrials(ctx context.Context, now time.Time) ([]string, error)
	ListExpiryCandidates(ctx context.Context, limit int) ([]models.ExpiryCandidate, error)
	DeleteTrials(ctx context.Context, candidates []models.ExpiryCandidate) (int, error)
}

// Machine applies lifecycle transitions
type Machine struct {
	store    Store
	trialTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTrialTTL overrides how long trial posts live
func WithTrialTTL(ttl time.Duration) Option {
	return func(m *Machine) {
		if ttl > 0 {
			m.trialTTL = ttl
		}
	}
}

// New creates a machine over store
func New(store Store, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		store:    store,
		trialTTL: DefaultTrialTTL,
		now:      time.Now,
		logger:   logger.With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TrialTTL returns the trial lifetime in use
func (m *Machine) TrialTTL() time.Duration {
	return m.trialTTL
}

func (m *Machine) load(ctx context.Context, slug string) (*models.Post, error) {
	p, err := m.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, models.Persistence("get post", err)
	}
	if p == nil {
		return nil, models.ErrNotFound
	}
	return p, nil
}

// CreateTrial publishes an anonymous post that expires after the trial TTL
func (m *Machine) CreateTrial(ctx context.Context, p *models.Post) error {
	expires := models.FormatExpiry(m.now().Add(m.trialTTL))
	p.UserID = nil
	p.Claimed = false
	p.IsTrialPost = true
	p.ExpiresAt = &expires
	p.CampaignID = nil

	if err := m.store.Create(ctx, p); err != nil {
		return models.Persistence("create trial post", err)
	}
	metrics.IncLifecycle("create_trial", "ok")
	m.logger.Info("trial post created", "slug", p.Slug, "expires_at", expires)
	return nil
}

// Claim gives a trial post to actor permanently
func (m *Machine) Claim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error) {
	p, err := m.claim(ctx, slug, actor)
	metrics.IncLifecycle("claim", outcome(err))
	return p, err
}

func (m *Machine) claim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error) {
	if actor == nil || actor.ID == "" {
		return nil, models.ErrAuthRequired
	}
	p, err := m.load(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !p.IsTrial() {
		return nil, models.ErrNotClaimable
	}
	now := m.now()
	if p.ExpiredAt(now) {
		return nil, models.ErrExpired
	}

	ok, err := m.store.Claim(ctx, slug, actor.ID, now)
	if err != nil {
		return nil, models.Persistence("claim post", err)
	}
	if !ok {
		// Claimed or deleted by someone else since the read.
		return nil, models.ErrNotClaimable
	}

	m.logger.Info("post claimed", "slug", slug, "user_id", actor.ID)
	return m.load(ctx, slug)
}

// Unclaim returns the actor's post to the trial state with a fresh expiry
func (m *Machine) Unclaim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error) {
	p, err := m.unclaim(ctx, slug, actor)
	metrics.IncLifecycle("unclaim", outcome(err))
	return p, err
}

func (m *Machine) unclaim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error) {
	if actor == nil || actor.ID == "" {
		return nil, models.ErrAuthRequired
	}
	p, err := m.load(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p.IsTrial() {
		return nil, models.ErrNotClaimed
	}
	if !p.OwnedBy(actor.ID) {
		return nil, models.ErrNotOwner
	}

	now := m.now()
	ok, err := m.store.Unclaim(ctx, slug, actor.ID, now.Add(m.trialTTL), now)
	if err != nil {
		return nil, models.Persistence("unclaim post", err)
	}
	if !ok {
		// Re-read to report why the guarded update missed.
		p, err := m.load(ctx, slug)
		if err != nil {
			return nil, err
		}
		if p.IsTrial() {
			return nil, models.ErrNotClaimed
		}
		return nil, models.ErrNotOwner
	}

	m.logger.Info("post unclaimed", "slug", slug, "user_id", actor.ID)
	return m.load(ctx, slug)
}

// Delete removes a post. Trial posts may be deleted by anyone, claimed posts
// only by their owner or an administrator. actor may be nil.
func (m *Machine) Delete(ctx context.Context, slug string, actor *identity.Actor) error {
	err := m.delete(ctx, slug, actor)
	metrics.IncLifecycle("delete", outcome(err))
	return err
}

func (m *Machine) delete(ctx context.Context, slug string, actor *identity.Actor) error {
	// The guarded delete can miss if the post changes state between the read
	// and the write; the decision is then re-made once on the new state.
	for attempt := 0; attempt < 2; attempt++ {
		p, err := m.load(ctx, slug)
		if err != nil {
			return err
		}

		if p.Claimed {
			allowed := actor != nil && (p.OwnedBy(actor.ID) || actor.HasRole(identity.RoleAdmin))
			if !allowed {
				return models.ErrPermissionDenied
			}
		}

		ok, err := m.store.DeleteBySlug(ctx, slug, p.Claimed)
		if err != nil {
			return models.Persistence("delete post", err)
		}
		if ok {
			m.logger.Info("post deleted", "slug", slug, "was_claimed", p.Claimed, "actor", actorID(actor))
			return nil
		}
	}
	return models.ErrNotFound
}

// ExpireSweep deletes every trial post whose expiry has passed and returns
// how many were removed. Posts with an unparseable expiry are kept.
func (m *Machine) ExpireSweep(ctx context.Context) (int, error) {
	now := m.now()

	ids, err := m.store.DeleteExpiredTrials(ctx, now)
	if err == nil {
		return len(ids), nil
	}
	if !errors.Is(err, models.ErrBulkDeleteUnsupported) {
		return 0, models.Persistence("delete expired trials", err)
	}

	m.logger.Warn("bulk delete unsupported, deleting expired trials one by one", "error", err)
	expired, err := m.ExpiredCandidates(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.store.DeleteTrials(ctx, expired)
	if err != nil {
		return 0, models.Persistence("delete trials", err)
	}
	return n, nil
}

// ExpiredCandidates lists the trial posts a sweep would delete right now
func (m *Machine) ExpiredCandidates(ctx context.Context) ([]models.ExpiryCandidate, error) {
	now := m.now()
	candidates, err := m.store.ListExpiryCandidates(ctx, 0)
	if err != nil {
		return nil, models.Persistence("list expiry candidates", err)
	}

	expired := make([]models.ExpiryCandidate, 0, len(candidates))
	for _, c := range candidates {
		at, ok := models.ParseExpiry(c.ExpiresAt)
		if !ok {
			m.logger.Debug("skipping post with unparseable expiry", "post_id", c.ID, "expires_at", c.ExpiresAt)
			continue
		}
		if !at.After(now) {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return models.ErrorCode(err)
}

func actorID(a *identity.Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}
