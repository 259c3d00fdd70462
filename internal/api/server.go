// Package api exposes campaigns, domains and the post lifecycle over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/linkfleet/internal/executor"
	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/models"
	"github.com/foxzi/linkfleet/internal/ratelimit"
	"github.com/foxzi/linkfleet/internal/sweeper"
)

// CampaignService manages campaigns and plans
type CampaignService interface {
	Create(ctx context.Context, c *models.Campaign, actor *identity.Actor) error
	List(ctx context.Context, filter models.CampaignListFilter, actor *identity.Actor) ([]models.Campaign, int, error)
	Authorize(ctx context.Context, id string, actor *identity.Actor) (*models.Campaign, error)
	SetStatus(ctx context.Context, id, status string, actor *identity.Actor) (*models.Campaign, error)
	BuildPlan(ctx context.Context, c *models.Campaign, postsPerDomain int) (*models.DistributionPlan, error)
	LatestPlan(ctx context.Context, campaignID string) (*models.DistributionPlan, error)
}

// Executor runs campaigns
type Executor interface {
	Execute(ctx context.Context, campaignID string) (*executor.Result, error)
}

// DomainLedger answers capacity questions
type DomainLedger interface {
	Profiles(ctx context.Context, ownerID string) ([]models.DomainProfile, error)
	EligibleDomains(ctx context.Context, ownerID string) ([]models.DomainProfile, error)
	Profile(ctx context.Context, domainID string) (*models.DomainProfile, error)
}

// DomainStore registers domains
type DomainStore interface {
	Create(ctx context.Context, d *models.Domain) error
}

// Lifecycle applies post transitions
type Lifecycle interface {
	CreateTrial(ctx context.Context, p *models.Post) error
	Claim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error)
	Unclaim(ctx context.Context, slug string, actor *identity.Actor) (*models.Post, error)
	Delete(ctx context.Context, slug string, actor *identity.Actor) error
}

// PostReader loads posts
type PostReader interface {
	GetBySlug(ctx context.Context, slug string) (*models.Post, error)
}

// Sweeper runs one expiration pass
type Sweeper interface {
	Sweep(ctx context.Context) (*sweeper.Result, error)
}

// Deps are the services the API calls
type Deps struct {
	Campaigns CampaignService
	Executor  Executor
	Ledger    DomainLedger
	Domains   DomainStore
	Lifecycle Lifecycle
	Posts     PostReader
	Sweeper   Sweeper

	// Optional
	Authenticator identity.Authenticator
	Limiter       *ratelimit.Limiter
}

// Options are the HTTP settings of the API
type Options struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodyBytes   int64
	DefaultLimit   int
	MaxLimit       int
	TrustProxy     bool
	ServiceKeyHash string
	Version        string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	opts       Options
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = max(opts.DefaultLimit, 500)
	}
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		opts:      opts,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.identify)
		r.Use(s.rateLimit)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}/status", s.handleCampaignStatus)
			r.Post("/{id}/plan", s.handleBuildPlan)
			r.Get("/{id}/plan", s.handleGetPlan)
			r.Post("/{id}/execute", s.handleExecute)
		})

		r.Route("/domains", func(r chi.Router) {
			r.Get("/", s.handleListDomains)
			r.Post("/", s.handleCreateDomain)
			r.Get("/eligible", s.handleEligibleDomains)
		})

		r.Route("/posts", func(r chi.Router) {
			r.Post("/", s.handleCreateTrialPost)
			r.Get("/{slug}", s.handleGetPost)
			r.Delete("/{slug}", s.handleDeletePost)
			r.Post("/{slug}/claim", s.handleClaimPost)
			r.Post("/{slug}/unclaim", s.handleUnclaimPost)
		})

		r.Post("/sweep", s.handleSweep)
		r.Get("/ratelimits/{level}/{key}", s.handleRateLimitStats)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.opts.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
