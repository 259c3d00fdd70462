// Package app wires storage, services and servers into a running process.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/linkfleet/internal/api"
	"github.com/foxzi/linkfleet/internal/campaign"
	"github.com/foxzi/linkfleet/internal/config"
	"github.com/foxzi/linkfleet/internal/content"
	"github.com/foxzi/linkfleet/internal/db"
	"github.com/foxzi/linkfleet/internal/executor"
	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/ledger"
	"github.com/foxzi/linkfleet/internal/lifecycle"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/planner"
	"github.com/foxzi/linkfleet/internal/ratelimit"
	"github.com/foxzi/linkfleet/internal/repository"
	"github.com/foxzi/linkfleet/internal/sweeper"
)

// Services are the storage-backed components shared by the server and the
// one-shot CLI commands
type Services struct {
	DB        *db.DB
	Domains   *repository.DomainRepository
	Campaigns *repository.CampaignRepository
	Posts     *repository.PostRepository
	Ledger    *ledger.Ledger
	Campaign  *campaign.Service
	Executor  *executor.Executor
	Lifecycle *lifecycle.Machine
}

// Open opens and migrates the database and builds the services on top of it
func Open(cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := conn.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Services{
		DB:        conn,
		Domains:   repository.NewDomainRepository(conn.DB),
		Campaigns: repository.NewCampaignRepository(conn.DB),
		Posts:     repository.NewPostRepository(conn.DB),
	}

	s.Ledger = ledger.New(s.Domains, cfg.Ledger, logger)

	plannerOpts := []planner.Option{
		planner.WithMaxDomains(cfg.Planner.MaxDomains),
		planner.WithLogger(logger),
	}
	if cfg.Planner.Seed != 0 {
		plannerOpts = append(plannerOpts, planner.WithSeed(cfg.Planner.Seed))
	}
	s.Campaign = campaign.New(s.Campaigns, repository.NewPlanRepository(conn.DB), s.Ledger,
		planner.New(plannerOpts...), cfg.Executor.PostsPerDomain, logger)

	s.Executor = executor.New(s.Campaigns, s.Posts, s.Campaign, s.Ledger, newGenerator(cfg.Content, logger), logger)
	s.Lifecycle = lifecycle.New(s.Posts, logger, lifecycle.WithTrialTTL(cfg.Sweeper.TrialTTL))

	return s, nil
}

// Close closes the database
func (s *Services) Close() error {
	return s.DB.Close()
}

func newGenerator(cfg config.ContentConfig, logger *slog.Logger) content.Generator {
	if cfg.Provider == "http" {
		return content.NewHTTPGenerator(content.HTTPOptions{
			BaseURL:  cfg.HTTP.BaseURL,
			APIKey:   cfg.HTTP.APIKey,
			Timeout:  cfg.HTTP.Timeout,
			Attempts: cfg.HTTP.Attempts,
			Delay:    cfg.HTTP.Delay,
			MaxDelay: cfg.HTTP.MaxDelay,
		}, logger)
	}
	return content.NewTemplateGenerator()
}

// NewAuthenticator builds the bearer token chain from the auth settings.
// Returns nil when no token source is configured.
func NewAuthenticator(ctx context.Context, cfg config.AuthConfig) (identity.Authenticator, error) {
	policy := identity.AdminPolicy{
		Emails:              cfg.AdminEmails,
		MatchEmailSubstring: cfg.AdminEmailSubstring,
	}

	var chain identity.Chain
	if cfg.JWT.Secret != "" {
		chain = append(chain, identity.NewJWTAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, policy))
	}
	if cfg.OIDC.Enabled {
		oidcAuth, err := identity.NewOIDCAuthenticator(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, policy)
		if err != nil {
			return nil, fmt.Errorf("failed to set up OIDC: %w", err)
		}
		chain = append(chain, oidcAuth)
	}

	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}

// App is the main application
type App struct {
	config        *config.Config
	services      *Services
	apiServer     *api.Server
	metricsServer *metrics.Server
	gauges        *metrics.GaugeUpdater
	sweeper       *sweeper.Sweeper
	rateLimiter   *ratelimit.Limiter
	rateLimitDB   *bolt.DB
	logger        *slog.Logger
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
	}

	services, err := Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &App{
		config:   cfg,
		services: services,
		logger:   logger,
	}

	if cfg.RateLimit.Enabled {
		if err := a.openRateLimiter(); err != nil {
			services.Close()
			return nil, err
		}
		logger.Info("rate limiting enabled", "path", cfg.RateLimit.Path)
	}

	authenticator, err := NewAuthenticator(ctx, cfg.Auth)
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	if authenticator == nil {
		logger.Warn("no token authentication configured, only anonymous and service key access")
	}

	a.sweeper = sweeper.New(services.Lifecycle, cfg.Sweeper.Interval, logger)

	a.apiServer = api.NewServer(api.Deps{
		Campaigns:     services.Campaign,
		Executor:      services.Executor,
		Ledger:        services.Ledger,
		Domains:       services.Domains,
		Lifecycle:     services.Lifecycle,
		Posts:         services.Posts,
		Sweeper:       a.sweeper,
		Authenticator: authenticator,
		Limiter:       a.rateLimiter,
	}, api.Options{
		ListenAddr:     cfg.Server.ListenAddr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		DefaultLimit:   cfg.API.DefaultPageSize,
		MaxLimit:       cfg.API.MaxPageSize,
		TrustProxy:     cfg.Server.TrustProxy,
		ServiceKeyHash: cfg.Auth.ServiceKeyHash,
		Version:        version,
	}, logger)

	if m != nil {
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.gauges = metrics.NewGaugeUpdater(m, metrics.PostCounterFunc(func(ctx context.Context) (*metrics.PostCounts, error) {
			trial, claimed, err := services.Posts.CountByState(ctx)
			if err != nil {
				return nil, err
			}
			return &metrics.PostCounts{Trial: trial, Claimed: claimed}, nil
		}), cfg.Metrics.UpdateInterval, logger)
	}

	return a, nil
}

func (a *App) openRateLimiter() error {
	path := a.config.RateLimit.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create rate limit directory: %w", err)
	}
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open rate limit database: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(bdb, &a.config.RateLimit.Config, a.logger)
	if err != nil {
		bdb.Close()
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	a.rateLimitDB = bdb
	a.rateLimiter = limiter
	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting linkfleet",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"sweeper", a.config.Sweeper.Enabled,
		"metrics", a.metricsServer != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.config.Sweeper.Enabled {
		a.sweeper.Start(ctx)
	}
	if a.gauges != nil {
		a.gauges.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before the background workers go away
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.sweeper.Stop()
	if a.gauges != nil {
		a.gauges.Stop()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.closeStorage()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeStorage() {
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}
	if a.rateLimitDB != nil {
		if err := a.rateLimitDB.Close(); err != nil {
			a.logger.Error("rate limit storage close error", "error", err)
		}
	}
	if err := a.services.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
