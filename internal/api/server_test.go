package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/linkfleet/internal/campaign"
	"github.com/foxzi/linkfleet/internal/content"
	"github.com/foxzi/linkfleet/internal/db"
	"github.com/foxzi/linkfleet/internal/executor"
	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/ledger"
	"github.com/foxzi/linkfleet/internal/lifecycle"
	"github.com/foxzi/linkfleet/internal/models"
	"github.com/foxzi/linkfleet/internal/planner"
	"github.com/foxzi/linkfleet/internal/ratelimit"
	"github.com/foxzi/linkfleet/internal/repository"
	"github.com/foxzi/linkfleet/internal/sweeper"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	testServiceKey = "service-key-for-tests"
)

type testEnv struct {
	t       *testing.T
	server  *Server
	auth    *identity.JWTAuthenticator
	domains *repository.DomainRepository
	posts   *repository.PostRepository
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()

	conn, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	campaigns := repository.NewCampaignRepository(conn.DB)
	domains := repository.NewDomainRepository(conn.DB)
	posts := repository.NewPostRepository(conn.DB)

	led := ledger.New(domains, ledger.DefaultPolicy(), nil)
	svc := campaign.New(campaigns, repository.NewPlanRepository(conn.DB), led, planner.New(planner.WithSeed(7)), 2, nil)
	exec := executor.New(campaigns, posts, svc, led, content.NewTemplateGenerator(), nil)
	machine := lifecycle.New(posts, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testServiceKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}

	auth := identity.NewJWTAuthenticator(testSecret, "linkfleet", "", identity.AdminPolicy{Emails: []string{"root@example.com"}})
	deps := Deps{
		Campaigns:     svc,
		Executor:      exec,
		Ledger:        led,
		Domains:       domains,
		Lifecycle:     machine,
		Posts:         posts,
		Sweeper:       sweeper.New(machine, time.Hour, nil),
		Authenticator: auth,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}

	return &testEnv{
		t:       t,
		server:  NewServer(deps, Options{ServiceKeyHash: string(hash), Version: "test"}, nil),
		auth:    auth,
		domains: domains,
		posts:   posts,
	}
}

func (e *testEnv) token(id, email string) string {
	e.t.Helper()
	tok, err := e.auth.Sign(&identity.Actor{ID: id, Email: email}, time.Hour)
	if err != nil {
		e.t.Fatalf("failed to sign token: %v", err)
	}
	return tok
}

// do sends a request. headers alternate between name and value.
func (e *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addDomain(owner, name string, age time.Duration) *models.Domain {
	e.t.Helper()
	d := &models.Domain{
		UserID:            owner,
		Domain:            name,
		Verified:          true,
		PublishingEnabled: true,
		CreatedAt:         time.Now().Add(-age),
	}
	if err := e.domains.Create(context.Background(), d); err != nil {
		e.t.Fatalf("failed to create domain: %v", err)
	}
	return d
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", nil)
	expectStatus(t, rec, http.StatusOK)

	health := decodeBody[HealthResponse](t, rec)
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("unexpected health response: %+v", health)
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"garbage token", bearer("not-a-jwt"), http.StatusUnauthorized},
		{"basic scheme", []string{"Authorization", "Basic dXNlcjpwYXNz"}, http.StatusUnauthorized},
		{"wrong service key", []string{"X-API-Key", "wrong"}, http.StatusUnauthorized},
		{"valid token", bearer(env.token("user-1", "user1@example.com")), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/v1/campaigns", nil, tt.headers...)
			expectStatus(t, rec, tt.want)
			if tt.want == http.StatusUnauthorized {
				resp := decodeBody[ErrorResponse](t, rec)
				if resp.Code != "auth_required" {
					t.Errorf("expected code auth_required, got %q", resp.Code)
				}
			}
		})
	}
}

func TestCampaignFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := bearer(env.token("user-1", "user1@example.com"))
	other := bearer(env.token("user-2", "user2@example.com"))
	admin := bearer(env.token("root", "root@example.com"))

	env.addDomain("user-1", "alpha.example.com", 45*24*time.Hour)
	env.addDomain("user-1", "beta.example.com", 25*24*time.Hour)

	rec := env.do(http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
		Name:        "Spring launch",
		TargetURL:   "https://shop.example.com",
		AnchorTexts: []string{"best shoes", "running shoes"},
		Keywords:    []string{"shoes"},
	}, owner...)
	expectStatus(t, rec, http.StatusCreated)
	c := decodeBody[models.Campaign](t, rec)
	if c.Status != models.CampaignDraft || c.UserID != "user-1" {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	base := "/api/v1/campaigns/" + c.ID

	expectStatus(t, env.do(http.MethodGet, base, nil, other...), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, base, nil, admin...), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, base+"/plan", nil, owner...), http.StatusNotFound)

	rec = env.do(http.MethodPost, base+"/plan", PlanRequest{PostsPerDomain: 1}, owner...)
	expectStatus(t, rec, http.StatusCreated)
	plan := decodeBody[models.DistributionPlan](t, rec)
	if plan.TotalPosts != 2 || plan.DomainsCount != 2 {
		t.Fatalf("expected 2 posts over 2 domains, got %d over %d", plan.TotalPosts, plan.DomainsCount)
	}

	rec = env.do(http.MethodGet, base+"/plan", nil, owner...)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[models.DistributionPlan](t, rec); got.ID != plan.ID {
		t.Errorf("expected latest plan %s, got %s", plan.ID, got.ID)
	}

	rec = env.do(http.MethodPost, base+"/execute", nil, owner...)
	expectStatus(t, rec, http.StatusOK)
	res := decodeBody[ExecuteResponse](t, rec)
	if res.PostsCreated != 2 || res.Skipped != 0 {
		t.Errorf("expected 2 posts and no skips, got %d and %d", res.PostsCreated, res.Skipped)
	}

	rec = env.do(http.MethodGet, base, nil, owner...)
	if got := decodeBody[models.Campaign](t, rec); got.Status != models.CampaignActive || got.PostsCreated != 2 {
		t.Errorf("expected active campaign with 2 posts, got %s with %d", got.Status, got.PostsCreated)
	}

	rec = env.do(http.MethodPut, base+"/status", StatusRequest{Status: models.CampaignPaused}, owner...)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(http.MethodPost, base+"/execute", nil, owner...)
	expectStatus(t, rec, http.StatusConflict)
	if resp := decodeBody[ErrorResponse](t, rec); resp.Code != "not_executable" {
		t.Errorf("expected not_executable, got %q", resp.Code)
	}

	expectStatus(t, env.do(http.MethodPut, base+"/status", StatusRequest{Status: models.CampaignDraft}, owner...), http.StatusBadRequest)

	rec = env.do(http.MethodGet, "/api/v1/campaigns", nil, other...)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[ListResponse[models.Campaign]](t, rec); list.Total != 0 {
		t.Errorf("expected no campaigns for another user, got %d", list.Total)
	}
}

func TestBuildPlan_NoEligibleDomains(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := bearer(env.token("user-1", "user1@example.com"))

	rec := env.do(http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
		Name:        "Empty",
		TargetURL:   "https://shop.example.com",
		AnchorTexts: []string{"shoes"},
	}, owner...)
	expectStatus(t, rec, http.StatusCreated)
	c := decodeBody[models.Campaign](t, rec)

	rec = env.do(http.MethodPost, "/api/v1/campaigns/"+c.ID+"/plan", nil, owner...)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
}

func TestCreateCampaign_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := bearer(env.token("user-1", "user1@example.com"))

	rec := env.do(http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{Name: "No target"}, owner...)
	expectStatus(t, rec, http.StatusBadRequest)
	if resp := decodeBody[ErrorResponse](t, rec); resp.Code != "validation_error" {
		t.Errorf("expected validation_error, got %q", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewBufferString("{not json"))
	req.Header.Set(owner[0], owner[1])
	raw := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(raw, req)
	expectStatus(t, raw, http.StatusBadRequest)
}

func TestDomains(t *testing.T) {
	env := newTestEnv(t, nil)
	user := bearer(env.token("user-1", "user1@example.com"))
	admin := bearer(env.token("root", "root@example.com"))

	body := CreateDomainRequest{Domain: "https://News.Example.COM/", UserID: "user-1", Verified: true, PublishingEnabled: true}

	expectStatus(t, env.do(http.MethodPost, "/api/v1/domains", body, user...), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPost, "/api/v1/domains", body), http.StatusUnauthorized)

	rec := env.do(http.MethodPost, "/api/v1/domains", body, admin...)
	expectStatus(t, rec, http.StatusCreated)
	profile := decodeBody[models.DomainProfile](t, rec)
	if profile.Domain.Domain != "news.example.com" {
		t.Errorf("expected normalized domain, got %q", profile.Domain.Domain)
	}
	if profile.LinkCapacity <= 0 {
		t.Errorf("expected positive capacity, got %d", profile.LinkCapacity)
	}

	expectStatus(t, env.do(http.MethodPost, "/api/v1/domains", body, admin...), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, "/api/v1/domains", CreateDomainRequest{Domain: "not a domain"}, admin...), http.StatusBadRequest)

	rec = env.do(http.MethodGet, "/api/v1/domains/eligible", nil, user...)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[ListResponse[models.DomainProfile]](t, rec); list.Total != 1 {
		t.Errorf("expected 1 eligible domain, got %d", list.Total)
	}

	rec = env.do(http.MethodGet, "/api/v1/domains", nil, admin...)
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[ListResponse[models.DomainProfile]](t, rec); list.Total != 0 {
		t.Errorf("expected admin to own no domains, got %d", list.Total)
	}
}

func TestTrialPostLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := bearer(env.token("user-1", "user1@example.com"))
	other := bearer(env.token("user-2", "user2@example.com"))
	d := env.addDomain("user-9", "blog.example.com", 10*24*time.Hour)

	rec := env.do(http.MethodPost, "/api/v1/posts", CreatePostRequest{
		DomainID:  d.ID,
		Title:     "Ten Tips for Trail Running!",
		Content:   "Body",
		TargetURL: "https://shop.example.com",
	})
	expectStatus(t, rec, http.StatusCreated)
	post := decodeBody[models.Post](t, rec)
	if post.Slug != "ten-tips-for-trail-running" {
		t.Errorf("unexpected slug %q", post.Slug)
	}
	if post.Claimed || post.ExpiresAt == nil || !post.IsTrialPost {
		t.Fatalf("expected a trial post, got %+v", post)
	}
	path := "/api/v1/posts/" + post.Slug

	expectStatus(t, env.do(http.MethodPost, "/api/v1/posts", CreatePostRequest{
		DomainID: d.ID, Title: "Ten tips for trail running", Content: "Again",
	}), http.StatusConflict)

	expectStatus(t, env.do(http.MethodPost, path+"/claim", nil), http.StatusUnauthorized)

	rec = env.do(http.MethodPost, path+"/claim", nil, owner...)
	expectStatus(t, rec, http.StatusOK)
	claimed := decodeBody[models.Post](t, rec)
	if !claimed.Claimed || claimed.ExpiresAt != nil || !claimed.OwnedBy("user-1") {
		t.Fatalf("expected claimed post owned by user-1, got %+v", claimed)
	}

	expectStatus(t, env.do(http.MethodPost, path+"/claim", nil, other...), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, path+"/unclaim", nil, other...), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, path, nil), http.StatusForbidden)

	rec = env.do(http.MethodPost, path+"/unclaim", nil, owner...)
	expectStatus(t, rec, http.StatusOK)
	if p := decodeBody[models.Post](t, rec); p.Claimed || p.ExpiresAt == nil {
		t.Fatalf("expected trial post after unclaim, got %+v", p)
	}

	expectStatus(t, env.do(http.MethodDelete, path, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodGet, path, nil), http.StatusNotFound)
}

func TestCreateTrialPost_DomainChecks(t *testing.T) {
	env := newTestEnv(t, nil)

	expectStatus(t, env.do(http.MethodPost, "/api/v1/posts", CreatePostRequest{
		DomainID: "missing", Title: "Hello", Content: "Body",
	}), http.StatusNotFound)

	d := &models.Domain{UserID: "user-9", Domain: "draft.example.com"}
	if err := env.domains.Create(context.Background(), d); err != nil {
		t.Fatalf("failed to create domain: %v", err)
	}
	expectStatus(t, env.do(http.MethodPost, "/api/v1/posts", CreatePostRequest{
		DomainID: d.ID, Title: "Hello", Content: "Body",
	}), http.StatusBadRequest)

	expectStatus(t, env.do(http.MethodPost, "/api/v1/posts", CreatePostRequest{
		DomainID: d.ID, Title: "!!!", Content: "Body",
	}), http.StatusBadRequest)
}

func TestClaimExpiredPost(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := bearer(env.token("user-1", "user1@example.com"))
	d := env.addDomain("user-9", "old.example.com", 10*24*time.Hour)

	expired := models.FormatExpiry(time.Now().Add(-time.Hour))
	p := &models.Post{
		Slug:        "stale",
		DomainID:    d.ID,
		Status:      models.PostPublished,
		Title:       "Stale",
		Content:     "Body",
		IsTrialPost: true,
		ExpiresAt:   &expired,
	}
	if err := env.posts.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create post: %v", err)
	}

	rec := env.do(http.MethodPost, "/api/v1/posts/stale/claim", nil, owner...)
	expectStatus(t, rec, http.StatusGone)
	if resp := decodeBody[ErrorResponse](t, rec); resp.Code != "expired" {
		t.Errorf("expected code expired, got %q", resp.Code)
	}
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t, nil)
	d := env.addDomain("user-9", "sweep.example.com", 10*24*time.Hour)

	for i, offset := range []time.Duration{-time.Hour, -time.Minute, time.Hour} {
		expires := models.FormatExpiry(time.Now().Add(offset))
		p := &models.Post{
			Slug:        fmt.Sprintf("trial-%d", i),
			DomainID:    d.ID,
			Status:      models.PostPublished,
			Title:       "Trial",
			Content:     "Body",
			IsTrialPost: true,
			ExpiresAt:   &expires,
		}
		if err := env.posts.Create(context.Background(), p); err != nil {
			t.Fatalf("failed to create post: %v", err)
		}
	}

	expectStatus(t, env.do(http.MethodPost, "/api/v1/sweep", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodPost, "/api/v1/sweep", nil, bearer(env.token("user-1", "user1@example.com"))...), http.StatusForbidden)

	rec := env.do(http.MethodPost, "/api/v1/sweep", nil, "X-API-Key", testServiceKey)
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[SweepResponse](t, rec); res.Deleted != 2 {
		t.Errorf("expected 2 expired posts deleted, got %d", res.Deleted)
	}

	expectStatus(t, env.do(http.MethodGet, "/api/v1/posts/trial-2", nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/api/v1/posts/trial-0", nil), http.StatusNotFound)
}

func TestRateLimit(t *testing.T) {
	bdb, err := bolt.Open(filepath.Join(t.TempDir(), "ratelimit.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })

	limiter, err := ratelimit.NewLimiter(bdb, &ratelimit.Config{
		IP:            &ratelimit.LimitConfig{RequestsPerHour: 2},
		FlushInterval: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })

	env := newTestEnv(t, limiter)

	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(http.MethodGet, "/api/v1/posts/missing", nil), http.StatusNotFound)
	}

	rec := env.do(http.MethodGet, "/api/v1/posts/missing", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if resp := decodeBody[ErrorResponse](t, rec); resp.Code != "rate_limited" {
		t.Errorf("expected code rate_limited, got %q", resp.Code)
	}

	// service callers bypass limits
	expectStatus(t, env.do(http.MethodGet, "/api/v1/posts/missing", nil, "X-API-Key", testServiceKey), http.StatusNotFound)

	// authenticated callers still share the IP limit
	admin := bearer(env.token("root", "root@example.com"))
	expectStatus(t, env.do(http.MethodGet, "/api/v1/ratelimits/ip/192.0.2.1", nil, admin...), http.StatusTooManyRequests)
}

func TestRateLimitStats(t *testing.T) {
	bdb, err := bolt.Open(filepath.Join(t.TempDir(), "ratelimit.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })

	limiter, err := ratelimit.NewLimiter(bdb, &ratelimit.Config{
		Actor:         &ratelimit.LimitConfig{RequestsPerHour: 100},
		FlushInterval: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })

	env := newTestEnv(t, limiter)
	admin := bearer(env.token("root", "root@example.com"))
	user := bearer(env.token("user-1", "user1@example.com"))

	expectStatus(t, env.do(http.MethodGet, "/api/v1/ratelimits/actor/root", nil, user...), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/api/v1/ratelimits/nope/root", nil, admin...), http.StatusBadRequest)

	rec := env.do(http.MethodGet, "/api/v1/ratelimits/actor/user-1", nil, admin...)
	expectStatus(t, rec, http.StatusOK)
	stats := decodeBody[RateLimitStatsResponse](t, rec)
	if stats.HourlyCount != 1 || !stats.Allowed {
		t.Errorf("expected one counted request for user-1, got %+v", stats.Stats)
	}
}

func TestRateLimitStats_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := bearer(env.token("root", "root@example.com"))

	expectStatus(t, env.do(http.MethodGet, "/api/v1/ratelimits/global/global", nil, admin...), http.StatusServiceUnavailable)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Validationf("bad"), http.StatusBadRequest},
		{models.ErrAuthRequired, http.StatusUnauthorized},
		{models.ErrPermissionDenied, http.StatusForbidden},
		{models.ErrNotOwner, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrNotClaimable, http.StatusConflict},
		{models.ErrNotClaimed, http.StatusConflict},
		{errNotExecutable, http.StatusConflict},
		{models.Persistence("create trial post", fmt.Errorf("%w: slug", models.ErrConflict)), http.StatusConflict},
		{models.ErrExpired, http.StatusGone},
		{models.ErrNoEligibleDomains, http.StatusUnprocessableEntity},
		{models.Persistence("get post", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, expected %d", tt.err, got, tt.want)
		}
	}
}

func TestSendError_HidesInternalDetail(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.server.sendError(rec, models.Persistence("get post", errors.New("database is locked")))
	expectStatus(t, rec, http.StatusInternalServerError)

	resp := decodeBody[ErrorResponse](t, rec)
	if resp.Error != "internal error" || resp.Code != "persistence_error" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
