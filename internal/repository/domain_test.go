package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
)

func TestDomainRepository_CreateAndGet(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewDomainRepository(conn)
	ctx := context.Background()

	created := time.Now().UTC().Add(-400 * 24 * time.Hour).Truncate(time.Second)
	d := &models.Domain{UserID: "u1", Domain: "blog.example.com", Verified: true, CreatedAt: created}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if d.ID == "" {
		t.Fatal("expected ID to be set")
	}
	if d.Status != models.DomainStatusActive {
		t.Errorf("expected default status active, got %q", d.Status)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected domain, got nil")
	}
	if got.Domain != "blog.example.com" || !got.Verified || got.PublishingEnabled {
		t.Errorf("unexpected domain: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v to be kept, got %v", created, got.CreatedAt)
	}
}

func TestDomainRepository_GetByIDMissing(t *testing.T) {
	repo := NewDomainRepository(setupTestDB(t))

	got, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestDomainRepository_DuplicateName(t *testing.T) {
	conn := setupTestDB(t)
	createTestDomain(t, conn, "u1", "dup.example.com")

	err := NewDomainRepository(conn).Create(context.Background(), &models.Domain{UserID: "u2", Domain: "dup.example.com"})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDomainRepository_List(t *testing.T) {
	conn := setupTestDB(t)
	createTestDomain(t, conn, "u1", "b.example.com")
	createTestDomain(t, conn, "u1", "a.example.com")
	createTestDomain(t, conn, "u2", "c.example.com")

	repo := NewDomainRepository(conn)
	domains, total, err := repo.List(context.Background(), models.DomainFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(domains) != 2 {
		t.Fatalf("expected 2 domains, got total=%d len=%d", total, len(domains))
	}
	if domains[0].Domain != "a.example.com" {
		t.Errorf("expected sorted by name, got %s first", domains[0].Domain)
	}

	domains, _, err = repo.List(context.Background(), models.DomainFilter{Search: "c.example"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(domains) != 1 {
		t.Errorf("expected 1 domain for search, got %d", len(domains))
	}
}

func TestDomainRepository_ListWithStats(t *testing.T) {
	conn := setupTestDB(t)
	d := createTestDomain(t, conn, "u1", "stats.example.com")
	createTestDomain(t, conn, "u1", "empty.example.com")

	now := time.Now().UTC()
	start := monthStart(now)

	createTestPost(t, conn, d.ID, "this-month-1", nil)
	createTestPost(t, conn, d.ID, "this-month-2", func(p *models.Post) { p.Status = models.PostDraft })
	createTestPost(t, conn, d.ID, "last-month", func(p *models.Post) { p.CreatedAt = start.Add(-48 * time.Hour) })
	createTestPost(t, conn, d.ID, "trial", func(p *models.Post) { p.IsTrialPost = true })

	stats, err := NewDomainRepository(conn).ListWithStats(context.Background(), "u1", start)
	if err != nil {
		t.Fatalf("ListWithStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 domains, got %d", len(stats))
	}

	byName := map[string]models.DomainWithStats{}
	for _, s := range stats {
		byName[s.Domain.Domain] = s
	}

	got := byName["stats.example.com"]
	if got.PostsPublished != 3 {
		t.Errorf("expected 3 published posts, got %d", got.PostsPublished)
	}
	if got.CurrentMonthLinks != 2 {
		t.Errorf("expected 2 non-trial posts this month, got %d", got.CurrentMonthLinks)
	}

	empty := byName["empty.example.com"]
	if empty.PostsPublished != 0 || empty.CurrentMonthLinks != 0 {
		t.Errorf("expected zero stats, got %+v", empty.DomainStats)
	}
}

func TestDomainRepository_GetWithStats(t *testing.T) {
	conn := setupTestDB(t)
	d := createTestDomain(t, conn, "u1", "one.example.com")
	createTestPost(t, conn, d.ID, "p1", nil)

	repo := NewDomainRepository(conn)
	got, err := repo.GetWithStats(context.Background(), d.ID, monthStart(time.Now()))
	if err != nil {
		t.Fatalf("GetWithStats failed: %v", err)
	}
	if got == nil || got.PostsPublished != 1 || got.CurrentMonthLinks != 1 {
		t.Errorf("unexpected stats: %+v", got)
	}

	missing, err := repo.GetWithStats(context.Background(), "missing", time.Now())
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil; got %+v, %v", missing, err)
	}
}

func TestDomainRepository_UpdateFlags(t *testing.T) {
	conn := setupTestDB(t)
	d := createTestDomain(t, conn, "u1", "flags.example.com")
	repo := NewDomainRepository(conn)

	d.PublishingEnabled = false
	d.Status = models.DomainStatusInactive
	if err := repo.UpdateFlags(context.Background(), d); err != nil {
		t.Fatalf("UpdateFlags failed: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), d.ID)
	if got.PublishingEnabled || got.Status != models.DomainStatusInactive {
		t.Errorf("flags not updated: %+v", got)
	}
}
