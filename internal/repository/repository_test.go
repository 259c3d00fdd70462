package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/foxzi/linkfleet/internal/db"
	"github.com/foxzi/linkfleet/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open(db.DriverName, ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("failed to apply migration: %v", err)
		}
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func createTestDomain(t *testing.T, conn *sql.DB, userID, name string) *models.Domain {
	t.Helper()
	d := &models.Domain{
		UserID:            userID,
		Domain:            name,
		Verified:          true,
		PublishingEnabled: true,
	}
	if err := NewDomainRepository(conn).Create(context.Background(), d); err != nil {
		t.Fatalf("failed to create domain: %v", err)
	}
	return d
}

func createTestPost(t *testing.T, conn *sql.DB, domainID, slug string, mutate func(*models.Post)) *models.Post {
	t.Helper()
	p := &models.Post{
		Slug:     slug,
		DomainID: domainID,
		Title:    "Post " + slug,
		Content:  "<p>body</p>",
	}
	if mutate != nil {
		mutate(p)
	}
	if err := NewPostRepository(conn).Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return p
}

func strPtr(s string) *string { return &s }

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
