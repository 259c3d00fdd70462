package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/foxzi/linkfleet/internal/models"
)

// DriverName is the sqlite3 driver with the linkfleet SQL functions
// registered on every connection
const DriverName = "sqlite3_linkfleet"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("expiry_passed", expiryPassed, true)
		},
	})
}

// expiryPassed implements expiry_passed(expires_at, now_unix_nano). NULL and
// non-text values never pass.
func expiryPassed(value any, nowUnixNano int64) bool {
	s, ok := value.(string)
	return ok && models.ExpiryPassed(s, time.Unix(0, nowUnixNano))
}

type DB struct {
	*sql.DB
}

// New opens the SQLite database at path. ":memory:" opens a private
// in-memory database limited to a single connection.
func New(path string) (*DB, error) {
	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if memory {
		dsn = path
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// Migrate creates the schema. Every statement is idempotent.
func (db *DB) Migrate() error {
	for _, m := range Migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Migrations is the ordered schema, exported for tests that open their own
// connection.
var Migrations = []string{
	migrationDomains,
	migrationCampaigns,
	migrationDistributionPlans,
	migrationPosts,
}

const migrationDomains = `
CREATE TABLE IF NOT EXISTS domains (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    domain TEXT UNIQUE NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    publishing_enabled INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_domains_user_id ON domains(user_id);
`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    target_url TEXT NOT NULL,
    anchor_texts JSON NOT NULL DEFAULT '[]',
    keywords JSON NOT NULL DEFAULT '[]',
    domains JSON NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'draft',
    posts_created INTEGER NOT NULL DEFAULT 0,
    links_built INTEGER NOT NULL DEFAULT 0,
    rotation_strategy TEXT NOT NULL DEFAULT 'random',
    content_quality TEXT NOT NULL DEFAULT 'standard',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_campaigns_user_id ON campaigns(user_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
`

const migrationDistributionPlans = `
CREATE TABLE IF NOT EXISTS distribution_plans (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    assignments JSON NOT NULL DEFAULT '[]',
    total_posts INTEGER NOT NULL DEFAULT 0,
    domains_count INTEGER NOT NULL DEFAULT 0,
    estimated_completion TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_distribution_plans_campaign ON distribution_plans(campaign_id, created_at);
`

const migrationPosts = `
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    slug TEXT UNIQUE NOT NULL,
    domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
    user_id TEXT,
    claimed INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'published',
    title TEXT NOT NULL,
    content TEXT,
    excerpt TEXT,
    meta_description TEXT,
    target_url TEXT,
    anchor_text TEXT,
    keyword TEXT,
    expires_at TEXT,
    is_trial_post INTEGER NOT NULL DEFAULT 0,
    campaign_id TEXT REFERENCES campaigns(id) ON DELETE SET NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_posts_domain_created ON posts(domain_id, created_at);
CREATE INDEX IF NOT EXISTS idx_posts_trial ON posts(is_trial_post, claimed);
CREATE INDEX IF NOT EXISTS idx_posts_campaign ON posts(campaign_id);
`
