package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
	"github.com/google/uuid"
)

type DomainRepository struct {
	db *sql.DB
}

func NewDomainRepository(db *sql.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

// Create inserts a new domain. CreatedAt is kept when already set, since the
// ledger derives authority from domain age.
func (r *DomainRepository) Create(ctx context.Context, d *models.Domain) error {
	d.ID = uuid.New().String()
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DomainStatusActive
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domains (id, user_id, domain, verified, publishing_enabled, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Domain, d.Verified, d.PublishingEnabled, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%w: domain %q", models.ErrConflict, d.Domain)
		}
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

// GetByID returns a domain by ID
func (r *DomainRepository) GetByID(ctx context.Context, id string) (*models.Domain, error) {
	d := &models.Domain{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, domain, verified, publishing_enabled, status, created_at, updated_at
		FROM domains WHERE id = ?`, id,
	).Scan(&d.ID, &d.UserID, &d.Domain, &d.Verified, &d.PublishingEnabled, &d.Status, &d.CreatedAt, &d.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// List returns domains with optional filtering
func (r *DomainRepository) List(ctx context.Context, filter models.DomainFilter) ([]models.Domain, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Search != "" {
		where += " AND domain LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM domains"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, user_id, domain, verified, publishing_enabled, status, created_at, updated_at
		FROM domains` + where + " ORDER BY domain"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	domains := []models.Domain{}
	for rows.Next() {
		var d models.Domain
		if err := rows.Scan(&d.ID, &d.UserID, &d.Domain, &d.Verified, &d.PublishingEnabled, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		domains = append(domains, d)
	}

	return domains, total, rows.Err()
}

const domainStatsQuery = `
	SELECT d.id, d.user_id, d.domain, d.verified, d.publishing_enabled, d.status, d.created_at, d.updated_at,
		COALESCE(p.published, 0), COALESCE(p.month, 0)
	FROM domains d
	LEFT JOIN (
		SELECT domain_id,
			SUM(CASE WHEN status = 'published' THEN 1 ELSE 0 END) AS published,
			SUM(CASE WHEN created_at >= ? AND is_trial_post = 0 THEN 1 ELSE 0 END) AS month
		FROM posts GROUP BY domain_id
	) p ON p.domain_id = d.id`

// ListWithStats returns the user's domains with total published posts and the
// number of posts created since monthStart.
func (r *DomainRepository) ListWithStats(ctx context.Context, userID string, monthStart time.Time) ([]models.DomainWithStats, error) {
	rows, err := r.db.QueryContext(ctx, domainStatsQuery+" WHERE d.user_id = ? ORDER BY d.domain",
		monthStart.UTC(), userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.DomainWithStats{}
	for rows.Next() {
		d, err := scanDomainWithStats(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

// GetWithStats returns one domain with its post counts, or nil if missing
func (r *DomainRepository) GetWithStats(ctx context.Context, id string, monthStart time.Time) (*models.DomainWithStats, error) {
	row := r.db.QueryRowContext(ctx, domainStatsQuery+" WHERE d.id = ?", monthStart.UTC(), id)
	d, err := scanDomainWithStats(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanDomainWithStats(s rowScanner) (*models.DomainWithStats, error) {
	var d models.DomainWithStats
	err := s.Scan(&d.ID, &d.UserID, &d.Domain.Domain, &d.Verified, &d.PublishingEnabled, &d.Status,
		&d.CreatedAt, &d.UpdatedAt, &d.PostsPublished, &d.CurrentMonthLinks)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateFlags updates the verification and publishing flags and status
func (r *DomainRepository) UpdateFlags(ctx context.Context, d *models.Domain) error {
	d.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE domains SET verified = ?, publishing_enabled = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		d.Verified, d.PublishingEnabled, d.Status, d.UpdatedAt, d.ID,
	)
	return err
}
