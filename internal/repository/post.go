package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `id, slug, domain_id, user_id, claimed, status, title, COALESCE(content, ''),
	COALESCE(excerpt, ''), COALESCE(meta_description, ''), COALESCE(target_url, ''),
	COALESCE(anchor_text, ''), COALESCE(keyword, ''), expires_at, is_trial_post, campaign_id,
	created_at, updated_at`

const postInsertColumns = `id, slug, domain_id, user_id, claimed, status, title, content, excerpt,
	meta_description, target_url, anchor_text, keyword, expires_at, is_trial_post, campaign_id,
	created_at, updated_at`

// expiredTrialCondition selects trial posts whose expires_at parses and is at
// or before the bound time, given in Unix nanoseconds. expiry_passed is
// registered by the db package and applies models.ExpiryPassed.
const expiredTrialCondition = `claimed = 0
	AND expires_at IS NOT NULL
	AND expiry_passed(expires_at, ?)`

func (r *PostRepository) prepare(p *models.Post) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.PostPublished
	}
}

func (r *PostRepository) insertArgs(p *models.Post) []any {
	return []any{
		p.ID, p.Slug, p.DomainID, p.UserID, p.Claimed, p.Status, p.Title, p.Content, p.Excerpt,
		p.MetaDescription, p.TargetURL, p.AnchorText, p.Keyword, p.ExpiresAt, p.IsTrialPost, p.CampaignID,
		p.CreatedAt.UTC(), p.UpdatedAt,
	}
}

// Create inserts a post without a capacity check
func (r *PostRepository) Create(ctx context.Context, p *models.Post) error {
	r.prepare(p)
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO posts ("+postInsertColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.insertArgs(p)...,
	)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%w: slug %q", models.ErrConflict, p.Slug)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// CreateWithinCapacity inserts the post only while the domain has fewer than
// capacity posts created since monthStart. The count and the insert run as a
// single statement so concurrent executions cannot overshoot the capacity.
// Returns models.ErrCapacityExceeded when nothing was inserted.
func (r *PostRepository) CreateWithinCapacity(ctx context.Context, p *models.Post, capacity int, monthStart time.Time) error {
	r.prepare(p)
	args := append(r.insertArgs(p), p.DomainID, monthStart.UTC(), capacity)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (`+postInsertColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM posts
			WHERE domain_id = ? AND created_at >= ? AND is_trial_post = 0) < ?`,
		args...,
	)
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("%w: slug %q", models.ErrConflict, p.Slug)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrCapacityExceeded
	}
	return nil
}

// GetBySlug returns a post by slug
func (r *PostRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE slug = ?", slug)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns posts with optional filtering, newest first
func (r *PostRepository) List(ctx context.Context, filter models.PostFilter) ([]models.Post, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.DomainID != "" {
		where += " AND domain_id = ?"
		args = append(args, filter.DomainID)
	}
	if filter.CampaignID != "" {
		where += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.TrialOnly {
		where += " AND claimed = 0"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + postColumns + " FROM posts" + where + " ORDER BY created_at DESC"
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

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, *p)
	}
	return posts, total, rows.Err()
}

// Claim moves a trial post to userID. The update only applies while the post
// is still unclaimed; the returned bool is false when another request won.
func (r *PostRepository) Claim(ctx context.Context, slug, userID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET user_id = ?, claimed = 1, is_trial_post = 0, expires_at = NULL, updated_at = ?
		WHERE slug = ? AND claimed = 0`,
		userID, now.UTC(), slug,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Unclaim returns a post owned by ownerID to the trial state with a new expiry
func (r *PostRepository) Unclaim(ctx context.Context, slug, ownerID string, expiresAt, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET user_id = NULL, claimed = 0, is_trial_post = 1, expires_at = ?, updated_at = ?
		WHERE slug = ? AND claimed = 1 AND user_id = ?`,
		models.FormatExpiry(expiresAt), now.UTC(), slug, ownerID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteBySlug deletes the post only if its claimed flag still matches.
// The returned bool is false when no row was removed.
func (r *PostRepository) DeleteBySlug(ctx context.Context, slug string, claimed bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM posts WHERE slug = ? AND claimed = ?", slug, claimed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteExpiredTrials removes every trial post whose expiry is at or before
// now in one statement and returns the deleted ids. Returns
// models.ErrBulkDeleteUnsupported when the linked SQLite cannot run it.
func (r *PostRepository) DeleteExpiredTrials(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"DELETE FROM posts WHERE "+expiredTrialCondition+" RETURNING id",
		now.UnixNano(),
	)
	if err != nil {
		if bulkUnsupported(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrBulkDeleteUnsupported, err)
		}
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpiryCandidates returns unclaimed posts that carry any expires_at
// value, parsed or not. limit <= 0 means no limit.
func (r *PostRepository) ListExpiryCandidates(ctx context.Context, limit int) ([]models.ExpiryCandidate, error) {
	query := "SELECT id, expires_at FROM posts WHERE claimed = 0 AND expires_at IS NOT NULL ORDER BY created_at"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := []models.ExpiryCandidate{}
	for rows.Next() {
		var c models.ExpiryCandidate
		if err := rows.Scan(&c.ID, &c.ExpiresAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// DeleteTrials deletes the given candidates in one transaction. A row is only
// removed if it is still unclaimed and its expires_at is unchanged.
func (r *PostRepository) DeleteTrials(ctx context.Context, candidates []models.ExpiryCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM posts WHERE id = ? AND claimed = 0 AND expires_at = ?")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	deleted := 0
	for _, c := range candidates {
		res, err := stmt.ExecContext(ctx, c.ID, c.ExpiresAt)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

// CountByState returns the number of unclaimed and claimed posts
func (r *PostRepository) CountByState(ctx context.Context) (trial, claimed int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN claimed = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN claimed = 1 THEN 1 ELSE 0 END), 0)
		FROM posts`,
	).Scan(&trial, &claimed)
	return trial, claimed, err
}

// uniqueViolation reports whether err is a UNIQUE constraint failure
func uniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// bulkUnsupported reports whether err comes from an SQLite build without
// RETURNING or the date functions.
func bulkUnsupported(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, `near "RETURNING"`) || strings.Contains(msg, "no such function")
}

func scanPost(s rowScanner) (*models.Post, error) {
	var p models.Post
	var userID, expiresAt, campaignID sql.NullString
	err := s.Scan(&p.ID, &p.Slug, &p.DomainID, &userID, &p.Claimed, &p.Status, &p.Title, &p.Content,
		&p.Excerpt, &p.MetaDescription, &p.TargetURL, &p.AnchorText, &p.Keyword, &expiresAt,
		&p.IsTrialPost, &campaignID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.UserID = nullString(userID)
	p.ExpiresAt = nullString(expiresAt)
	p.CampaignID = nullString(campaignID)
	return &p, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
