package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/linkfleet/internal/models"
	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, user_id, name, target_url, anchor_texts, keywords, domains, status,
	posts_created, links_built, rotation_strategy, content_quality, created_at, updated_at`

// Create creates a new campaign in draft status
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}

	anchors, keywords, domains, err := marshalLists(c)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.TargetURL, anchors, keywords, domains, c.Status,
		c.PostsCreated, c.LinksBuilt, c.RotationStrategy, c.ContentQuality, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering, newest first
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + campaignColumns + " FROM campaigns" + where + " ORDER BY created_at DESC"
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

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, total, rows.Err()
}

// UpdateStatus sets the campaign status
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateProgress overwrites the status and both counters in one statement
func (r *CampaignRepository) UpdateProgress(ctx context.Context, id, status string, postsCreated, linksBuilt int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, posts_created = ?, links_built = ?, updated_at = ?
		WHERE id = ?`,
		status, postsCreated, linksBuilt, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var anchors, keywords, domains string
	err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.TargetURL, &anchors, &keywords, &domains, &c.Status,
		&c.PostsCreated, &c.LinksBuilt, &c.RotationStrategy, &c.ContentQuality, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalList(anchors, &c.AnchorTexts); err != nil {
		return nil, fmt.Errorf("anchor_texts: %w", err)
	}
	if err := unmarshalList(keywords, &c.Keywords); err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	if err := unmarshalList(domains, &c.Domains); err != nil {
		return nil, fmt.Errorf("domains: %w", err)
	}
	return &c, nil
}

func marshalLists(c *models.Campaign) (anchors, keywords, domains string, err error) {
	enc := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		return string(b), err
	}
	if anchors, err = enc(c.AnchorTexts); err != nil {
		return
	}
	if keywords, err = enc(c.Keywords); err != nil {
		return
	}
	domains, err = enc(c.Domains)
	return
}

func unmarshalList(s string, dst *[]string) error {
	if s == "" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
