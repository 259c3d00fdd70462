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

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create stores a distribution plan. Plans are immutable once written.
func (r *PlanRepository) Create(ctx context.Context, p *models.DistributionPlan) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	assignments, err := json.Marshal(p.Assignments)
	if err != nil {
		return fmt.Errorf("failed to encode assignments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO distribution_plans (id, campaign_id, assignments, total_posts, domains_count, estimated_completion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CampaignID, string(assignments), p.TotalPosts, p.DomainsCount, p.EstimatedCompletion.UTC(), p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// Latest returns the most recent plan for a campaign, or nil if none exists
func (r *PlanRepository) Latest(ctx context.Context, campaignID string) (*models.DistributionPlan, error) {
	var p models.DistributionPlan
	var assignments string
	var completion sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, assignments, total_posts, domains_count, estimated_completion, created_at
		FROM distribution_plans WHERE campaign_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, campaignID,
	).Scan(&p.ID, &p.CampaignID, &assignments, &p.TotalPosts, &p.DomainsCount, &completion, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completion.Valid {
		p.EstimatedCompletion = completion.Time
	}
	if err := json.Unmarshal([]byte(assignments), &p.Assignments); err != nil {
		return nil, fmt.Errorf("failed to decode assignments: %w", err)
	}
	return &p, nil
}
