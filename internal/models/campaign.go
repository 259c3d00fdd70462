package models

import (
	"strings"
	"time"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

// Rotation strategies
const (
	RotationRoundRobin = "round_robin"
	RotationRandom     = "random"
	RotationManual     = "manual"
)

// Content quality tiers
const (
	QualityStandard   = "standard"
	QualityPremium    = "premium"
	QualityEnterprise = "enterprise"
)

// Campaign is a unit of link-building work
type Campaign struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	TargetURL        string    `json:"target_url"`
	AnchorTexts      []string  `json:"anchor_texts"`
	Keywords         []string  `json:"keywords"`
	Domains          []string  `json:"domains"`
	Status           string    `json:"status"`
	PostsCreated     int       `json:"posts_created"`
	LinksBuilt       int       `json:"links_built"`
	RotationStrategy string    `json:"rotation_strategy"`
	ContentQuality   string    `json:"content_quality"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

// Validate checks the fields required to plan and execute a campaign and
// fills in defaults for the enum fields.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Validationf("name is required")
	}
	if strings.TrimSpace(c.TargetURL) == "" {
		return Validationf("target_url is required")
	}
	if len(nonEmpty(c.AnchorTexts)) == 0 {
		return Validationf("at least one anchor text is required")
	}
	c.AnchorTexts = nonEmpty(c.AnchorTexts)
	c.Keywords = nonEmpty(c.Keywords)
	c.Domains = nonEmpty(c.Domains)

	switch c.RotationStrategy {
	case "":
		c.RotationStrategy = RotationRandom
	case RotationRandom, RotationRoundRobin, RotationManual:
	default:
		return Validationf("unknown rotation_strategy %q", c.RotationStrategy)
	}

	switch c.ContentQuality {
	case "":
		c.ContentQuality = QualityStandard
	case QualityStandard, QualityPremium, QualityEnterprise:
	default:
		return Validationf("unknown content_quality %q", c.ContentQuality)
	}
	return nil
}

// ValidCampaignStatus reports whether s is a known campaign status
func ValidCampaignStatus(s string) bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
