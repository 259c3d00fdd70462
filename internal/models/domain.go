package models

import "time"

// Domain status values
const (
	DomainStatusActive   = "active"
	DomainStatusInactive = "inactive"
)

// Quality ratings derived by the ledger
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Domain is a publishing surface owned by a user, as stored
type Domain struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Domain            string    `json:"domain"`
	Verified          bool      `json:"verified"`
	PublishingEnabled bool      `json:"publishing_enabled"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DomainStats holds post counts the ledger derives capacity from
type DomainStats struct {
	PostsPublished    int `json:"posts_published"`
	CurrentMonthLinks int `json:"current_month_links"`
}

// DomainWithStats is a stored domain joined with its post counts
type DomainWithStats struct {
	Domain
	DomainStats
}

// DomainProfile is a domain with its derived authority and capacity
type DomainProfile struct {
	Domain
	AgeDays           int    `json:"age_days"`
	PostsPublished    int    `json:"posts_published"`
	AuthorityScore    int    `json:"authority_score"`
	LinkCapacity      int    `json:"link_capacity"`
	CurrentMonthLinks int    `json:"current_month_links"`
	QualityRating     string `json:"quality_rating"`
}

// Headroom returns how many more posts the domain may receive this month
func (p *DomainProfile) Headroom() int {
	if h := p.LinkCapacity - p.CurrentMonthLinks; h > 0 {
		return h
	}
	return 0
}

// Eligible reports whether the domain may receive a new assignment
func (p *DomainProfile) Eligible() bool {
	return p.Verified && p.PublishingEnabled && p.Status == DomainStatusActive &&
		p.CurrentMonthLinks < p.LinkCapacity
}

// DomainFilter for listing domains
type DomainFilter struct {
	UserID string
	Search string
	Limit  int
	Offset int
}
