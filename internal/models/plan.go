package models

import "time"

// ContentTypeBlogPost is the only placement type the planner emits
const ContentTypeBlogPost = "blog_post"

// Assignment is one planned placement on a domain
type Assignment struct {
	DomainID      string    `json:"domain_id"`
	DomainName    string    `json:"domain_name"`
	ContentType   string    `json:"content_type"`
	AnchorText    string    `json:"anchor_text"`
	TargetKeyword string    `json:"target_keyword"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Priority      int       `json:"priority"`
}

// DistributionPlan is the ordered set of assignments built for a campaign
type DistributionPlan struct {
	ID                  string       `json:"id"`
	CampaignID          string       `json:"campaign_id"`
	Assignments         []Assignment `json:"assignments"`
	TotalPosts          int          `json:"total_posts"`
	DomainsCount        int          `json:"domains_count"`
	EstimatedCompletion time.Time    `json:"estimated_completion"`
	CreatedAt           time.Time    `json:"created_at"`
}
