package models

import "time"

// Post statuses
const (
	PostPublished = "published"
	PostDraft     = "draft"
)

// Post is a published content item
type Post struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	DomainID        string    `json:"domain_id"`
	UserID          *string   `json:"user_id"`
	Claimed         bool      `json:"claimed"`
	Status          string    `json:"status"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Excerpt         string    `json:"excerpt"`
	MetaDescription string    `json:"meta_description"`
	TargetURL       string    `json:"target_url"`
	AnchorText      string    `json:"anchor_text"`
	Keyword         string    `json:"keyword"`
	ExpiresAt       *string   `json:"expires_at"`
	IsTrialPost     bool      `json:"is_trial_post"`
	CampaignID      *string   `json:"campaign_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ExpiryLayout is the format expires_at is written in
const ExpiryLayout = "2006-01-02T15:04:05.000Z07:00"

// expiryLayouts are the formats accepted when reading expires_at back
var expiryLayouts = []string{
	ExpiryLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatExpiry renders t the way expires_at is stored
func FormatExpiry(t time.Time) string {
	return t.UTC().Format(ExpiryLayout)
}

// ParseExpiry parses a stored expires_at value. ok is false for
// values that do not parse.
func ParseExpiry(s string) (t time.Time, ok bool) {
	for _, layout := range expiryLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v, true
		}
	}
	return time.Time{}, false
}

// IsTrial reports whether the post is in the trial state
func (p *Post) IsTrial() bool {
	return !p.Claimed
}

// OwnedBy reports whether userID owns the post
func (p *Post) OwnedBy(userID string) bool {
	return p.UserID != nil && userID != "" && *p.UserID == userID
}

// ExpiredAt reports whether the post's expiry parses and is at or before now.
// A null or malformed expires_at is never considered expired.
func (p *Post) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && ExpiryPassed(*p.ExpiresAt, now)
}

// ExpiryPassed reports whether s parses as an expiry at or before now. The
// SQL sweep calls it through the expiry_passed function, so claims, dry runs
// and both sweep paths agree on what has expired.
func ExpiryPassed(s string, now time.Time) bool {
	t, ok := ParseExpiry(s)
	return ok && !t.After(now)
}

// ExpiryCandidate is a trial post id with its raw expires_at value
type ExpiryCandidate struct {
	ID        string
	ExpiresAt string
}

// PostFilter for listing posts
type PostFilter struct {
	DomainID   string
	CampaignID string
	UserID     string
	TrialOnly  bool
	Limit      int
	Offset     int
}
