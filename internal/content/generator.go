// Package content produces the article body for a planned placement.
package content

import (
	"context"

	"github.com/foxzi/linkfleet/internal/models"
)

// Request describes the article to write
type Request struct {
	TargetURL  string `json:"target_url"`
	AnchorText string `json:"anchor_text"`
	Keyword    string `json:"keyword"`
	Quality    string `json:"quality"`
	WordCount  int    `json:"word_count"`
	Sections   int    `json:"sections"`
	// Variant distinguishes articles written for the same keyword
	Variant int `json:"variant,omitempty"`
	// Series groups the variants of one run, usually the campaign id
	Series string `json:"series,omitempty"`
}

// Article is a generated post body
type Article struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	Excerpt         string `json:"excerpt"`
	MetaDescription string `json:"meta_description"`
}

// Generator writes articles
type Generator interface {
	Generate(ctx context.Context, req Request) (*Article, error)
}

// Tier is the target size of an article for a quality level
type Tier struct {
	Words    int
	Sections int
}

var tiers = map[string]Tier{
	models.QualityStandard:   {Words: 800, Sections: 4},
	models.QualityPremium:    {Words: 1200, Sections: 6},
	models.QualityEnterprise: {Words: 1500, Sections: 8},
}

// TierFor returns the size for a quality level, falling back to standard
func TierFor(quality string) Tier {
	if t, ok := tiers[quality]; ok {
		return t
	}
	return tiers[models.QualityStandard]
}

// NewRequest builds a request for an assignment at the given quality
func NewRequest(targetURL, anchor, keyword, quality string) Request {
	t := TierFor(quality)
	return Request{
		TargetURL:  targetURL,
		AnchorText: anchor,
		Keyword:    keyword,
		Quality:    quality,
		WordCount:  t.Words,
		Sections:   t.Sections,
	}
}
