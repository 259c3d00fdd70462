package content

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/foxzi/linkfleet/internal/models"
)

// TemplateGenerator fills a fixed article outline. It makes no network
// calls and is used when no content service is configured.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

var sectionHeadings = []string{
	"Why %s matters",
	"Getting started with %s",
	"Common mistakes with %s",
	"Choosing the right %s",
	"%s for beginners",
	"Advanced %s tips",
	"Measuring results with %s",
	"The future of %s",
}

var titles = []string{
	"A practical guide to %s",
	"%s: what you need to know",
	"How to get more out of %s",
	"Lessons learned from %s",
	"A closer look at %s",
}

const fillerSentence = "Practical experience shows that small, consistent improvements add up over time."

// Generate returns an article of roughly the requested size with a single
// link to the target URL in the first section.
func (g *TemplateGenerator) Generate(ctx context.Context, req Request) (*Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Keyword == "" || req.TargetURL == "" || req.AnchorText == "" {
		return nil, models.Validationf("keyword, target url and anchor text are required")
	}

	if req.Sections <= 0 || req.WordCount <= 0 {
		t := TierFor(req.Quality)
		req.WordCount, req.Sections = t.Words, t.Sections
	}

	keyword := html.EscapeString(req.Keyword)
	link := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(req.TargetURL), html.EscapeString(req.AnchorText))

	wordsPerSection := req.WordCount / req.Sections
	fillerWords := len(strings.Fields(fillerSentence))

	var b strings.Builder
	for i := 0; i < req.Sections; i++ {
		heading := fmt.Sprintf(sectionHeadings[i%len(sectionHeadings)], keyword)
		b.WriteString("<h2>" + capitalize(heading) + "</h2>\n<p>")
		if i == 0 {
			fmt.Fprintf(&b, "If you are looking into %s, %s is a good place to start. ", keyword, link)
		}
		for n := 0; n < wordsPerSection; n += fillerWords {
			b.WriteString(fillerSentence)
			b.WriteString(" ")
		}
		b.WriteString("</p>\n")
	}

	title := capitalize(fmt.Sprintf(titles[abs(req.Variant)%len(titles)], req.Keyword))
	if tag := variantTag(req); tag != "" {
		title += " (" + tag + ")"
	}
	excerpt := fmt.Sprintf("Everything you need to know about %s, with tips you can apply today.", req.Keyword)

	return &Article{
		Title:           title,
		Content:         b.String(),
		Excerpt:         excerpt,
		MetaDescription: truncate(excerpt, 160),
	}, nil
}

// variantTag keeps titles distinct once the outlines repeat and across
// series that share a keyword.
func variantTag(req Request) string {
	v := abs(req.Variant)
	series, _, _ := strings.Cut(req.Series, "-")
	switch {
	case series != "":
		return fmt.Sprintf("%s %d", series, v+1)
	case v >= len(titles):
		return fmt.Sprintf("part %d", v/len(titles)+1)
	}
	return ""
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
