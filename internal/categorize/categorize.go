// Package categorize assigns each article to exactly one category.
// The keyword scorer is free and never fails; the model-backed variant
// adds classifier quality with the same cache/cost/fallback discipline
// as the other paid stages.
package categorize

import (
	"context"
	"strings"

	"feedigest/config"
	"feedigest/internal/digest"
)

// Categorizer assigns categories in place and reports whether the
// stage degraded.
type Categorizer interface {
	Categorize(ctx context.Context, articles []digest.Article) ([]digest.Article, bool)
}

// Keyword scores categories by keyword and URL-pattern matches. URL
// patterns weigh double because a path segment is a stronger signal
// than a word in prose.
type Keyword struct {
	categories      []config.CategoryConfig
	defaultCategory string
}

// NewKeyword builds the keyword scorer. Tie-breaking priority follows
// the configured list order.
func NewKeyword(cfg config.CategoriesConfig) *Keyword {
	return &Keyword{categories: cfg.List, defaultCategory: cfg.Default}
}

// Categorize never fails and never costs anything.
func (k *Keyword) Categorize(ctx context.Context, articles []digest.Article) ([]digest.Article, bool) {
	for i := range articles {
		articles[i].Category = k.classify(articles[i])
	}
	return articles, false
}

func (k *Keyword) classify(art digest.Article) string {
	text := strings.ToLower(art.Title + " " + art.Summary)
	url := strings.ToLower(art.URL)

	best := k.defaultCategory
	bestScore := 0
	for _, cat := range k.categories {
		score := 0
		for _, kw := range cat.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				score++
			}
		}
		for _, pattern := range cat.URLPatterns {
			if pattern != "" && strings.Contains(url, strings.ToLower(pattern)) {
				score += 2
			}
		}
		// Strict > keeps the earlier (higher priority) category on ties.
		if score > bestScore {
			bestScore = score
			best = cat.Name
		}
	}
	return best
}

// Names returns the configured category names in priority order.
func (k *Keyword) Names() []string {
	out := make([]string, 0, len(k.categories)+1)
	for _, c := range k.categories {
		out = append(out, c.Name)
	}
	return out
}

// Default returns the fallback category name.
func (k *Keyword) Default() string {
	return k.defaultCategory
}
