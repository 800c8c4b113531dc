// Package guardrail is the optional keyword pre-filter ahead of the
// paid relevance stage. An article survives when any configured keyword
// appears in its title or summary; everything else is dropped before a
// classifier ever sees it.
package guardrail

import (
	"log"
	"strings"

	"feedigest/config"
	"feedigest/internal/digest"
)

// Filter screens articles against a keyword allowlist.
type Filter struct {
	keywords []string
	logger   *log.Logger
}

// New builds the guardrail. Keywords are lowercased once here; blank
// entries are ignored.
func New(cfg config.GuardrailConfig) *Filter {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Filter{
		keywords: keywords,
		logger:   log.New(log.Writer(), "[GUARDRAIL] ", log.LstdFlags),
	}
}

// Apply keeps only the articles that mention at least one keyword.
func (f *Filter) Apply(articles []digest.Article) []digest.Article {
	kept := make([]digest.Article, 0, len(articles))
	for _, art := range articles {
		if f.match(art) {
			kept = append(kept, art)
		}
	}
	if dropped := len(articles) - len(kept); dropped > 0 {
		f.logger.Printf("screened out %d of %d articles", dropped, len(articles))
	}
	return kept
}

func (f *Filter) match(art digest.Article) bool {
	text := strings.ToLower(art.Title + " " + art.Summary)
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
