// Package dedup removes duplicate articles across feeds before any
// paid stage runs. Matching combines fuzzy title similarity with URL
// similarity; the first-seen article always wins and absorbs the
// sources of its duplicates.
package dedup

import (
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"feedigest/config"
	"feedigest/internal/digest"
)

var (
	whitespaceRE  = regexp.MustCompile(`\s+`)
	titlePrefixRE = regexp.MustCompile(`^(new|breaking|update|announcing)\s*:?\s+`)
)

// NormalizeTitle lowercases, collapses whitespace and strips common
// re-reporting prefixes so the same story matches across feeds.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	t = whitespaceRE.ReplaceAllString(t, " ")
	t = titlePrefixRE.ReplaceAllString(t, "")
	return t
}

// CanonicalURL strips query, fragment and trailing slash and lowercases
// scheme and host.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// ratio is the SequenceMatcher similarity over characters.
func ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

func urlSimilarity(a, b string) float64 {
	ca, cb := CanonicalURL(a), CanonicalURL(b)
	if ca == cb {
		return 1.0
	}
	if strings.Contains(ca, cb) || strings.Contains(cb, ca) {
		return 0.9
	}
	return ratio(ca, cb)
}

// Deduper merges duplicates using the configured thresholds.
type Deduper struct {
	titleThreshold float64
	urlThreshold   float64
	logger         *log.Logger
}

// New builds a Deduper from configuration.
func New(cfg config.DedupConfig) *Deduper {
	return &Deduper{
		titleThreshold: cfg.TitleThreshold,
		urlThreshold:   cfg.URLThreshold,
		logger:         log.New(log.Writer(), "[DEDUP] ", log.LstdFlags),
	}
}

// duplicate reports whether b is a duplicate of a. Either the URLs are
// near-identical, or the titles match closely while the URLs are at
// least loosely related.
func (d *Deduper) duplicate(a, b digest.Article) bool {
	urlSim := urlSimilarity(a.URL, b.URL)
	if urlSim >= d.urlThreshold {
		return true
	}
	titleSim := ratio(NormalizeTitle(a.Title), NormalizeTitle(b.Title))
	return titleSim >= d.titleThreshold && urlSim >= 0.5
}

// Dedup returns the input with duplicates merged into their first
// occurrence. The operation is idempotent.
func (d *Deduper) Dedup(articles []digest.Article) []digest.Article {
	kept := make([]digest.Article, 0, len(articles))

next:
	for _, art := range articles {
		for i := range kept {
			if d.duplicate(kept[i], art) {
				kept[i].Sources = mergeSources(kept[i].Sources, art.Sources, art.Source)
				continue next
			}
		}
		if len(art.Sources) == 0 && art.Source != "" {
			art.Sources = []string{art.Source}
		}
		kept = append(kept, art)
	}

	if removed := len(articles) - len(kept); removed > 0 {
		d.logger.Printf("merged %d duplicate articles (%d -> %d)", removed, len(articles), len(kept))
	}
	return kept
}

func mergeSources(into []string, from []string, single string) []string {
	seen := make(map[string]struct{}, len(into))
	for _, s := range into {
		seen[s] = struct{}{}
	}
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		into = append(into, s)
	}
	for _, s := range from {
		add(s)
	}
	add(single)
	return into
}
