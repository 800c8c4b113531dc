// Package rank orders the articles within a category. Small categories
// skip the classifier entirely; large ones get a cached, sanitized
// index ordering with a safe fallback to arrival order.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/llm"
	"feedigest/internal/retry"
)

const agentName = "ranking"

// Ranker orders articles per category by importance.
type Ranker struct {
	provider  llm.Provider
	cache     *cache.Cache
	ledger    *costs.Ledger
	policy    retry.Policy
	model     string
	threshold int
	max       int
	logger    *log.Logger
}

// New builds a Ranker from configuration.
func New(cfg config.RankingConfig, provider llm.Provider, c *cache.Cache, ledger *costs.Ledger, policy retry.Policy) *Ranker {
	return &Ranker{
		provider:  provider,
		cache:     c,
		ledger:    ledger,
		policy:    policy,
		model:     cfg.Model,
		threshold: cfg.Threshold,
		max:       cfg.MaxPerCategory,
		logger:    log.New(log.Writer(), "[RANK] ", log.LstdFlags),
	}
}

// cacheKey addresses the ranking decision by the set of articles, not
// their arrival order: the (title, source) pairs are sorted first.
func cacheKey(articles []digest.Article) string {
	pairs := make([]string, len(articles))
	for i, a := range articles {
		pairs[i] = a.Title + "::" + a.Source
	}
	sort.Strings(pairs)
	return cache.Key("ranking", strings.Join(pairs, "|"))
}

// Rank orders one category. Categories at or below the threshold are
// returned in arrival order at zero cost. The bool reports degradation
// (classifier failed, original order used).
func (r *Ranker) Rank(ctx context.Context, category string, articles []digest.Article) ([]digest.Article, bool) {
	if len(articles) <= r.threshold {
		return articles, false
	}

	key := cacheKey(articles)
	payload, _, err := r.cache.DoOnce(ctx, key, validIndices, func(ctx context.Context) ([]byte, error) {
		indices, err := r.ask(ctx, category, articles)
		if err != nil {
			return nil, err
		}
		return json.Marshal(indices)
	})
	if err != nil {
		r.logger.Printf("ranking %s failed, keeping arrival order: %v", category, err)
		return truncate(articles, r.max), true
	}

	var indices []int
	if err := json.Unmarshal(payload, &indices); err != nil {
		return truncate(articles, r.max), true
	}
	// Stored indices are sanitized before caching, but older entries
	// are re-checked so a shrunken category cannot panic.
	indices = Sanitize(indices, len(articles))

	ordered := make([]digest.Article, 0, len(indices))
	for _, idx := range indices {
		ordered = append(ordered, articles[idx])
	}
	return truncate(ordered, r.max), false
}

func validIndices(payload []byte) bool {
	var indices []int
	return json.Unmarshal(payload, &indices) == nil
}

// ask makes the classifier call under the retry policy and returns
// sanitized indices covering every article.
func (r *Ranker) ask(ctx context.Context, category string, articles []digest.Article) ([]int, error) {
	var sb strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i, a.Title, a.Source)
	}
	prompt := fmt.Sprintf(`Rank these %q articles from most to least important for a daily engineering digest.

%s
Reply with a JSON array of the 0-based indices in ranked order, nothing else.`, category, sb.String())

	var indices []int
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		text, tokensIn, tokensOut, err := r.provider.Complete(ctx, prompt, r.model)
		if err != nil {
			return err
		}
		r.ledger.Track(ctx, agentName, r.model, tokensIn, tokensOut)

		parsed, err := parseIndices(text)
		if err != nil {
			return err
		}
		indices = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Sanitize(indices, len(articles)), nil
}

// parseIndices extracts the first JSON array from the completion,
// dropping non-integer elements.
func parseIndices(text string) ([]int, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no index array in response")
	}

	var raw []json.Number
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unparseable index array: %w", err)
	}
	out := make([]int, 0, len(raw))
	for _, n := range raw {
		v, err := n.Int64()
		if err != nil {
			continue
		}
		out = append(out, int(v))
	}
	return out, nil
}

// Sanitize turns arbitrary classifier output into a permutation of
// [0, n): out-of-range indices are dropped, duplicates keep their first
// occurrence, and unmentioned indices are appended in original order.
func Sanitize(indices []int, n int) []int {
	seen := make(map[int]struct{}, n)
	out := make([]int, 0, n)
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	for i := 0; i < n; i++ {
		if _, ok := seen[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func truncate(articles []digest.Article, max int) []digest.Article {
	if max > 0 && len(articles) > max {
		return articles[:max]
	}
	return articles
}
