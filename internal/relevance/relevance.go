// Package relevance is the cached binary include/exclude filter. Every
// decision is content-addressed by the article text, so re-running the
// pipeline over the same articles costs nothing.
package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/llm"
	"feedigest/internal/retry"
)

const (
	agentName = "relevance"
	// summaryLimit bounds the canonical input so minor trailing edits
	// in long summaries do not change the cache key.
	summaryLimit = 500
)

// Decision is the stored classifier verdict for one article.
type Decision struct {
	Include       bool   `json:"include"`
	Reason        string `json:"reason,omitempty"`
	LowConfidence bool   `json:"low_confidence,omitempty"`
}

// Filter evaluates articles against the configured criteria.
type Filter struct {
	provider llm.Provider
	cache    *cache.Cache
	ledger   *costs.Ledger
	policy   retry.Policy
	model    string
	criteria string
	// onFailure is "include" or "exclude"; applied only after the
	// classifier fails every attempt.
	onFailure string
	logger    *log.Logger
}

// New builds the relevance filter.
func New(cfg config.RelevanceConfig, provider llm.Provider, c *cache.Cache, ledger *costs.Ledger, policy retry.Policy) *Filter {
	return &Filter{
		provider:  provider,
		cache:     c,
		ledger:    ledger,
		policy:    policy,
		model:     cfg.Model,
		criteria:  cfg.Criteria,
		onFailure: cfg.OnFailure,
		logger:    log.New(log.Writer(), "[RELEVANCE] ", log.LstdFlags),
	}
}

// canonicalInput returns the strings that address the cached decision.
// The cut backs up to a rune boundary so a multibyte character straddling
// the limit is never split in half.
func canonicalInput(art digest.Article) (string, string) {
	summary := art.Summary
	if len(summary) > summaryLimit {
		cut := summaryLimit
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	return art.Title, summary
}

func validDecision(payload []byte) bool {
	var d Decision
	return json.Unmarshal(payload, &d) == nil
}

// Evaluate returns the decision for one article, replaying the cache
// when possible. The bool reports a cache hit. An error means the
// classifier failed every attempt; the caller applies the failure
// policy.
func (f *Filter) Evaluate(ctx context.Context, art digest.Article) (Decision, bool, error) {
	title, summary := canonicalInput(art)
	key := cache.Key(title, summary)

	payload, cached, err := f.cache.DoOnce(ctx, key, validDecision, func(ctx context.Context) ([]byte, error) {
		decision, err := f.classify(ctx, title, summary)
		if err != nil {
			return nil, err
		}
		return json.Marshal(decision)
	})
	if err != nil {
		return Decision{}, false, err
	}

	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, false, fmt.Errorf("decode decision: %w", err)
	}
	return d, cached, nil
}

// classify makes the actual external call under the retry policy and
// records its cost.
func (f *Filter) classify(ctx context.Context, title, summary string) (Decision, error) {
	prompt := fmt.Sprintf(`Decide whether this article matches the criteria: %s

Title: %s
Summary: %s

Reply with JSON only: {"relevant": true/false, "reason": "short reason"}`, f.criteria, title, summary)

	var decision Decision
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		text, tokensIn, tokensOut, err := f.provider.Complete(ctx, prompt, f.model)
		if err != nil {
			return err
		}
		f.ledger.Track(ctx, agentName, f.model, tokensIn, tokensOut)

		var verdict struct {
			Relevant bool   `json:"relevant"`
			Reason   string `json:"reason"`
		}
		if err := json.Unmarshal(extractJSON(text), &verdict); err != nil {
			return fmt.Errorf("unparseable verdict: %w", err)
		}
		decision = Decision{Include: verdict.Relevant, Reason: verdict.Reason}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// Apply filters the slice, keeping included articles. It reports
// whether the stage degraded (any article fell back to the failure
// policy).
func (f *Filter) Apply(ctx context.Context, articles []digest.Article) ([]digest.Article, bool) {
	kept := make([]digest.Article, 0, len(articles))
	degraded := false

	for _, art := range articles {
		d, _, err := f.Evaluate(ctx, art)
		if err != nil {
			degraded = true
			if f.onFailure == "exclude" {
				f.logger.Printf("classifier failed for %q, excluding: %v", art.Title, err)
				continue
			}
			f.logger.Printf("classifier failed for %q, including with low confidence: %v", art.Title, err)
			art.Relevant = true
			art.LowConfidence = true
			art.RelevanceReason = "classifier unavailable"
			kept = append(kept, art)
			continue
		}
		if !d.Include {
			continue
		}
		art.Relevant = true
		art.LowConfidence = d.LowConfidence
		art.RelevanceReason = d.Reason
		kept = append(kept, art)
	}
	return kept, degraded
}

// extractJSON pulls the first {...} object out of a completion that may
// wrap JSON in prose or code fences.
func extractJSON(s string) []byte {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}
