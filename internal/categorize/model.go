package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"feedigest/internal/cache"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/llm"
	"feedigest/internal/retry"
)

const agentName = "categorize"

// Model asks the classifier to pick one of the configured categories,
// caching decisions like the relevance stage. Any article whose call
// fails falls back to the keyword scorer.
type Model struct {
	provider llm.Provider
	cache    *cache.Cache
	ledger   *costs.Ledger
	policy   retry.Policy
	model    string
	fallback *Keyword
	logger   *log.Logger
}

// NewModel builds the model-backed categorizer around a keyword
// fallback.
func NewModel(model string, provider llm.Provider, c *cache.Cache, ledger *costs.Ledger, policy retry.Policy, fallback *Keyword) *Model {
	return &Model{
		provider: provider,
		cache:    c,
		ledger:   ledger,
		policy:   policy,
		model:    model,
		fallback: fallback,
		logger:   log.New(log.Writer(), "[CATEGORIZE] ", log.LstdFlags),
	}
}

type storedCategory struct {
	Category string `json:"category"`
}

func (m *Model) validCategory(payload []byte) bool {
	var s storedCategory
	if json.Unmarshal(payload, &s) != nil {
		return false
	}
	return m.known(s.Category)
}

func (m *Model) known(name string) bool {
	if name == m.fallback.Default() {
		return true
	}
	for _, n := range m.fallback.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Categorize assigns a category per article. Failures degrade to the
// keyword scorer for the affected article only.
func (m *Model) Categorize(ctx context.Context, articles []digest.Article) ([]digest.Article, bool) {
	degraded := false
	for i := range articles {
		name, err := m.classify(ctx, articles[i])
		if err != nil {
			degraded = true
			name = m.fallback.classify(articles[i])
			m.logger.Printf("classifier failed for %q, keyword fallback -> %s: %v", articles[i].Title, name, err)
		}
		articles[i].Category = name
	}
	return articles, degraded
}

func (m *Model) classify(ctx context.Context, art digest.Article) (string, error) {
	summary := art.Summary
	if len(summary) > 500 {
		summary = summary[:500]
	}
	key := cache.Key(art.Title, summary)

	payload, _, err := m.cache.DoOnce(ctx, key, m.validCategory, func(ctx context.Context) ([]byte, error) {
		name, err := m.ask(ctx, art.Title, summary)
		if err != nil {
			return nil, err
		}
		return json.Marshal(storedCategory{Category: name})
	})
	if err != nil {
		return "", err
	}

	var s storedCategory
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", fmt.Errorf("decode category: %w", err)
	}
	return s.Category, nil
}

func (m *Model) ask(ctx context.Context, title, summary string) (string, error) {
	names := append(m.fallback.Names(), m.fallback.Default())
	prompt := fmt.Sprintf(`Assign this article to exactly one category from: %s

Title: %s
Summary: %s

Reply with the category name only.`, strings.Join(names, ", "), title, summary)

	var picked string
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		text, tokensIn, tokensOut, err := m.provider.Complete(ctx, prompt, m.model)
		if err != nil {
			return err
		}
		m.ledger.Track(ctx, agentName, m.model, tokensIn, tokensOut)

		name := strings.Trim(strings.TrimSpace(text), `"'.`)
		if !m.known(name) {
			return fmt.Errorf("unknown category %q", name)
		}
		picked = name
		return nil
	})
	if err != nil {
		return "", err
	}
	return picked, nil
}
