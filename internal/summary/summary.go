// Package summary writes the macro overview shown at the top of the
// digest. One call covers the whole day's relevant articles, cached by
// the article set so a re-run of the same day costs nothing.
package summary

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

const (
	agentName = "summary"
	// summaryLimit bounds how much of each article's summary feeds the
	// prompt; the overview is about breadth, not depth.
	summaryLimit = 200
)

// Writer produces the daily overview.
type Writer struct {
	provider llm.Provider
	cache    *cache.Cache
	ledger   *costs.Ledger
	policy   retry.Policy
	model    string
	logger   *log.Logger
}

// New builds the overview writer.
func New(cfg config.SummaryConfig, provider llm.Provider, c *cache.Cache, ledger *costs.Ledger, policy retry.Policy) *Writer {
	return &Writer{
		provider: provider,
		cache:    c,
		ledger:   ledger,
		policy:   policy,
		model:    cfg.Model,
		logger:   log.New(log.Writer(), "[SUMMARY] ", log.LstdFlags),
	}
}

// storedOverview is the cached payload.
type storedOverview struct {
	Text string `json:"text"`
}

func validOverview(payload []byte) bool {
	var s storedOverview
	return json.Unmarshal(payload, &s) == nil && strings.TrimSpace(s.Text) != ""
}

// cacheKey addresses the overview by the set of articles, not their
// arrival order, mirroring the ranking cache.
func cacheKey(articles []digest.Article) string {
	pairs := make([]string, len(articles))
	for i, a := range articles {
		pairs[i] = a.Title + "::" + a.Source
	}
	sort.Strings(pairs)
	return cache.Key("summary", strings.Join(pairs, "|"))
}

// Overview returns the macro summary for the day's articles. The bool
// reports degradation: on classifier failure the digest ships without
// an overview rather than losing any articles.
func (w *Writer) Overview(ctx context.Context, articles []digest.Article) (string, bool) {
	if len(articles) == 0 {
		return "", false
	}

	key := cacheKey(articles)
	payload, _, err := w.cache.DoOnce(ctx, key, validOverview, func(ctx context.Context) ([]byte, error) {
		text, err := w.compose(ctx, articles)
		if err != nil {
			return nil, err
		}
		return json.Marshal(storedOverview{Text: text})
	})
	if err != nil {
		w.logger.Printf("overview failed, digest ships without one: %v", err)
		return "", true
	}

	var stored storedOverview
	if err := json.Unmarshal(payload, &stored); err != nil {
		return "", true
	}
	return stored.Text, false
}

// compose makes the actual call under the retry policy and records its
// cost.
func (w *Writer) compose(ctx context.Context, articles []digest.Article) (string, error) {
	var sb strings.Builder
	for _, a := range articles {
		summary := a.Summary
		if len(summary) > summaryLimit {
			summary = summary[:summaryLimit]
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", a.Title, a.Source, summary)
	}
	prompt := fmt.Sprintf(`Write a 2-3 sentence overview of today's engineering news for the top of a daily digest. Mention the dominant themes, not individual articles.

%s
Reply with the overview text only.`, sb.String())

	var overview string
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		text, tokensIn, tokensOut, err := w.provider.Complete(ctx, prompt, w.model)
		if err != nil {
			return err
		}
		w.ledger.Track(ctx, agentName, w.model, tokensIn, tokensOut)

		text = strings.TrimSpace(text)
		if text == "" {
			return fmt.Errorf("empty overview")
		}
		overview = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return overview, nil
}
