package relevance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/retry"
)

type fakeProvider struct {
	calls    atomic.Int64
	response string
	err      error
}

func (p *fakeProvider) Complete(ctx context.Context, prompt, model string) (string, int64, int64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", 0, 0, p.err
	}
	return p.response, 100, 20, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}
}

func newFilter(t *testing.T, provider *fakeProvider, onFailure string) (*Filter, *costs.Ledger) {
	t.Helper()
	ledger := costs.NewLedger()
	cfg := config.RelevanceConfig{
		Model:     "gpt-3.5-turbo",
		Criteria:  "software engineering news",
		OnFailure: onFailure,
	}
	c := cache.New(cache.NewMemoryStore(), "relevance", nil)
	return New(cfg, provider, c, ledger, fastPolicy()), ledger
}

func TestEvaluateCachesDecision(t *testing.T) {
	provider := &fakeProvider{response: `{"relevant": true, "reason": "on topic"}`}
	f, ledger := newFilter(t, provider, "include")

	art := digest.Article{Title: "Go 1.24 Released", Summary: "The Go team has released..."}

	d, cached, err := f.Evaluate(context.Background(), art)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if cached || !d.Include {
		t.Fatalf("first evaluate: cached=%v include=%v", cached, d.Include)
	}

	d2, cached2, err := f.Evaluate(context.Background(), art)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if !cached2 {
		t.Fatal("second evaluate should hit the cache")
	}
	if d2 != d {
		t.Fatalf("replayed decision differs: %+v vs %+v", d2, d)
	}
	if n := provider.calls.Load(); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
	if n := len(ledger.Records()); n != 1 {
		t.Fatalf("ledger has %d records, want 1 (no record on cache hit)", n)
	}
}

func TestEvaluateIdenticalContentSharesKey(t *testing.T) {
	provider := &fakeProvider{response: `{"relevant": false, "reason": "off topic"}`}
	f, _ := newFilter(t, provider, "include")

	// Same title and summary from different feeds: one call total.
	a := digest.Article{Title: "Same story", Summary: "body", Source: "FeedA"}
	b := digest.Article{Title: "Same story", Summary: "body", Source: "FeedB"}
	if _, _, err := f.Evaluate(context.Background(), a); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, cached, err := f.Evaluate(context.Background(), b); err != nil || !cached {
		t.Fatalf("b: cached=%v err=%v", cached, err)
	}
	if n := provider.calls.Load(); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
}

func TestApplyFailureIncludePolicy(t *testing.T) {
	provider := &fakeProvider{err: errors.New("classifier down")}
	f, ledger := newFilter(t, provider, "include")

	arts := []digest.Article{{Title: "Some article", Summary: "text"}}
	kept, degraded := f.Apply(context.Background(), arts)

	if !degraded {
		t.Fatal("stage must report degraded")
	}
	if len(kept) != 1 {
		t.Fatalf("kept = %d, want 1 under include policy", len(kept))
	}
	if !kept[0].LowConfidence {
		t.Fatal("fallback-included article must be flagged low confidence")
	}
	// All 3 attempts failed, no successful call, no cost records.
	if n := provider.calls.Load(); n != 3 {
		t.Fatalf("provider called %d times, want 3", n)
	}
	if n := len(ledger.Records()); n != 0 {
		t.Fatalf("ledger has %d records, want 0", n)
	}
}

func TestApplyFailureExcludePolicy(t *testing.T) {
	provider := &fakeProvider{err: errors.New("classifier down")}
	f, _ := newFilter(t, provider, "exclude")

	kept, degraded := f.Apply(context.Background(), []digest.Article{{Title: "Some article"}})
	if !degraded {
		t.Fatal("stage must report degraded")
	}
	if len(kept) != 0 {
		t.Fatalf("kept = %d, want 0 under exclude policy", len(kept))
	}
}

func TestApplyDropsExcludedArticles(t *testing.T) {
	provider := &fakeProvider{response: `{"relevant": false, "reason": "marketing"}`}
	f, _ := newFilter(t, provider, "include")

	kept, degraded := f.Apply(context.Background(), []digest.Article{{Title: "Buy our product"}})
	if degraded {
		t.Fatal("clean exclusion is not degradation")
	}
	if len(kept) != 0 {
		t.Fatalf("kept = %d, want 0", len(kept))
	}
}

func TestFailedDecisionIsNotCached(t *testing.T) {
	provider := &fakeProvider{err: errors.New("down")}
	f, ledger := newFilter(t, provider, "include")

	art := digest.Article{Title: "Story", Summary: "text"}
	if _, _, err := f.Evaluate(context.Background(), art); err == nil {
		t.Fatal("expected error while provider is down")
	}

	// Provider recovers; the article must be re-evaluated, not
	// replayed from a poisoned cache.
	provider.err = nil
	provider.response = `{"relevant": true, "reason": "ok"}`
	d, cached, err := f.Evaluate(context.Background(), art)
	if err != nil {
		t.Fatalf("after recovery: %v", err)
	}
	if cached {
		t.Fatal("failure must not have been cached")
	}
	if !d.Include {
		t.Fatalf("decision = %+v", d)
	}
	if n := len(ledger.Records()); n != 1 {
		t.Fatalf("ledger has %d records, want 1", n)
	}
}

func TestVerdictWrappedInProseStillParses(t *testing.T) {
	provider := &fakeProvider{response: "Sure! Here is my answer:\n```json\n{\"relevant\": true, \"reason\": \"useful\"}\n```"}
	f, _ := newFilter(t, provider, "include")

	d, _, err := f.Evaluate(context.Background(), digest.Article{Title: "T", Summary: "S"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Include || d.Reason != "useful" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestLongSummariesTruncateToSameKey(t *testing.T) {
	provider := &fakeProvider{response: `{"relevant": true}`}
	f, _ := newFilter(t, provider, "include")

	base := make([]byte, 600)
	for i := range base {
		base[i] = 'a'
	}
	a := digest.Article{Title: "T", Summary: string(base) + "-variant-one"}
	b := digest.Article{Title: "T", Summary: string(base) + "-variant-two"}

	if _, _, err := f.Evaluate(context.Background(), a); err != nil {
		t.Fatalf("a: %v", err)
	}
	_, cached, err := f.Evaluate(context.Background(), b)
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if !cached {
		t.Fatal("summaries identical in the first 500 bytes must share a key")
	}
}

func TestTruncationKeepsRunesIntact(t *testing.T) {
	// 499 ASCII bytes, then a 2-byte rune straddling the limit: byte 500
	// is its continuation byte, so a blind cut would leave broken UTF-8.
	base := strings.Repeat("a", 499)
	art := digest.Article{Title: "T", Summary: base + "é suffix beyond the limit"}

	_, summary := canonicalInput(art)
	if !utf8.ValidString(summary) {
		t.Fatalf("canonical summary is not valid UTF-8: %q", summary[490:])
	}
	if summary != base {
		t.Fatalf("cut at %d bytes, want %d (straddling rune dropped whole)", len(summary), len(base))
	}

	// The same article evaluates to the same key across runs.
	provider := &fakeProvider{response: `{"relevant": true}`}
	f, _ := newFilter(t, provider, "include")
	if _, _, err := f.Evaluate(context.Background(), art); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if _, cached, err := f.Evaluate(context.Background(), art); err != nil || !cached {
		t.Fatalf("second evaluate: cached=%v err=%v", cached, err)
	}
}
