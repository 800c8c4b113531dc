package guardrail

import (
	"testing"

	"feedigest/config"
	"feedigest/internal/digest"
)

func TestApplyKeepsKeywordMatches(t *testing.T) {
	f := New(config.GuardrailConfig{
		Enabled:  true,
		Keywords: []string{"golang", "Kubernetes", "  ", ""},
	})

	articles := []digest.Article{
		{Title: "Golang 1.25 released", Summary: "compiler news"},
		{Title: "Weekend recipe ideas", Summary: "nothing technical"},
		{Title: "Cluster upgrades", Summary: "rolling out KUBERNETES 1.31"},
		{Title: "Market wrap", Summary: "stocks up"},
	}

	kept := f.Apply(articles)
	if len(kept) != 2 {
		t.Fatalf("kept %d articles, want 2", len(kept))
	}
	if kept[0].Title != "Golang 1.25 released" || kept[1].Title != "Cluster upgrades" {
		t.Fatalf("kept wrong articles: %q, %q", kept[0].Title, kept[1].Title)
	}
}

func TestApplyMatchesTitleOrSummary(t *testing.T) {
	f := New(config.GuardrailConfig{Keywords: []string{"cve"}})

	cases := []struct {
		name string
		art  digest.Article
		keep bool
	}{
		{"in title", digest.Article{Title: "CVE-2026-1234 disclosed"}, true},
		{"in summary", digest.Article{Title: "Patch Tuesday", Summary: "fixes one cve"}, true},
		{"absent", digest.Article{Title: "Release notes", Summary: "performance work"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kept := f.Apply([]digest.Article{tc.art})
			if got := len(kept) == 1; got != tc.keep {
				t.Fatalf("keep = %v, want %v", got, tc.keep)
			}
		})
	}
}

func TestApplyCanDropEverything(t *testing.T) {
	f := New(config.GuardrailConfig{Keywords: []string{"rust"}})
	kept := f.Apply([]digest.Article{{Title: "Python tips"}, {Title: "Java news"}})
	if len(kept) != 0 {
		t.Fatalf("kept %d articles, want 0", len(kept))
	}
}
