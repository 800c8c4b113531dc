package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/fetch"
)

type fakeFetcher struct {
	articles []digest.Article
	results  []fetch.Result
}

func (f *fakeFetcher) FetchAll(ctx context.Context, feeds []config.FeedConfig) ([]digest.Article, []fetch.Result) {
	return f.articles, f.results
}

type passDeduper struct{}

func (passDeduper) Dedup(articles []digest.Article) []digest.Article { return articles }

type fakeFilter struct {
	keep     int // -1 keeps everything
	degraded bool
}

func (f *fakeFilter) Apply(ctx context.Context, articles []digest.Article) ([]digest.Article, bool) {
	if f.keep < 0 || f.keep > len(articles) {
		return articles, f.degraded
	}
	return articles[:f.keep], f.degraded
}

type fakeGuard struct{ keyword string }

func (g *fakeGuard) Apply(articles []digest.Article) []digest.Article {
	kept := make([]digest.Article, 0, len(articles))
	for _, art := range articles {
		if strings.Contains(art.Title, g.keyword) {
			kept = append(kept, art)
		}
	}
	return kept
}

type fakeSummarizer struct {
	overview string
	degraded bool
}

func (s *fakeSummarizer) Overview(ctx context.Context, articles []digest.Article) (string, bool) {
	return s.overview, s.degraded
}

type fakeCategorizer struct{ category string }

func (f *fakeCategorizer) Categorize(ctx context.Context, articles []digest.Article) ([]digest.Article, bool) {
	for i := range articles {
		articles[i].Category = f.category
	}
	return articles, false
}

type fakeRanker struct{ degraded bool }

func (f *fakeRanker) Rank(ctx context.Context, category string, articles []digest.Article) ([]digest.Article, bool) {
	return articles, f.degraded
}

type failingDistributor struct{}

func (failingDistributor) Distribute(ctx context.Context, run *digest.Run) error {
	return errors.New("smtp down")
}

func feedArticles(source string, titles ...string) []digest.Article {
	out := make([]digest.Article, len(titles))
	for i, title := range titles {
		out[i] = digest.Article{Title: title, URL: "https://example.com/" + title, Source: source}
	}
	return out
}

func baseDeps(fetcher Fetcher) Deps {
	return Deps{
		Feeds:       []config.FeedConfig{{Name: "FeedA", URL: "https://a.example/rss"}},
		Fetcher:     fetcher,
		Deduper:     passDeduper{},
		Filter:      &fakeFilter{keep: -1},
		Categorizer: &fakeCategorizer{category: "Tools"},
		Ranker:      &fakeRanker{},
		Ledger:      costs.NewLedger(),
		Caches:      map[string]*cache.Cache{},
	}
}

func stageNames(run *digest.Run) []string {
	out := make([]string, len(run.Stages))
	for i, s := range run.Stages {
		out[i] = s.Name
	}
	return out
}

func TestRunCompletedHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two", "three"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 3}},
	}
	p := New(baseDeps(fetcher))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	want := "fetching,deduplicating,screening,filtering,summarizing,categorizing,ranking,aggregating"
	if got := strings.Join(stageNames(run), ","); got != want {
		t.Fatalf("stage order = %s, want %s", got, want)
	}
	if run.ArticleCount() != 3 {
		t.Fatalf("articles = %d, want 3", run.ArticleCount())
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestRunPartialWhenFeedTimesOut(t *testing.T) {
	// Feed A delivers 3 articles, feed B failed every attempt.
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two", "three"),
		results: []fetch.Result{
			{Feed: "FeedA", Articles: 3},
			{Feed: "FeedB", Err: errors.New("context deadline exceeded")},
		},
	}
	deps := baseDeps(fetcher)
	deps.Feeds = append(deps.Feeds, config.FeedConfig{Name: "FeedB", URL: "https://b.example/rss"})
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	if run.ArticleCount() != 3 {
		t.Fatalf("articles = %d, want 3 from the healthy feed", run.ArticleCount())
	}
	if run.Stages[0].Status != digest.StageDegraded {
		t.Fatalf("fetch stage = %s, want degraded", run.Stages[0].Status)
	}
}

func TestFetchErrorNamesEveryDeadFeed(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one"),
		results: []fetch.Result{
			{Feed: "FeedA", Articles: 1},
			{Feed: "FeedB", Err: errors.New("dns failure")},
			{Feed: "FeedC", Err: errors.New("410 gone")},
		},
	}
	p := New(baseDeps(fetcher))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	report := run.Stages[0]
	if report.Status != digest.StageDegraded {
		t.Fatalf("fetch stage = %s, want degraded", report.Status)
	}
	for _, want := range []string{"feed FeedB: dns failure", "feed FeedC: 410 gone"} {
		if !strings.Contains(report.Error, want) {
			t.Fatalf("fetch error %q missing %q", report.Error, want)
		}
	}
}

func TestRunFailedWhenNothingFetched(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetch.Result{{Feed: "FeedA", Err: errors.New("dns")}}}
	p := New(baseDeps(fetcher))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if len(run.Stages) != 1 {
		t.Fatalf("stages = %v, fetch only", stageNames(run))
	}
}

func TestRunFailedWhenFilterDropsEverything(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 2}},
	}
	deps := baseDeps(fetcher)
	deps.Filter = &fakeFilter{keep: 0}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
}

func TestGuardScreensBeforePaidStages(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "golang release", "market wrap", "golang tips"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 3}},
	}
	deps := baseDeps(fetcher)
	deps.Guard = &fakeGuard{keyword: "golang"}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.ArticleCount() != 2 {
		t.Fatalf("articles = %d, want 2 survivors", run.ArticleCount())
	}
	var screen *digest.StageReport
	for i := range run.Stages {
		if run.Stages[i].Name == string(StateScreening) {
			screen = &run.Stages[i]
		}
	}
	if screen == nil {
		t.Fatalf("no screening report in %v", stageNames(run))
	}
	if screen.In != 3 || screen.Out != 2 {
		t.Fatalf("screening %d -> %d, want 3 -> 2", screen.In, screen.Out)
	}
}

func TestRunFailedWhenGuardDropsEverything(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "market wrap", "weekend recipes"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 2}},
	}
	deps := baseDeps(fetcher)
	deps.Guard = &fakeGuard{keyword: "golang"}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	want := "fetching,deduplicating,screening"
	if got := strings.Join(stageNames(run), ","); got != want {
		t.Fatalf("stage order = %s, want %s (no paid stage ran)", got, want)
	}
}

func TestOverviewCarriedOntoRun(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 2}},
	}
	deps := baseDeps(fetcher)
	deps.Summarizer = &fakeSummarizer{overview: "Platform releases dominated the day."}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.Overview != "Platform releases dominated the day." {
		t.Fatalf("overview = %q", run.Overview)
	}
}

func TestRunPartialWhenOverviewFails(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 2}},
	}
	deps := baseDeps(fetcher)
	deps.Summarizer = &fakeSummarizer{degraded: true}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunPartial {
		t.Fatalf("status = %s, want partial (digest ships without overview)", run.Status)
	}
	if run.Overview != "" {
		t.Fatalf("overview = %q, want empty", run.Overview)
	}
	if run.ArticleCount() != 2 {
		t.Fatalf("articles = %d, want 2 (overview failure loses nothing)", run.ArticleCount())
	}
}

func TestRunPartialWhenStageDegrades(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one", "two"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 2}},
	}
	deps := baseDeps(fetcher)
	deps.Filter = &fakeFilter{keep: -1, degraded: true}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	if run.ArticleCount() != 2 {
		t.Fatalf("articles = %d, want 2 (degradation loses nothing here)", run.ArticleCount())
	}
}

func TestRunPartialWhenDistributionFails(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 1}},
	}
	deps := baseDeps(fetcher)
	deps.Distributor = failingDistributor{}
	p := New(deps)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != digest.RunPartial {
		t.Fatalf("status = %s, want partial (digest still built)", run.Status)
	}
	if run.ArticleCount() != 1 {
		t.Fatalf("articles = %d, want 1", run.ArticleCount())
	}
}

func TestRunAggregatesCacheAndCost(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: feedArticles("FeedA", "one"),
		results:  []fetch.Result{{Feed: "FeedA", Articles: 1}},
	}
	deps := baseDeps(fetcher)

	c := cache.New(cache.NewMemoryStore(), "relevance", nil)
	// One miss then one hit.
	for i := 0; i < 2; i++ {
		if _, _, err := c.DoOnce(context.Background(), "k", nil, func(ctx context.Context) ([]byte, error) {
			return []byte("d"), nil
		}); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}
	deps.Caches = map[string]*cache.Cache{"relevance": c}
	deps.Ledger.Track(context.Background(), "relevance", "gpt-3.5-turbo", 1000, 1000)

	p := New(deps)
	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.CacheHits != 1 || run.CacheMisses != 1 {
		t.Fatalf("cache stats = %d/%d, want 1/1", run.CacheHits, run.CacheMisses)
	}
	if run.TotalCost <= 0 {
		t.Fatalf("total cost = %v, want > 0", run.TotalCost)
	}
}

func TestWriterDistributorRendersDigest(t *testing.T) {
	var buf bytes.Buffer
	d := &WriterDistributor{W: &buf}

	run := &digest.Run{
		ID:       "test-run",
		Overview: "Tooling news led the day.",
		ByCategory: map[string][]digest.Article{
			"Tools": {
				{Title: "CLI of the week", URL: "https://example.com/cli", Sources: []string{"FeedA", "FeedB"}},
				{Title: "Unverified gem", URL: "https://example.com/gem", LowConfidence: true},
			},
		},
	}
	if err := d.Distribute(context.Background(), run); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Tooling news led the day.", "== Tools ==", "CLI of the week", "via FeedA, FeedB", "(unverified)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	p := New(baseDeps(&fakeFetcher{}))
	p.state = StateFetching
	if err := p.advance(StateRanking); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if err := p.advance(StateDeduplicating); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
}
