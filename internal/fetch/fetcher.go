// Package fetch retrieves RSS/Atom feeds with per-feed retry and a
// bounded worker pool. A feed that fails every attempt contributes
// nothing and never aborts the run.
package fetch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"feedigest/config"
	"feedigest/internal/digest"
	"feedigest/internal/retry"
)

// Result reports the outcome of one feed.
type Result struct {
	Feed     string
	Articles int
	Err      error
}

// Fetcher pulls articles from configured feeds.
type Fetcher struct {
	client *http.Client
	policy retry.Policy
	window time.Duration
	delay  time.Duration
	pool   int
	logger *log.Logger
}

// New builds a Fetcher from configuration and the shared retry policy.
func New(cfg config.FetchConfig, policy retry.Policy) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 1
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		policy: policy,
		window: cfg.Window,
		delay:  cfg.InterFeedDelay,
		pool:   pool,
		logger: log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// FetchAll retrieves every feed through the worker pool and returns the
// articles inside the time window plus a per-feed result list. Feed
// submissions are spaced by the configured inter-feed delay so sources
// are not hammered; pool size 1 degenerates to sequential fetching.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []config.FeedConfig) ([]digest.Article, []Result) {
	var mu sync.Mutex
	articles := make([]digest.Article, 0, 64)
	results := make([]Result, len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.pool)

	for i, feed := range feeds {
		if i > 0 && f.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(f.delay):
			}
		}
		i, feed := i, feed
		g.Go(func() error {
			arts, err := f.fetchFeed(gctx, feed)
			mu.Lock()
			defer mu.Unlock()
			results[i] = Result{Feed: feed.Name, Articles: len(arts), Err: err}
			if err != nil {
				f.logger.Printf("feed %s failed after retries: %v", feed.Name, err)
				return nil // a dead feed never fails the run
			}
			articles = append(articles, arts...)
			return nil
		})
	}
	_ = g.Wait()

	// Pool scheduling is nondeterministic; keep output order stable.
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].Source != articles[j].Source {
			return articles[i].Source < articles[j].Source
		}
		return articles[i].Published.After(articles[j].Published)
	})
	return articles, results
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.FeedConfig) ([]digest.Article, error) {
	var parsed *gofeed.Feed
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "feedigest/1.0")
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		parsed, err = gofeed.NewParser().Parse(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-f.window)
	var out []digest.Article
	for _, item := range parsed.Items {
		published, ok := itemTime(item)
		if !ok {
			// Undatable items cannot be window-filtered; drop them.
			continue
		}
		if published.Before(cutoff) {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" || item.Link == "" {
			continue
		}
		out = append(out, digest.Article{
			Title:     title,
			URL:       item.Link,
			Summary:   stripHTML(item.Description),
			Content:   stripHTML(item.Content),
			Published: published,
			Source:    feed.Name,
			Sources:   []string{feed.Name},
		})
	}
	return out, nil
}

// itemTime resolves the publication time: the parsed timestamp when the
// feed provides one, otherwise a best-effort parse of the raw string.
func itemTime(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed, true
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed, true
	}
	if item.Published != "" {
		if ts, err := dateparse.ParseAny(item.Published); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// stripHTML reduces feed HTML to plain text.
func stripHTML(s string) string {
	if s == "" || !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
