package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/categorize"
	"feedigest/internal/costs"
	"feedigest/internal/dedup"
	"feedigest/internal/fetch"
	"feedigest/internal/guardrail"
	"feedigest/internal/llm"
	"feedigest/internal/pipeline"
	"feedigest/internal/rank"
	"feedigest/internal/relevance"
	"feedigest/internal/retry"
	"feedigest/internal/summary"
	"feedigest/internal/telemetry"
)

// buildPipeline wires the full stage graph from configuration. The
// returned cleanup closes every backend the build opened.
func buildPipeline(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*pipeline.Pipeline, func(), error) {
	if len(cfg.Feeds) == 0 {
		return nil, nil, fmt.Errorf("no feeds configured")
	}

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delays: cfg.Retry.Delays}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Decision cache backend: Redis when configured, else in-memory.
	var store cache.Store = cache.NewMemoryStore()
	if cfg.Storage.Redis.Enabled() {
		rs, err := cache.NewRedisStore(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		closers = append(closers, func() { _ = rs.Close() })
		store = rs
	}
	var ttl *time.Duration
	if cfg.Cache.TTL > 0 {
		t := cfg.Cache.TTL
		ttl = &t
	}

	// Cost ledger, with a durable sink when Postgres is configured.
	ledgerOpts := []costs.Option{}
	if len(cfg.LLM.Pricing) > 0 {
		overrides := make(map[string]costs.ModelPrice, len(cfg.LLM.Pricing))
		for model, p := range cfg.LLM.Pricing {
			overrides[model] = costs.ModelPrice{Per1KInput: p.Input, Per1KOutput: p.Output}
		}
		ledgerOpts = append(ledgerOpts, costs.WithPricing(overrides))
	}
	if cfg.Storage.Postgres.Enabled() {
		sink, err := costs.NewPostgresSink(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres sink: %w", err)
		}
		ledgerOpts = append(ledgerOpts, costs.WithSink(sink))
	}
	ledger := costs.NewLedger(ledgerOpts...)
	closers = append(closers, func() { _ = ledger.Close() })

	provider := llm.NewOpenAI(cfg.LLM)
	caches := make(map[string]*cache.Cache)

	var guard pipeline.Guard
	if cfg.Guardrail.Enabled {
		guard = guardrail.New(cfg.Guardrail)
	}

	var filter pipeline.Filter
	if cfg.Relevance.Enabled {
		relevanceCache := cache.New(store, "relevance", ttl)
		caches["relevance"] = relevanceCache
		filter = relevance.New(cfg.Relevance, provider, relevanceCache, ledger, policy)
	}

	var summarizer pipeline.Summarizer
	if cfg.Summary.Enabled {
		summaryCache := cache.New(store, "summary", ttl)
		caches["summary"] = summaryCache
		summarizer = summary.New(cfg.Summary, provider, summaryCache, ledger, policy)
	}

	keyword := categorize.NewKeyword(cfg.Categories)
	var categorizer categorize.Categorizer = keyword
	if cfg.Categories.Mode == "model" {
		categoryCache := cache.New(store, "category", ttl)
		caches["category"] = categoryCache
		categorizer = categorize.NewModel(cfg.Categories.Model, provider, categoryCache, ledger, policy, keyword)
	}

	rankCache := cache.New(store, "rank", ttl)
	caches["rank"] = rankCache
	ranker := rank.New(cfg.Ranking, provider, rankCache, ledger, policy)

	p := pipeline.New(pipeline.Deps{
		Feeds:       cfg.Feeds,
		Fetcher:     fetch.New(cfg.Fetch, policy),
		Deduper:     dedup.New(cfg.Dedup),
		Guard:       guard,
		Filter:      filter,
		Summarizer:  summarizer,
		Categorizer: categorizer,
		Ranker:      ranker,
		Distributor: &pipeline.WriterDistributor{W: os.Stdout},
		Ledger:      ledger,
		Caches:      caches,
		Metrics:     metrics,
	})
	return p, cleanup, nil
}

func newMetrics(cfg *config.Config) (*telemetry.Metrics, *prometheus.Registry) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	return telemetry.NewMetrics(reg), reg
}
