// Package pipeline orchestrates the digest run as an explicit state
// machine. Stage failures are absorbed and recorded; the only way a
// run fails outright is losing every article.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedigest/config"
	"feedigest/internal/cache"
	"feedigest/internal/categorize"
	"feedigest/internal/costs"
	"feedigest/internal/digest"
	"feedigest/internal/fetch"
	"feedigest/internal/telemetry"
)

// State is the orchestrator's position in the run.
type State string

const (
	StateFetching      State = "fetching"
	StateDeduplicating State = "deduplicating"
	StateScreening     State = "screening"
	StateFiltering     State = "filtering"
	StateSummarizing   State = "summarizing"
	StateCategorizing  State = "categorizing"
	StateRanking       State = "ranking"
	StateAggregating   State = "aggregating"
	StateDone          State = "done"
)

// transitions is the only legal path through a run.
var transitions = map[State]State{
	StateFetching:      StateDeduplicating,
	StateDeduplicating: StateScreening,
	StateScreening:     StateFiltering,
	StateFiltering:     StateSummarizing,
	StateSummarizing:   StateCategorizing,
	StateCategorizing:  StateRanking,
	StateRanking:       StateAggregating,
	StateAggregating:   StateDone,
}

// Fetcher retrieves articles from the configured feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, feeds []config.FeedConfig) ([]digest.Article, []fetch.Result)
}

// Deduper merges duplicate articles.
type Deduper interface {
	Dedup(articles []digest.Article) []digest.Article
}

// Guard is the keyword pre-filter that screens articles before any
// classifier money is spent.
type Guard interface {
	Apply(articles []digest.Article) []digest.Article
}

// Filter is the relevance stage.
type Filter interface {
	Apply(ctx context.Context, articles []digest.Article) ([]digest.Article, bool)
}

// Summarizer writes the run's macro overview from the relevant
// articles.
type Summarizer interface {
	Overview(ctx context.Context, articles []digest.Article) (string, bool)
}

// Ranker orders one category.
type Ranker interface {
	Rank(ctx context.Context, category string, articles []digest.Article) ([]digest.Article, bool)
}

// Distributor delivers the finished digest. The orchestrator is its
// only caller.
type Distributor interface {
	Distribute(ctx context.Context, run *digest.Run) error
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Feeds       []config.FeedConfig
	Fetcher     Fetcher
	Deduper     Deduper
	Guard       Guard      // nil disables the keyword guardrail
	Filter      Filter     // nil disables the relevance stage
	Summarizer  Summarizer // nil disables the macro overview
	Categorizer categorize.Categorizer
	Ranker      Ranker
	Distributor Distributor // optional
	Ledger      *costs.Ledger
	// Caches maps stage name to its decision cache, for stats
	// aggregation into the run.
	Caches  map[string]*cache.Cache
	Metrics *telemetry.Metrics // optional
}

// Pipeline executes digest runs.
type Pipeline struct {
	deps   Deps
	state  State
	logger *log.Logger
}

// New builds a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		deps:   deps,
		logger: telemetry.NewLogger("PIPELINE"),
	}
}

// advance moves the state machine one step, refusing illegal jumps.
func (p *Pipeline) advance(to State) error {
	if transitions[p.state] != to {
		return fmt.Errorf("illegal transition %s -> %s", p.state, to)
	}
	p.state = to
	return nil
}

// record appends a stage report and updates metrics.
func (p *Pipeline) record(run *digest.Run, name string, start time.Time, in, out int, status digest.StageStatus, errMsg string) {
	elapsed := time.Since(start)
	run.Stages = append(run.Stages, digest.StageReport{
		Name:    name,
		Status:  status,
		Elapsed: elapsed,
		In:      in,
		Out:     out,
		Error:   errMsg,
	})
	p.deps.Metrics.ObserveStage(name, elapsed, out)
	p.logger.Printf("stage %s: %d -> %d articles in %v (%s)", name, in, out, elapsed.Round(time.Millisecond), status)
}

// finish closes out the run, aggregating cache and ledger totals.
func (p *Pipeline) finish(run *digest.Run, status digest.RunStatus) *digest.Run {
	p.state = StateDone
	run.Status = status
	run.FinishedAt = time.Now()

	for name, c := range p.deps.Caches {
		stats := c.Stats()
		run.CacheHits += stats.Hits
		run.CacheMisses += stats.Misses
		p.deps.Metrics.ObserveCache(name, stats.Hits, stats.Misses)
	}
	if p.deps.Ledger != nil {
		run.TotalCost = p.deps.Ledger.Total()
	}
	p.deps.Metrics.ObserveRun(string(status), run.TotalCost)

	p.logger.Printf("run %s %s: %d articles, %d cache hits / %d misses, $%.4f",
		run.ID, status, run.ArticleCount(), run.CacheHits, run.CacheMisses, run.TotalCost)
	return run
}

// Run executes one full digest run. The returned error is non-nil only
// for orchestration bugs; operational trouble lands in the run's stage
// reports and terminal status.
func (p *Pipeline) Run(ctx context.Context) (*digest.Run, error) {
	run := &digest.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	p.state = StateFetching
	p.logger.Printf("run %s started: %d feeds", run.ID, len(p.deps.Feeds))

	// Fetching
	start := time.Now()
	articles, feedResults := p.deps.Fetcher.FetchAll(ctx, p.deps.Feeds)
	fetchStatus := digest.StageOK
	var feedErrs []string
	for _, res := range feedResults {
		if res.Err != nil {
			fetchStatus = digest.StageDegraded
			feedErrs = append(feedErrs, fmt.Sprintf("feed %s: %v", res.Feed, res.Err))
		}
	}
	p.record(run, string(StateFetching), start, len(p.deps.Feeds), len(articles), fetchStatus, strings.Join(feedErrs, "; "))
	if len(articles) == 0 {
		return p.finish(run, digest.RunFailed), nil
	}

	// Deduplicating
	if err := p.advance(StateDeduplicating); err != nil {
		return run, err
	}
	start = time.Now()
	in := len(articles)
	articles = p.deps.Deduper.Dedup(articles)
	p.record(run, string(StateDeduplicating), start, in, len(articles), digest.StageOK, "")

	// Screening: the keyword guardrail drops off-topic articles before
	// any paid stage runs. Losing everything here means the feeds
	// carried nothing worth classifying.
	if err := p.advance(StateScreening); err != nil {
		return run, err
	}
	start = time.Now()
	in = len(articles)
	if p.deps.Guard != nil {
		articles = p.deps.Guard.Apply(articles)
	}
	p.record(run, string(StateScreening), start, in, len(articles), digest.StageOK, "")
	if len(articles) == 0 {
		return p.finish(run, digest.RunFailed), nil
	}

	// Filtering
	if err := p.advance(StateFiltering); err != nil {
		return run, err
	}
	start = time.Now()
	in = len(articles)
	filterStatus := digest.StageOK
	if p.deps.Filter != nil {
		var degraded bool
		articles, degraded = p.deps.Filter.Apply(ctx, articles)
		if degraded {
			filterStatus = digest.StageDegraded
		}
	}
	p.record(run, string(StateFiltering), start, in, len(articles), filterStatus, "")
	if len(articles) == 0 {
		return p.finish(run, digest.RunFailed), nil
	}

	// Summarizing: the macro overview rides along with the run; losing
	// it degrades the digest but never costs an article.
	if err := p.advance(StateSummarizing); err != nil {
		return run, err
	}
	start = time.Now()
	sumStatus := digest.StageOK
	if p.deps.Summarizer != nil {
		overview, degraded := p.deps.Summarizer.Overview(ctx, articles)
		run.Overview = overview
		if degraded {
			sumStatus = digest.StageDegraded
		}
	}
	p.record(run, string(StateSummarizing), start, len(articles), len(articles), sumStatus, "")

	// Categorizing
	if err := p.advance(StateCategorizing); err != nil {
		return run, err
	}
	start = time.Now()
	in = len(articles)
	catStatus := digest.StageOK
	var degraded bool
	articles, degraded = p.deps.Categorizer.Categorize(ctx, articles)
	if degraded {
		catStatus = digest.StageDegraded
	}
	p.record(run, string(StateCategorizing), start, in, len(articles), catStatus, "")

	// Ranking, per category in first-appearance order
	if err := p.advance(StateRanking); err != nil {
		return run, err
	}
	start = time.Now()
	in = len(articles)
	order, grouped := groupByCategory(articles)
	rankStatus := digest.StageOK
	byCategory := make(map[string][]digest.Article, len(grouped))
	total := 0
	for _, category := range order {
		ranked, degraded := p.deps.Ranker.Rank(ctx, category, grouped[category])
		if degraded {
			rankStatus = digest.StageDegraded
		}
		byCategory[category] = ranked
		total += len(ranked)
	}
	p.record(run, string(StateRanking), start, in, total, rankStatus, "")

	// Aggregating
	if err := p.advance(StateAggregating); err != nil {
		return run, err
	}
	start = time.Now()
	run.ByCategory = byCategory
	aggStatus := digest.StageOK
	var aggErr string
	if p.deps.Distributor != nil {
		if err := p.deps.Distributor.Distribute(ctx, run); err != nil {
			aggStatus = digest.StageDegraded
			aggErr = err.Error()
			p.logger.Printf("distribution failed: %v", err)
		}
	}
	p.record(run, string(StateAggregating), start, total, total, aggStatus, aggErr)

	status := digest.RunCompleted
	if run.Degraded() {
		status = digest.RunPartial
	}
	return p.finish(run, status), nil
}

// groupByCategory preserves arrival order both across categories and
// within each one.
func groupByCategory(articles []digest.Article) ([]string, map[string][]digest.Article) {
	var order []string
	grouped := make(map[string][]digest.Article)
	for _, art := range articles {
		if _, ok := grouped[art.Category]; !ok {
			order = append(order, art.Category)
		}
		grouped[art.Category] = append(grouped[art.Category], art)
	}
	return order, grouped
}
