// Package costs tracks spend on external classifier calls. Every call
// actually made appends exactly one immutable record; cache replays
// never touch the ledger.
package costs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ModelPrice holds per-1K-token rates for one model.
type ModelPrice struct {
	Per1KInput  float64
	Per1KOutput float64
}

// DefaultPricing covers the models the pipeline is expected to run
// against. Unlisted models cost zero and log a warning.
func DefaultPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-3.5-turbo": {Per1KInput: 0.0005, Per1KOutput: 0.0015},
		"gpt-4":         {Per1KInput: 0.03, Per1KOutput: 0.06},
		"gpt-4-turbo":   {Per1KInput: 0.01, Per1KOutput: 0.03},
	}
}

// Record is one external call. Records are append-only; nothing in the
// ledger mutates or removes them.
type Record struct {
	At        time.Time `json:"at"`
	Agent     string    `json:"agent"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cost      float64   `json:"cost"`
}

// Sink receives every appended record, typically for durable storage.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Ledger is the in-process spend log for one pipeline run. Construct it
// at run start and Close it at run end.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	pricing map[string]ModelPrice
	sink    Sink
	logger  *log.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink forwards every record to a durable sink.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithPricing overlays rates on top of the defaults.
func WithPricing(overrides map[string]ModelPrice) Option {
	return func(l *Ledger) {
		for model, price := range overrides {
			l.pricing[model] = price
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger returns an empty ledger with the default price table.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		pricing: DefaultPricing(),
		logger:  log.New(log.Writer(), "[COSTS] ", log.LstdFlags),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Track appends one record for an external call that was actually made
// and returns it. Callers must never Track on a cache hit.
func (l *Ledger) Track(ctx context.Context, agent, model string, tokensIn, tokensOut int64) Record {
	l.mu.Lock()
	price, ok := l.pricing[model]
	if !ok {
		l.logger.Printf("no pricing for model %s, recording zero cost", model)
	}
	rec := Record{
		At:        l.now(),
		Agent:     agent,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      float64(tokensIn)/1000.0*price.Per1KInput + float64(tokensOut)/1000.0*price.Per1KOutput,
	}
	l.records = append(l.records, rec)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Append(ctx, rec); err != nil {
			l.logger.Printf("sink append failed: %v", err)
		}
	}
	return rec
}

// Records returns a copy of every record appended so far.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Total returns the summed cost of all records.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, r := range l.records {
		total += r.Cost
	}
	return total
}

// GroupBy selects the summary axis.
type GroupBy string

const (
	GroupByAgent GroupBy = "agent"
	GroupByDay   GroupBy = "day"
)

// SummaryLine is one row of a cost summary.
type SummaryLine struct {
	Key    string
	Calls  int64
	Tokens int64
	Cost   float64
}

// Summary aggregates records from the last N days by agent or by day.
// Lines are sorted by key for stable output.
func (l *Ledger) Summary(days int, by GroupBy) ([]SummaryLine, error) {
	if by != GroupByAgent && by != GroupByDay {
		return nil, fmt.Errorf("unknown group-by %q", by)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().AddDate(0, 0, -days)
	lines := make(map[string]*SummaryLine)
	for _, r := range l.records {
		if days > 0 && r.At.Before(cutoff) {
			continue
		}
		key := r.Agent
		if by == GroupByDay {
			key = r.At.Format("2006-01-02")
		}
		line, ok := lines[key]
		if !ok {
			line = &SummaryLine{Key: key}
			lines[key] = line
		}
		line.Calls++
		line.Tokens += r.TokensIn + r.TokensOut
		line.Cost += r.Cost
	}

	out := make([]SummaryLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close flushes and closes the sink, if any.
func (l *Ledger) Close() error {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}
