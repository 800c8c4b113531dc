package digest

import "time"

// Article is the unit flowing through the pipeline. Identity for
// deduplication purposes is the normalized title plus canonical URL.
type Article struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content,omitempty"`
	Published time.Time `json:"published"`
	Source    string    `json:"source"`
	// Sources accumulates every feed that carried this article once
	// duplicates are merged.
	Sources []string `json:"sources,omitempty"`

	Category string `json:"category,omitempty"`

	Relevant        bool   `json:"relevant"`
	RelevanceReason string `json:"relevance_reason,omitempty"`
	// LowConfidence marks articles kept by the failure policy rather
	// than by an actual classifier decision.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// StageStatus is the outcome of a single pipeline stage.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
)

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// StageReport records what happened in one stage of a run.
type StageReport struct {
	Name    string        `json:"name"`
	Status  StageStatus   `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
	In      int           `json:"in"`
	Out     int           `json:"out"`
	Error   string        `json:"error,omitempty"`
}

// Run is the full record of one pipeline execution.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     RunStatus     `json:"status"`
	Stages     []StageReport `json:"stages"`

	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	TotalCost   float64 `json:"total_cost"`

	// Overview is the macro summary shown at the top of the digest.
	// Empty when the summary stage is disabled or degraded.
	Overview string `json:"overview,omitempty"`

	ByCategory map[string][]Article `json:"by_category,omitempty"`
}

// Degraded reports whether any stage of the run was degraded or failed.
func (r *Run) Degraded() bool {
	for _, s := range r.Stages {
		if s.Status != StageOK {
			return true
		}
	}
	return false
}

// ArticleCount returns the number of articles in the final digest.
func (r *Run) ArticleCount() int {
	n := 0
	for _, arts := range r.ByCategory {
		n += len(arts)
	}
	return n
}
