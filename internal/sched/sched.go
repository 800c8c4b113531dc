// Package sched runs the pipeline on a cron schedule for the serve
// command.
package sched

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Scheduler fires a job at the times described by a cron expression.
type Scheduler struct {
	expr   *cronexpr.Expression
	spec   string
	logger *log.Logger
}

// New parses the cron expression.
func New(spec string) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{
		expr:   expr,
		spec:   spec,
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}, nil
}

// Run blocks, invoking job at every scheduled time until ctx is done.
// Job errors are logged, never fatal; the next run still fires.
func (s *Scheduler) Run(ctx context.Context, job func(ctx context.Context) error) error {
	for {
		next := s.expr.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("schedule %q has no future activations", s.spec)
		}
		s.logger.Printf("next run at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := job(ctx); err != nil {
			s.logger.Printf("scheduled run failed: %v", err)
		}
	}
}
