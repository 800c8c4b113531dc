package costs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink persists cost records in the cost_records table so spend
// reports survive across runs. Schema is managed by the migrations in
// migrations/.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection pool against dsn and verifies it.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_records (recorded_at, agent, model, tokens_in, tokens_out, cost)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.At, rec.Agent, rec.Model, rec.TokensIn, rec.TokensOut, rec.Cost)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// Summary aggregates stored records from the last N days by agent or by
// day, for the costs report command.
func (s *PostgresSink) Summary(ctx context.Context, days int, by GroupBy) ([]SummaryLine, error) {
	var keyExpr string
	switch by {
	case GroupByAgent:
		keyExpr = "agent"
	case GroupByDay:
		keyExpr = "to_char(recorded_at, 'YYYY-MM-DD')"
	default:
		return nil, fmt.Errorf("unknown group-by %q", by)
	}

	query := fmt.Sprintf(
		`SELECT %s AS key, COUNT(*), COALESCE(SUM(tokens_in + tokens_out), 0), COALESCE(SUM(cost), 0)
		 FROM cost_records
		 WHERE recorded_at >= NOW() - ($1::text || ' days')::interval
		 GROUP BY key
		 ORDER BY key`, keyExpr)

	rows, err := s.db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("query cost summary: %w", err)
	}
	defer rows.Close()

	var out []SummaryLine
	for rows.Next() {
		var line SummaryLine
		if err := rows.Scan(&line.Key, &line.Calls, &line.Tokens, &line.Cost); err != nil {
			return nil, fmt.Errorf("scan cost summary: %w", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
