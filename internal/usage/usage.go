// Package usage persists per-request routing outcomes to SQLite so the
// stats endpoint can report spend and savings across restarts.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one routed request's outcome.
type Record struct {
	RequestID    string
	Model        string
	Tier         string
	Profile      string
	Method       string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	BaselineUSD  float64
	SavingsUSD   float64
	Cached       bool
	Deduped      bool
	LatencyMS    int64
	Status       int
	CreatedAt    time.Time
}

// Summary aggregates records over a window for the stats endpoint.
type Summary struct {
	Requests       int64              `json:"requests"`
	InputTokens    int64              `json:"input_tokens"`
	OutputTokens   int64              `json:"output_tokens"`
	CostUSD        float64            `json:"cost_usd"`
	BaselineUSD    float64            `json:"baseline_usd"`
	SavingsUSD     float64            `json:"savings_usd"`
	CacheHits      int64              `json:"cache_hits"`
	DedupHits      int64              `json:"dedup_hits"`
	ByModel        map[string]int64   `json:"by_model"`
	ByTier         map[string]int64   `json:"by_tier"`
}

// Store wraps a SQLite database (modernc.org/sqlite, pure Go).
type Store struct {
	db *sql.DB
}

// Open opens or creates the usage database and runs migrations. Use
// ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// Single writer; keep the pool small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS usage_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		profile TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		baseline_usd REAL NOT NULL DEFAULT 0,
		savings_usd REAL NOT NULL DEFAULT 0,
		cached INTEGER NOT NULL DEFAULT 0,
		deduped INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate usage_log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at)`); err != nil {
		return fmt.Errorf("migrate usage index: %w", err)
	}
	return nil
}

// LogRequest appends one record. A zero CreatedAt is stamped now.
func (s *Store) LogRequest(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_log
		(request_id, model, tier, profile, method, input_tokens, output_tokens,
		 cost_usd, baseline_usd, savings_usd, cached, deduped, latency_ms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.Model, r.Tier, r.Profile, r.Method,
		r.InputTokens, r.OutputTokens,
		r.CostUSD, r.BaselineUSD, r.SavingsUSD,
		boolInt(r.Cached), boolInt(r.Deduped), r.LatencyMS, r.Status,
		r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Aggregate summarizes the last `days` days of traffic. days <= 0 means all
// history.
func (s *Store) Aggregate(ctx context.Context, days int) (Summary, error) {
	var since int64
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days).Unix()
	}

	sum := Summary{
		ByModel: make(map[string]int64),
		ByTier:  make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cost_usd), 0),
		COALESCE(SUM(baseline_usd), 0),
		COALESCE(SUM(savings_usd), 0),
		COALESCE(SUM(cached), 0),
		COALESCE(SUM(deduped), 0)
		FROM usage_log WHERE created_at >= ?`, since)
	if err := row.Scan(&sum.Requests, &sum.InputTokens, &sum.OutputTokens,
		&sum.CostUSD, &sum.BaselineUSD, &sum.SavingsUSD,
		&sum.CacheHits, &sum.DedupHits); err != nil {
		return Summary{}, fmt.Errorf("aggregate usage: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model, tier, COUNT(*) FROM usage_log WHERE created_at >= ? GROUP BY model, tier`, since)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate by model: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var model, tier string
		var n int64
		if err := rows.Scan(&model, &tier, &n); err != nil {
			return Summary{}, err
		}
		sum.ByModel[model] += n
		if tier != "" {
			sum.ByTier[tier] += n
		}
	}
	return sum, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
