package usagelog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dErrors "relaypool/pkg/domain-errors"
)

// Store persists hourly usage buckets in SQLite and serves the summary
// queries for the management API. One file holds the whole trail; WAL mode
// keeps summary reads from stalling behind flush writes.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) if needed and
// prepares the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create usage db directory")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "open usage db")
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "configure usage db")
		}
	}

	store := NewStore(db)
	if err := store.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_hourly (
			hour_utc       TEXT    NOT NULL,
			account_id     TEXT    NOT NULL,
			provider       TEXT    NOT NULL,
			model          TEXT    NOT NULL,
			client         TEXT    NOT NULL,
			requests       INTEGER NOT NULL DEFAULT 0,
			failures       INTEGER NOT NULL DEFAULT 0,
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			latency_ms_sum INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (hour_utc, account_id, model, client)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_hourly_account ON usage_hourly(account_id, hour_utc);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "init usage schema")
		}
	}
	return nil
}

// Merge upserts a batch of buckets, adding deltas onto any existing rows
// for the same hour, account, model, and client.
func (s *Store) Merge(ctx context.Context, buckets []Bucket) error {
	if len(buckets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin usage merge")
	}
	defer tx.Rollback()

	for _, b := range buckets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage_hourly (
				hour_utc, account_id, provider, model, client,
				requests, failures, input_tokens, output_tokens, latency_ms_sum
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (hour_utc, account_id, model, client) DO UPDATE SET
				requests       = requests + excluded.requests,
				failures       = failures + excluded.failures,
				input_tokens   = input_tokens + excluded.input_tokens,
				output_tokens  = output_tokens + excluded.output_tokens,
				latency_ms_sum = latency_ms_sum + excluded.latency_ms_sum
		`,
			hourKey(b.Hour),
			b.AccountID,
			b.Provider,
			b.Model,
			b.Client,
			b.Requests,
			b.Failures,
			b.InputTokens,
			b.OutputTokens,
			b.LatencyMsSum,
		)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "merge usage bucket")
		}
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit usage merge")
	}
	return nil
}

// SummarizeByAccount aggregates the trail per account over [from, to).
// Rows come back ordered by request count, busiest account first.
func (s *Store) SummarizeByAccount(ctx context.Context, from, to time.Time) ([]AccountUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id,
		       SUM(requests), SUM(failures),
		       SUM(input_tokens), SUM(output_tokens), SUM(latency_ms_sum)
		FROM usage_hourly
		WHERE hour_utc >= ? AND hour_utc < ?
		GROUP BY account_id
		ORDER BY SUM(requests) DESC
	`, hourKey(from), hourKey(to))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "summarize usage by account")
	}
	defer rows.Close()

	var out []AccountUsage
	for rows.Next() {
		var u AccountUsage
		var latencySum int64
		if err := rows.Scan(&u.AccountID, &u.Requests, &u.Failures, &u.InputTokens, &u.OutputTokens, &latencySum); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan account usage row")
		}
		if u.Requests > 0 {
			u.AvgLatencyMs = latencySum / u.Requests
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate account usage rows")
	}
	return out, nil
}

// SummarizeByModel aggregates the trail per model over [from, to).
func (s *Store) SummarizeByModel(ctx context.Context, from, to time.Time) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
		       SUM(requests), SUM(failures),
		       SUM(input_tokens), SUM(output_tokens)
		FROM usage_hourly
		WHERE hour_utc >= ? AND hour_utc < ?
		GROUP BY model
		ORDER BY SUM(requests) DESC
	`, hourKey(from), hourKey(to))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "summarize usage by model")
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Requests, &u.Failures, &u.InputTokens, &u.OutputTokens); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan model usage row")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate model usage rows")
	}
	return out, nil
}

// BucketsForAccount returns the raw hourly series for one account over
// [from, to), oldest hour first.
func (s *Store) BucketsForAccount(ctx context.Context, accountID string, from, to time.Time) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hour_utc, account_id, provider, model, client,
		       requests, failures, input_tokens, output_tokens, latency_ms_sum
		FROM usage_hourly
		WHERE account_id = ? AND hour_utc >= ? AND hour_utc < ?
		ORDER BY hour_utc ASC
	`, accountID, hourKey(from), hourKey(to))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load usage buckets")
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		var hour string
		if err := rows.Scan(&hour, &b.AccountID, &b.Provider, &b.Model, &b.Client,
			&b.Requests, &b.Failures, &b.InputTokens, &b.OutputTokens, &b.LatencyMsSum); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan usage bucket row")
		}
		parsed, err := time.Parse(time.RFC3339, hour)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode usage bucket hour")
		}
		b.Hour = parsed
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate usage bucket rows")
	}
	return out, nil
}

// hourKey renders a time as the stored hour string. RFC3339 in UTC sorts
// lexicographically, so range scans compare correctly as text.
func hourKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
