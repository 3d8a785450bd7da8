// Package usagelog collects one record per relayed request and folds the
// stream into hourly per-account buckets. Intake is buffered and never
// blocks the relay path; when the buffer is full, entries are dropped and
// counted rather than queued.
package usagelog

import "time"

// Entry is one relayed request as observed at the relay boundary. Fields
// are plain strings so the log stays decoupled from the catalog model; a
// deleted account's history remains queryable.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	AccountID    string    `json:"account_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SessionID    string    `json:"session_id,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Client       string    `json:"client,omitempty"`
	StatusCode   int       `json:"status_code"`
	Success      bool      `json:"success"`
	LatencyMs    int64     `json:"latency_ms"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
}

// Bucket is one hour of aggregated traffic for an account, model, and
// client combination. Hour is truncated to the hour in UTC.
type Bucket struct {
	Hour         time.Time
	AccountID    string
	Provider     string
	Model        string
	Client       string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	LatencyMsSum int64
}

// bucketKey identifies one aggregation bucket while entries are folded in
// memory, before the flush to the sink.
type bucketKey struct {
	hour      int64
	accountID string
	model     string
	client    string
}

func keyFor(e Entry) bucketKey {
	return bucketKey{
		hour:      e.Timestamp.UTC().Truncate(time.Hour).Unix(),
		accountID: e.AccountID,
		model:     e.Model,
		client:    e.Client,
	}
}

// AccountUsage is one row of the per-account summary over a time range.
type AccountUsage struct {
	AccountID    string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	AvgLatencyMs int64
}

// ModelUsage is one row of the per-model summary over a time range.
type ModelUsage struct {
	Model        string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
}
