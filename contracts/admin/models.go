// Package admin hosts the stable, minimal DTOs shared between the relaypool
// server and its management clients (poolctl, dashboards). Keep these
// versioned independently from internal catalog or persistence models.
package admin

import "time"

// ContractVersion identifies the contract schema version for compatibility checks.
// Bump on breaking changes to the shapes below; consumers can pin or roll forward.
const ContractVersion = "v0.1.0"

// AccountView is the management projection of a relay account. Credentials
// never leave the server; only operational state is exposed.
type AccountView struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Provider         string            `json:"provider"`
	Labels           map[string]string `json:"labels,omitempty"`
	Enabled          bool              `json:"enabled"`
	DisabledReason   string            `json:"disabled_reason,omitempty"`
	UsageCount       int64             `json:"usage_count"`
	LastUsedAt       *time.Time        `json:"last_used_at,omitempty"`
	RateLimitedUntil *time.Time        `json:"rate_limited_until,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// QuotaView is the human-readable projection of an account's latest quota
// snapshot. Percentages are 0-100; nil pointers mean the upstream never
// reported that dimension.
type QuotaView struct {
	AccountID      string     `json:"account_id"`
	Shape          string     `json:"shape"`
	HealthScore    float64    `json:"health_score"`
	Exhausted      bool       `json:"exhausted"`
	Expired        bool       `json:"expired"`
	PrimaryUsedPct *float64   `json:"primary_used_pct,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	NextReset      *time.Time `json:"next_reset,omitempty"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
}

// CreateAccountRequest registers a new upstream account with the pool.
type CreateAccountRequest struct {
	Name       string            `json:"name"`
	Provider   string            `json:"provider"`
	Credential string            `json:"credential"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// DisableAccountRequest pulls an account out of rotation. The reason shows
// up in AccountView until the account is re-enabled.
type DisableAccountRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ToggleAccountResponse reports an enable/disable outcome. Changed is false
// when the account was already in the requested state.
type ToggleAccountResponse struct {
	Account AccountView `json:"account"`
	Changed bool        `json:"changed"`
}

// RateLimitRequest marks an account rate limited for the given window.
// Relative seconds rather than an absolute deadline, so client clock skew
// cannot shorten or extend the window.
type RateLimitRequest struct {
	ResetAfterSeconds int `json:"reset_after_seconds"`
}

// ClearRateLimitResponse reports whether an expired flag was actually
// lifted; clearing inside a still-active window is a no-op.
type ClearRateLimitResponse struct {
	Cleared bool        `json:"cleared"`
	Account AccountView `json:"account"`
}

// InvalidateCacheRequest drops derived selection state. With an account id
// it drops that account's quota snapshot; without one it drops the cached
// account list.
type InvalidateCacheRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

// AccountUsageView is one account's share of relayed traffic over the
// queried range.
type AccountUsageView struct {
	AccountID    string `json:"account_id"`
	Requests     int64  `json:"requests"`
	Failures     int64  `json:"failures"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// ModelUsageView is one model's share of relayed traffic over the queried
// range.
type ModelUsageView struct {
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	Failures     int64  `json:"failures"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// UsageSummaryResponse answers the usage summary queries. From and To echo
// the resolved range after defaults were applied.
type UsageSummaryResponse struct {
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
	Accounts []AccountUsageView `json:"accounts,omitempty"`
	Models   []ModelUsageView   `json:"models,omitempty"`
}

// UsageBucketView is one hour of one account's traffic, split by model
// and client.
type UsageBucketView struct {
	Hour         time.Time `json:"hour"`
	Model        string    `json:"model"`
	Client       string    `json:"client"`
	Requests     int64     `json:"requests"`
	Failures     int64     `json:"failures"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
}

// AccountUsageSeriesResponse is the raw hourly series for one account,
// oldest hour first.
type AccountUsageSeriesResponse struct {
	AccountID string            `json:"account_id"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Buckets   []UsageBucketView `json:"buckets"`
}

// PoolStatus summarizes the pool for dashboards and poolctl status.
type PoolStatus struct {
	Accounts    []AccountView        `json:"accounts"`
	Quotas      map[string]QuotaView `json:"quotas"`
	GeneratedAt time.Time            `json:"generated_at"`
}
