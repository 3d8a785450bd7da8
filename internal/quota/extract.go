package quota

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaypool/internal/account/models"
)

// Upstream carries the raw response metadata a provider client hands back
// after a call: the response headers plus the decoded body bytes. Either
// part may be empty depending on where the provider reports quota.
type Upstream struct {
	Headers http.Header
	Body    []byte
}

// Extractor normalizes provider response metadata into snapshots, one
// parser per provider family. Extraction never fails loudly: missing or
// malformed fields yield "no data" and a log line, never an error, so one
// noisy upstream response cannot poison the engine.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract normalizes the metadata for the given provider. The bool result
// is false when the payload carried no usable quota signal.
func (e *Extractor) Extract(provider models.Provider, meta Upstream, now time.Time) (Snapshot, bool) {
	switch provider {
	case models.ProviderClaude:
		return e.extractPercentageWindow(meta, now)
	case models.ProviderClaudeConsole:
		return e.extractUnifiedClaim(meta, now)
	case models.ProviderCodex:
		return e.extractTokenBudget(meta, now)
	case models.ProviderGemini:
		return e.extractCreditBreakdown(meta, now)
	case models.ProviderAntigravity:
		return e.extractFractionalRemaining(meta, now)
	default:
		e.logger.Warn("quota extraction skipped for unknown provider", "provider", provider)
		return nil, false
	}
}

// extractPercentageWindow reads the subscription usage body: a short and a
// long rolling window, each with a utilization percentage and reset time.
func (e *Extractor) extractPercentageWindow(meta Upstream, now time.Time) (Snapshot, bool) {
	if len(meta.Body) == 0 {
		return nil, false
	}
	var payload struct {
		FiveHour *struct {
			Utilization float64 `json:"utilization"`
			ResetsAt    any     `json:"resets_at"`
		} `json:"five_hour"`
		SevenDay *struct {
			Utilization float64 `json:"utilization"`
			ResetsAt    any     `json:"resets_at"`
		} `json:"seven_day"`
	}
	if err := json.Unmarshal(meta.Body, &payload); err != nil {
		e.logger.Warn("unparseable usage window body", "error", err)
		return nil, false
	}
	if payload.FiveHour == nil && payload.SevenDay == nil {
		e.logger.Debug("usage body carried no windows")
		return nil, false
	}

	snap := &PercentageWindow{LastUpdatedAt: now}
	if payload.FiveHour != nil {
		snap.Primary = Window{
			UsedPercent: payload.FiveHour.Utilization,
			ResetsAt:    parseTimeValue(payload.FiveHour.ResetsAt),
		}
	}
	if payload.SevenDay != nil {
		snap.Secondary = Window{
			UsedPercent: payload.SevenDay.Utilization,
			ResetsAt:    parseTimeValue(payload.SevenDay.ResetsAt),
		}
	}
	return snap, true
}

// Unified rate-limit headers sent by the console-style API.
const (
	headerUnifiedStatus   = "anthropic-ratelimit-unified-status"
	headerUnified5hUtil   = "anthropic-ratelimit-unified-5h-utilization"
	headerUnified5hReset  = "anthropic-ratelimit-unified-5h-reset"
	headerUnified7dUtil   = "anthropic-ratelimit-unified-7d-utilization"
	headerUnified7dReset  = "anthropic-ratelimit-unified-7d-reset"
	headerUnifiedFallback = "anthropic-ratelimit-unified-fallback-percentage"
)

func (e *Extractor) extractUnifiedClaim(meta Upstream, now time.Time) (Snapshot, bool) {
	if meta.Headers == nil {
		return nil, false
	}

	snap := &UnifiedClaim{LastUpdatedAt: now}
	if status := meta.Headers.Get(headerUnifiedStatus); status != "" {
		snap.Status = ClaimStatus(status)
	}
	// Windows are appended shortest-first; health weighting relies on it.
	if pct, ok := parsePercentHeader(meta.Headers, headerUnified5hUtil); ok {
		snap.Windows = append(snap.Windows, WindowUtilization{
			Name:        "5h",
			UsedPercent: pct,
			ResetsAt:    parseTimeValue(meta.Headers.Get(headerUnified5hReset)),
		})
	}
	if pct, ok := parsePercentHeader(meta.Headers, headerUnified7dUtil); ok {
		snap.Windows = append(snap.Windows, WindowUtilization{
			Name:        "7d",
			UsedPercent: pct,
			ResetsAt:    parseTimeValue(meta.Headers.Get(headerUnified7dReset)),
		})
	}
	if pct, ok := parsePercentHeader(meta.Headers, headerUnifiedFallback); ok {
		snap.FallbackUsedPercent = &pct
	}

	if snap.Status == "" && len(snap.Windows) == 0 && snap.FallbackUsedPercent == nil {
		e.logger.Debug("response carried no unified rate-limit headers")
		return nil, false
	}
	if snap.Status == "" {
		snap.Status = ClaimAllowed
	}
	return snap, true
}

// Token budget headers in the x-ratelimit family. Reset values are
// durations relative to now ("6m0s", "1h12m").
const (
	headerLimitTokens      = "x-ratelimit-limit-tokens"
	headerRemainingTokens  = "x-ratelimit-remaining-tokens"
	headerResetTokens      = "x-ratelimit-reset-tokens"
	headerLimitInput       = "x-ratelimit-limit-input-tokens"
	headerRemainingInput   = "x-ratelimit-remaining-input-tokens"
	headerResetInput       = "x-ratelimit-reset-input-tokens"
	headerLimitOutput      = "x-ratelimit-limit-output-tokens"
	headerRemainingOutput  = "x-ratelimit-remaining-output-tokens"
	headerResetOutputToken = "x-ratelimit-reset-output-tokens"
)

func (e *Extractor) extractTokenBudget(meta Upstream, now time.Time) (Snapshot, bool) {
	if meta.Headers == nil {
		return nil, false
	}
	total, totalOK := parseIntHeader(meta.Headers, headerLimitTokens)
	remaining, remainingOK := parseIntHeader(meta.Headers, headerRemainingTokens)
	if !totalOK || !remainingOK {
		e.logger.Debug("response carried no token budget headers")
		return nil, false
	}

	snap := &TokenBudget{
		TotalLimit:     total,
		TotalRemaining: remaining,
		TotalResetsAt:  parseResetDuration(meta.Headers.Get(headerResetTokens), now),
		LastUpdatedAt:  now,
	}
	if limit, ok := parseIntHeader(meta.Headers, headerLimitInput); ok {
		snap.InputLimit = limit
		snap.InputRemaining, _ = parseIntHeader(meta.Headers, headerRemainingInput)
		snap.InputResetsAt = parseResetDuration(meta.Headers.Get(headerResetInput), now)
	}
	if limit, ok := parseIntHeader(meta.Headers, headerLimitOutput); ok {
		snap.OutputLimit = limit
		snap.OutputRemaining, _ = parseIntHeader(meta.Headers, headerRemainingOutput)
		snap.OutputResetsAt = parseResetDuration(meta.Headers.Get(headerResetOutputToken), now)
	}
	return snap, true
}

func (e *Extractor) extractCreditBreakdown(meta Upstream, now time.Time) (Snapshot, bool) {
	if len(meta.Body) == 0 {
		return nil, false
	}
	var payload struct {
		Unlimited bool         `json:"unlimited"`
		Items     []creditJSON `json:"items"`
		FreeTrial *creditJSON  `json:"free_trial"`
	}
	if err := json.Unmarshal(meta.Body, &payload); err != nil {
		e.logger.Warn("unparseable credit body", "error", err)
		return nil, false
	}
	if !payload.Unlimited && len(payload.Items) == 0 && payload.FreeTrial == nil {
		e.logger.Debug("credit body carried no usage items")
		return nil, false
	}

	snap := &CreditBreakdown{
		Unlimited:     payload.Unlimited,
		LastUpdatedAt: now,
	}
	for _, item := range payload.Items {
		snap.Items = append(snap.Items, item.toItem())
	}
	if payload.FreeTrial != nil {
		item := payload.FreeTrial.toItem()
		snap.FreeTrial = &item
	}
	return snap, true
}

type creditJSON struct {
	Name     string   `json:"name"`
	Used     float64  `json:"used"`
	Limit    *float64 `json:"limit"`
	ResetsAt any      `json:"resets_at"`
}

func (c creditJSON) toItem() CreditItem {
	return CreditItem{
		Name:     c.Name,
		Used:     c.Used,
		Limit:    c.Limit,
		ResetsAt: parseTimeValue(c.ResetsAt),
	}
}

func (e *Extractor) extractFractionalRemaining(meta Upstream, now time.Time) (Snapshot, bool) {
	if len(meta.Body) == 0 {
		return nil, false
	}
	var payload struct {
		Models []struct {
			Model string `json:"model"`
			Quota *struct {
				RemainingFraction *float64 `json:"remainingFraction"`
				ResetTime         any      `json:"resetTime"`
			} `json:"quota"`
		} `json:"models"`
	}
	if err := json.Unmarshal(meta.Body, &payload); err != nil {
		e.logger.Warn("unparseable model quota body", "error", err)
		return nil, false
	}

	snap := &FractionalRemaining{LastUpdatedAt: now}
	for _, m := range payload.Models {
		if m.Quota == nil || m.Quota.RemainingFraction == nil {
			continue
		}
		snap.Resources = append(snap.Resources, ResourceQuota{
			Name:              m.Model,
			RemainingFraction: *m.Quota.RemainingFraction,
			ResetsAt:          parseTimeValue(m.Quota.ResetTime),
		})
	}
	if len(snap.Resources) == 0 {
		e.logger.Debug("model quota body carried no fractions")
		return nil, false
	}
	return snap, true
}

func parsePercentHeader(h http.Header, name string) (float64, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

func parseIntHeader(h http.Header, name string) (int64, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseResetDuration turns a relative reset header ("6m0s") into an
// absolute deadline.
func parseResetDuration(raw string, now time.Time) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}

// parseTimeValue accepts the timestamp encodings seen across providers:
// RFC 3339 strings, unix seconds as a number, or unix seconds as a string.
func parseTimeValue(v any) *time.Time {
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			t = t.UTC()
			return &t
		}
		if secs, err := strconv.ParseInt(val, 10, 64); err == nil && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			return &t
		}
	case float64:
		if val > 0 {
			t := time.Unix(int64(val), 0).UTC()
			return &t
		}
	case json.Number:
		if secs, err := val.Int64(); err == nil && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			return &t
		}
	}
	return nil
}
