// Package handler exposes the usage trail to the management API: summary
// rollups per account or model over an arbitrary time range.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypool/contracts/admin"
	"relaypool/internal/usagelog"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/httputil"
	"relaypool/pkg/requestcontext"
)

// UsageReader serves the aggregated usage queries.
type UsageReader interface {
	SummarizeByAccount(ctx context.Context, from, to time.Time) ([]usagelog.AccountUsage, error)
	SummarizeByModel(ctx context.Context, from, to time.Time) ([]usagelog.ModelUsage, error)
	BucketsForAccount(ctx context.Context, accountID string, from, to time.Time) ([]usagelog.Bucket, error)
}

type Handler struct {
	usage  UsageReader
	logger *slog.Logger
}

func New(usage UsageReader, logger *slog.Logger) *Handler {
	return &Handler{usage: usage, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/usage/accounts", h.HandleAccountUsage)
	r.Get("/admin/usage/accounts/{id}/hourly", h.HandleAccountUsageSeries)
	r.Get("/admin/usage/models", h.HandleModelUsage)
}

// HandleAccountUsage summarizes relayed traffic per account. Defaults to
// the last 24 hours when no range is given.
func (h *Handler) HandleAccountUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	from, to, err := timeRange(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rows, err := h.usage.SummarizeByAccount(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "account usage summary failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	resp := admin.UsageSummaryResponse{From: from, To: to}
	for _, row := range rows {
		resp.Accounts = append(resp.Accounts, admin.AccountUsageView{
			AccountID:    row.AccountID,
			Requests:     row.Requests,
			Failures:     row.Failures,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
			AvgLatencyMs: row.AvgLatencyMs,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleAccountUsageSeries returns one account's raw hourly buckets,
// oldest first, for burn-down charts and incident timelines.
func (h *Handler) HandleAccountUsageSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return
	}

	from, to, err := timeRange(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	buckets, err := h.usage.BucketsForAccount(ctx, accountID.String(), from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "account usage series failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	resp := admin.AccountUsageSeriesResponse{
		AccountID: accountID.String(),
		From:      from,
		To:        to,
		Buckets:   make([]admin.UsageBucketView, 0, len(buckets)),
	}
	for _, b := range buckets {
		resp.Buckets = append(resp.Buckets, admin.UsageBucketView{
			Hour:         b.Hour,
			Model:        b.Model,
			Client:       b.Client,
			Requests:     b.Requests,
			Failures:     b.Failures,
			InputTokens:  b.InputTokens,
			OutputTokens: b.OutputTokens,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleModelUsage summarizes relayed traffic per model.
func (h *Handler) HandleModelUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	from, to, err := timeRange(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rows, err := h.usage.SummarizeByModel(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "model usage summary failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	resp := admin.UsageSummaryResponse{From: from, To: to}
	for _, row := range rows {
		resp.Models = append(resp.Models, admin.ModelUsageView{
			Model:        row.Model,
			Requests:     row.Requests,
			Failures:     row.Failures,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// timeRange resolves the from/to query parameters. Both are RFC3339; to
// defaults to now and from to 24 hours before to.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	now := requestcontext.Now(r.Context())

	to := now
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, dErrors.New(dErrors.CodeBadRequest, "to must be an RFC3339 timestamp")
		}
		to = parsed
	}

	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, dErrors.New(dErrors.CodeBadRequest, "from must be an RFC3339 timestamp")
		}
		from = parsed
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, dErrors.New(dErrors.CodeBadRequest, "from must be before to")
	}
	return from, to, nil
}
