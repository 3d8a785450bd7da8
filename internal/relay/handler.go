package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypool/internal/account/models"
	"relaypool/internal/platform/tracer"
	"relaypool/internal/quota"
	relaymetrics "relaypool/internal/relay/metrics"
	"relaypool/internal/selection"
	"relaypool/internal/usagelog"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/httputil"
	"relaypool/pkg/platform/validation"
	"relaypool/pkg/requestcontext"
)

// defaultBackoff applies when a 429 arrives without a usable Retry-After.
const defaultBackoff = time.Minute

// maxAttempts bounds how many accounts one request may burn through. The
// reservation scope keeps retries off accounts already tried.
const maxAttempts = 3

// Pool is the selection surface the relay drives.
type Pool interface {
	Select(ctx context.Context, provider models.Provider, model string) (*models.Account, error)
	TryGetByID(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	RecordQuota(ctx context.Context, accountID id.AccountID, meta quota.Upstream)
}

// Limiter receives upstream backoff and credential failure feedback.
type Limiter interface {
	MarkRateLimited(ctx context.Context, accountID id.AccountID, resetAfter time.Duration) error
	DisableAccount(ctx context.Context, accountID id.AccountID, reason string) error
}

// UsageRecorder journals each relayed request. Recording must not block.
type UsageRecorder interface {
	Record(ctx context.Context, e usagelog.Entry)
}

type Handler struct {
	pool       Pool
	limiter    Limiter
	dispatcher Dispatcher
	sessions   *Registry
	usage      UsageRecorder
	logger     *slog.Logger
	metrics    *relaymetrics.Metrics
	tracer     tracer.Tracer
}

type Option func(h *Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *relaymetrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithSessions enables sticky sessions backed by the given registry.
func WithSessions(sessions *Registry) Option {
	return func(h *Handler) {
		h.sessions = sessions
	}
}

// WithUsageRecorder journals relayed requests into the usage pipeline.
func WithUsageRecorder(usage UsageRecorder) Option {
	return func(h *Handler) {
		h.usage = usage
	}
}

// WithTracer emits a span per relayed request. Session keys appear in
// traces only as truncated hashes.
func WithTracer(t tracer.Tracer) Option {
	return func(h *Handler) {
		h.tracer = t
	}
}

func New(pool Pool, limiter Limiter, dispatcher Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		pool:       pool,
		limiter:    limiter,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = tracer.NewNoop()
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/messages", h.HandleMessages)
}

// relayRequest is the thin peek into the inbound payload. Only the model
// matters for routing; the body itself is forwarded verbatim.
type relayRequest struct {
	Model string `json:"model"`
}

// HandleMessages relays one Claude-style request through the pool. The
// request is routed to a provider chain by model name, served by the
// best-scored account (or the session's pinned one), and retried on a
// fresh account when the upstream turns the account away.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ctx, scope := selection.WithScope(ctx)
	defer scope.ReleaseAll()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validation.MaxRelayBodySize))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "request body too large"))
		return
	}

	var req relayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "model is required"))
		return
	}
	if err := validation.CheckStringLength("model", model, validation.MaxModelNameLength); err != nil {
		httputil.WriteError(w, err)
		return
	}

	chain := ProvidersForModel(model)
	if len(chain) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unsupported model: "+model))
		return
	}

	sessionKey := id.SessionKey(strings.TrimSpace(r.Header.Get("X-Session-Id")))
	if err := validation.CheckStringLength("session id", sessionKey.String(), validation.MaxSessionIDLength); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx, span := h.tracer.Start(ctx, tracer.SpanRelay,
		tracer.String(tracer.AttrModel, model),
		tracer.String(tracer.AttrSessionKey, tracer.HashSessionKey(sessionKey.String())),
	)

	upstream := UpstreamRequest{
		Model:  model,
		Body:   body,
		Header: forwardedHeaders(r.Header),
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		account, err := h.pickAccount(ctx, chain, model, sessionKey, attempt)
		if err != nil {
			// No account now; another attempt will not invent one.
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		if attempt > 0 && h.metrics != nil {
			h.metrics.IncrementRetries()
		}

		start := time.Now()
		result, err := h.dispatcher.Dispatch(ctx, account, upstream)
		if err != nil {
			// The scope still holds this account, so the retry selects a
			// different one.
			h.logger.WarnContext(ctx, "upstream dispatch failed",
				"error", err,
				"account_id", account.ID,
				"provider", account.Provider,
				"request_id", requestID,
			)
			h.countRequest(account.Provider.String(), relaymetrics.OutcomeTransportError)
			lastErr = err
			continue
		}
		h.observeUpstream(account.Provider.String(), start)

		switch {
		case result.StatusCode == http.StatusTooManyRequests:
			h.handleRateLimited(ctx, account, result, sessionKey)
			lastErr = dErrors.New(dErrors.CodeRateLimited, "upstream rate limited")
			continue

		case result.StatusCode == http.StatusUnauthorized || result.StatusCode == http.StatusForbidden:
			h.handleAuthFailure(ctx, account, result.StatusCode, sessionKey)
			lastErr = dErrors.New(dErrors.CodeUpstream, "upstream rejected account credential")
			continue

		default:
			span.SetAttributes(
				tracer.String(tracer.AttrAccountID, account.ID.String()),
				tracer.String(tracer.AttrProvider, account.Provider.String()),
				tracer.Int64("status_code", int64(result.StatusCode)),
				tracer.Duration("upstream_ms", time.Since(start)),
			)
			span.End(nil)
			h.finishRelay(ctx, w, account, result, upstream, sessionKey, start)
			return
		}
	}

	if lastErr == nil {
		lastErr = dErrors.New(dErrors.CodeNoAccountAvailable, "no available account for model")
	}
	if dErrors.HasCode(lastErr, dErrors.CodeNoAccountAvailable) {
		h.countRequest("none", relaymetrics.OutcomeNoAccount)
	}
	span.End(lastErr)
	httputil.WriteError(w, lastErr)
}

// pickAccount resolves the account for one attempt. The first attempt of
// a sticky session tries the pinned account; everything else walks the
// provider chain in preference order.
func (h *Handler) pickAccount(ctx context.Context, chain []models.Provider, model string, sessionKey id.SessionKey, attempt int) (*models.Account, error) {
	if attempt == 0 && !sessionKey.IsNil() && h.sessions != nil {
		now := requestcontext.Now(ctx)
		if pinned, ok := h.sessions.Lookup(sessionKey, now); ok {
			account, err := h.pool.TryGetByID(ctx, pinned)
			if err == nil {
				return account, nil
			}
			// The pin no longer points at a usable account; fall back to
			// fresh selection and let a success rebind the session.
			h.logger.DebugContext(ctx, "sticky account unusable",
				"session_key", sessionKey,
				"account_id", pinned,
				"error", err,
			)
		}
	}

	var lastErr error
	for _, provider := range chain {
		account, err := h.pool.Select(ctx, provider, model)
		if err == nil {
			return account, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeNoAccountAvailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (h *Handler) handleRateLimited(ctx context.Context, account *models.Account, result *UpstreamResult, sessionKey id.SessionKey) {
	resetAfter := retryAfterWindow(result.Header, requestcontext.Now(ctx))
	if err := h.limiter.MarkRateLimited(ctx, account.ID, resetAfter); err != nil {
		h.logger.WarnContext(ctx, "failed to mark account rate limited",
			"error", err,
			"account_id", account.ID,
		)
	}
	h.logger.InfoContext(ctx, "upstream rate limited account",
		"account_id", account.ID,
		"provider", account.Provider,
		"reset_after", resetAfter,
	)
	h.countRequest(account.Provider.String(), relaymetrics.OutcomeRateLimited)
	h.forgetSession(sessionKey)
}

func (h *Handler) handleAuthFailure(ctx context.Context, account *models.Account, statusCode int, sessionKey id.SessionKey) {
	reason := fmt.Sprintf("upstream auth failure (%d)", statusCode)
	if err := h.limiter.DisableAccount(ctx, account.ID, reason); err != nil {
		h.logger.WarnContext(ctx, "failed to disable account",
			"error", err,
			"account_id", account.ID,
		)
	}
	h.countRequest(account.Provider.String(), relaymetrics.OutcomeAuthFailed)
	h.forgetSession(sessionKey)
}

// finishRelay handles every status the relay does not retry on: quota
// metadata is recorded, the session pinned, the usage trail written, and
// the upstream response forwarded as-is.
func (h *Handler) finishRelay(ctx context.Context, w http.ResponseWriter, account *models.Account, result *UpstreamResult, upstream UpstreamRequest, sessionKey id.SessionKey, start time.Time) {
	h.pool.RecordQuota(ctx, account.ID, quota.Upstream{Headers: result.Header, Body: result.Body})

	success := result.StatusCode < http.StatusBadRequest
	if success && !sessionKey.IsNil() && h.sessions != nil {
		h.sessions.Bind(sessionKey, account.ID, requestcontext.Now(ctx))
	}

	if h.usage != nil {
		inputTokens, outputTokens := usageFromBody(result.Body)
		h.usage.Record(ctx, usagelog.Entry{
			AccountID:    account.ID.String(),
			Provider:     account.Provider.String(),
			Model:        upstream.Model,
			SessionID:    sessionKey.String(),
			UserAgent:    upstream.Header.Get("User-Agent"),
			StatusCode:   result.StatusCode,
			Success:      success,
			LatencyMs:    time.Since(start).Milliseconds(),
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		})
	}

	h.countRequest(account.Provider.String(), relaymetrics.OutcomeRelayed)

	if contentType := result.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write(result.Body); err != nil {
		h.logger.WarnContext(ctx, "failed to write relay response", "error", err)
	}
}

func (h *Handler) forgetSession(sessionKey id.SessionKey) {
	if !sessionKey.IsNil() && h.sessions != nil {
		h.sessions.Forget(sessionKey)
	}
}

func (h *Handler) countRequest(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.IncrementRequest(provider, outcome)
	}
}

func (h *Handler) observeUpstream(provider string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveUpstream(provider, start)
	}
}

// forwardedHeaders keeps the few inbound headers the upstream or the
// usage trail cares about. Client auth headers never pass through.
func forwardedHeaders(inbound http.Header) http.Header {
	out := make(http.Header)
	for _, name := range []string{"Anthropic-Version", "Anthropic-Beta", "Accept", "User-Agent"} {
		if v := inbound.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// retryAfterWindow derives the backoff window from a 429 response. Both
// Retry-After forms are honored; anything unusable falls back to a fixed
// minute so a noisy upstream cannot pin an account forever.
func retryAfterWindow(header http.Header, now time.Time) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return defaultBackoff
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return defaultBackoff
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return defaultBackoff
}

// usageFromBody pulls token counts out of a provider response when
// present. Claude-style bodies carry usage.input_tokens/output_tokens;
// OpenAI-style bodies carry usage.prompt_tokens/completion_tokens.
func usageFromBody(body []byte) (inputTokens, outputTokens int64) {
	var payload struct {
		Usage struct {
			InputTokens      int64 `json:"input_tokens"`
			OutputTokens     int64 `json:"output_tokens"`
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, 0
	}
	inputTokens = payload.Usage.InputTokens
	if inputTokens == 0 {
		inputTokens = payload.Usage.PromptTokens
	}
	outputTokens = payload.Usage.OutputTokens
	if outputTokens == 0 {
		outputTokens = payload.Usage.CompletionTokens
	}
	return inputTokens, outputTokens
}
