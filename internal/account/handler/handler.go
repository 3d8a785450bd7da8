package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypool/internal/account/models"
	"relaypool/internal/account/service"
	"relaypool/internal/quota"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/httputil"
	"relaypool/pkg/requestcontext"
)

// AccountService defines the catalog operations the management API exposes.
// Returns domain objects, not HTTP response DTOs.
type AccountService interface {
	CreateAccount(ctx context.Context, cmd service.CreateAccountCommand) (*models.Account, error)
	GetAccount(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	SetAccountEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string) (*models.Account, bool, error)
	DeleteAccount(ctx context.Context, accountID id.AccountID) error
}

// RateLimiter applies and lifts rate limit windows.
type RateLimiter interface {
	MarkRateLimited(ctx context.Context, accountID id.AccountID, resetAfter time.Duration) error
	ClearExpiredRateLimit(ctx context.Context, accountID id.AccountID) (bool, error)
}

// QuotaReader projects the latest quota snapshot for dashboards.
type QuotaReader interface {
	GetQuotaStatus(ctx context.Context, accountID id.AccountID) (quota.Status, bool)
}

// CacheInvalidator drops derived selection state on operator request.
type CacheInvalidator interface {
	InvalidateAccountList()
	InvalidateQuota(ctx context.Context, accountID id.AccountID)
}

type Handler struct {
	service     AccountService
	limiter     RateLimiter
	quotas      QuotaReader
	invalidator CacheInvalidator
	logger      *slog.Logger
}

func New(service AccountService, limiter RateLimiter, quotas QuotaReader, invalidator CacheInvalidator, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		limiter:     limiter,
		quotas:      quotas,
		invalidator: invalidator,
		logger:      logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/accounts", h.HandleCreateAccount)
	r.Get("/admin/accounts", h.HandleListAccounts)
	r.Get("/admin/accounts/{id}", h.HandleGetAccount)
	r.Delete("/admin/accounts/{id}", h.HandleDeleteAccount)
	r.Post("/admin/accounts/{id}/enable", h.HandleEnableAccount)
	r.Post("/admin/accounts/{id}/disable", h.HandleDisableAccount)
	r.Get("/admin/accounts/{id}/quota", h.HandleGetQuota)
	r.Post("/admin/accounts/{id}/rate-limit", h.HandleMarkRateLimited)
	r.Delete("/admin/accounts/{id}/rate-limit", h.HandleClearRateLimit)
	r.Post("/admin/cache/invalidate", h.HandleInvalidateCache)
	r.Get("/admin/pool/status", h.HandlePoolStatus)
}

// HandleCreateAccount registers a new upstream account.
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.service.CreateAccount(ctx, req.ToCommand())
	if err != nil {
		h.logger.ErrorContext(ctx, "create account failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toAccountView(account))
}

// HandleListAccounts returns every account in stable creation order.
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	accounts, err := h.service.ListAccounts(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list accounts failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toAccountViews(accounts))
}

func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toAccountView(account))
}

func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(ctx, accountID); err != nil {
		h.logger.ErrorContext(ctx, "delete account failed", "error", err, "request_id", requestID, "account_id", accountID)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleEnableAccount puts an account back into rotation. Takes no body.
func (h *Handler) HandleEnableAccount(w http.ResponseWriter, r *http.Request) {
	h.toggleAccount(w, r, true, "")
}

// HandleDisableAccount pulls an account out of rotation. The body is
// optional; a reason, when present, is kept on the account.
func (h *Handler) HandleDisableAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reason := ""
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[DisableAccountRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		reason = req.Reason
	}

	h.toggleAccount(w, r, false, reason)
}

func (h *Handler) toggleAccount(w http.ResponseWriter, r *http.Request, enabled bool, reason string) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	account, changed, err := h.service.SetAccountEnabled(ctx, accountID, enabled, reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "toggle account failed", "error", err, "request_id", requestID, "account_id", accountID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toToggleResponse(account, changed))
}

// HandleGetQuota returns the latest quota snapshot projection, or 404 when
// the account has never reported one.
func (h *Handler) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	if _, err := h.service.GetAccount(ctx, accountID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, ok := h.quotas.GetQuotaStatus(ctx, accountID)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no quota snapshot recorded"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toQuotaView(accountID, status))
}

// HandleMarkRateLimited flags the account for the requested window.
func (h *Handler) HandleMarkRateLimited(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[RateLimitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	// The supervisor treats unknown accounts as a no-op; operators get a 404.
	if _, err := h.service.GetAccount(ctx, accountID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.limiter.MarkRateLimited(ctx, accountID, time.Duration(req.ResetAfterSeconds)*time.Second); err != nil {
		h.logger.ErrorContext(ctx, "mark rate limit failed", "error", err, "request_id", requestID, "account_id", accountID)
		httputil.WriteError(w, err)
		return
	}

	account, err := h.service.GetAccount(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountView(account))
}

// HandleClearRateLimit lifts the flag when its window has passed.
func (h *Handler) HandleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	accountID, ok := h.accountIDFromPath(w, r)
	if !ok {
		return
	}

	if _, err := h.service.GetAccount(ctx, accountID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	cleared, err := h.limiter.ClearExpiredRateLimit(ctx, accountID)
	if err != nil {
		h.logger.ErrorContext(ctx, "clear rate limit failed", "error", err, "request_id", requestID, "account_id", accountID)
		httputil.WriteError(w, err)
		return
	}

	account, err := h.service.GetAccount(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClearRateLimitResponse(account, cleared))
}

// HandleInvalidateCache drops derived selection state on demand.
func (h *Handler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req := &InvalidateCacheRequest{}
	if r.ContentLength != 0 {
		decoded, ok := httputil.DecodeAndPrepare[InvalidateCacheRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		req = decoded
	}

	if req.AccountID == "" {
		h.invalidator.InvalidateAccountList()
		h.logger.InfoContext(ctx, "account list cache invalidated", "request_id", requestID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	accountID, err := id.ParseAccountID(req.AccountID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return
	}
	h.invalidator.InvalidateQuota(ctx, accountID)
	h.logger.InfoContext(ctx, "quota snapshot invalidated", "request_id", requestID, "account_id", accountID)
	w.WriteHeader(http.StatusNoContent)
}

// HandlePoolStatus assembles the dashboard summary: every account plus the
// quota projection for those that have reported one.
func (h *Handler) HandlePoolStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	accounts, err := h.service.ListAccounts(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "pool status failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toPoolStatus(ctx, accounts, h.quotas, requestcontext.Now(ctx)))
}

func (h *Handler) accountIDFromPath(w http.ResponseWriter, r *http.Request) (id.AccountID, bool) {
	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid account id"))
		return id.AccountID{}, false
	}
	return accountID, true
}
