package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"relaypool/internal/account/models"
	ratelimitmetrics "relaypool/internal/ratelimit/metrics"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/requestcontext"
)

// Store interfaces define persistence contracts.

type AccountStore interface {
	LoadAll(ctx context.Context) ([]*models.Account, error)
	SetRateLimit(ctx context.Context, accountID id.AccountID, until time.Time, at time.Time) (bool, error)
	ClearRateLimitIfExpired(ctx context.Context, accountID id.AccountID, now time.Time) (bool, error)
	SetEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string, at time.Time) (bool, error)
}

type PoolInvalidator interface {
	InvalidateAccountList()
}

// Supervisor applies rate limit and hard-failure feedback from upstream
// responses to the catalog. Every operation is a single conditioned store
// write; targeting an unknown account is a logged no-op, never an error,
// because the account may have been deleted between selection and feedback.
type Supervisor struct {
	accounts    AccountStore
	invalidator PoolInvalidator
	logger      *slog.Logger
	metrics     *ratelimitmetrics.Metrics
}

type Option func(*Supervisor)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInvalidator(invalidator PoolInvalidator) Option {
	return func(s *Supervisor) {
		s.invalidator = invalidator
	}
}

func WithMetrics(m *ratelimitmetrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

func NewSupervisor(accounts AccountStore, opts ...Option) *Supervisor {
	s := &Supervisor{
		accounts: accounts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkRateLimited flags the account as unavailable until now+resetAfter.
// An already flagged account keeps the later of the two deadlines, so
// concurrent feedback never shortens an active window.
func (s *Supervisor) MarkRateLimited(ctx context.Context, accountID id.AccountID, resetAfter time.Duration) error {
	if resetAfter <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "reset window must be positive")
	}
	now := requestcontext.Now(ctx)
	until := now.Add(resetAfter)

	changed, err := s.accounts.SetRateLimit(ctx, accountID, until, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "rate limit mark targets unknown account",
				"account_id", accountID.String(),
			)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark rate limit")
	}

	if changed {
		s.invalidateList()
		s.logger.InfoContext(ctx, "account rate limited",
			"account_id", accountID.String(),
			"until", until,
		)
		if s.metrics != nil {
			s.metrics.IncrementMarked()
		}
	}
	return nil
}

// ClearExpiredRateLimit lifts the flag once its window has passed. The
// returned bool reports whether the account actually changed; callers use
// it to skip needless cache churn.
func (s *Supervisor) ClearExpiredRateLimit(ctx context.Context, accountID id.AccountID) (bool, error) {
	now := requestcontext.Now(ctx)

	changed, err := s.accounts.ClearRateLimitIfExpired(ctx, accountID, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "rate limit clear targets unknown account",
				"account_id", accountID.String(),
			)
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear rate limit")
	}

	if changed {
		s.invalidateList()
		s.logger.InfoContext(ctx, "rate limit cleared", "account_id", accountID.String())
		if s.metrics != nil {
			s.metrics.IncrementCleared()
		}
	}
	return changed, nil
}

// DisableAccount pulls the account out of selection after a hard
// authentication failure, keeping its row and counters for inspection.
func (s *Supervisor) DisableAccount(ctx context.Context, accountID id.AccountID, reason string) error {
	now := requestcontext.Now(ctx)

	changed, err := s.accounts.SetEnabled(ctx, accountID, false, reason, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "disable targets unknown account",
				"account_id", accountID.String(),
			)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to disable account")
	}

	if changed {
		s.invalidateList()
		s.logger.WarnContext(ctx, "account disabled",
			"account_id", accountID.String(),
			"reason", reason,
		)
		if s.metrics != nil {
			s.metrics.IncrementAutoDisabled()
		}
	}
	return nil
}

func (s *Supervisor) invalidateList() {
	if s.invalidator != nil {
		s.invalidator.InvalidateAccountList()
	}
}
