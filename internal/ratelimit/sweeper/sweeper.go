package sweeper

import (
	"context"
	"log/slog"
	"time"

	"relaypool/internal/account/models"
	ratelimitmetrics "relaypool/internal/ratelimit/metrics"
	id "relaypool/pkg/domain"
	"relaypool/pkg/requestcontext"
)

// SweepResult contains the results of one sweep run.
type SweepResult struct {
	Expired  int           // accounts whose rate limit window had passed
	Cleared  int           // flags actually lifted
	Failed   int           // clear attempts that errored
	Duration time.Duration // time taken for the run
}

type AccountLister interface {
	LoadAll(ctx context.Context) ([]*models.Account, error)
}

type RateLimitClearer interface {
	ClearExpiredRateLimit(ctx context.Context, accountID id.AccountID) (bool, error)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *ratelimitmetrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// Sweeper periodically lifts rate limit flags whose windows have passed.
// Selection already ignores expired flags on its own; the sweep keeps the
// catalog rows and dashboards from accumulating stale state.
type Sweeper struct {
	accounts AccountLister
	clearer  RateLimitClearer
	logger   *slog.Logger
	interval time.Duration
	metrics  *ratelimitmetrics.Metrics
}

func New(accounts AccountLister, clearer RateLimitClearer, opts ...Option) *Sweeper {
	s := &Sweeper{
		accounts: accounts,
		clearer:  clearer,
		logger:   slog.Default(),
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			res, err := s.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Error("rate_limit_sweep_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				if s.metrics != nil {
					s.metrics.IncrementSweepRuns("error")
					s.metrics.ObserveSweepDuration(duration.Seconds())
				}
				continue
			}

			res.Duration = duration
			if res.Expired > 0 {
				s.logger.Info("rate_limit_sweep_completed",
					"expired", res.Expired,
					"cleared", res.Cleared,
					"failed", res.Failed,
					"duration_ms", duration.Milliseconds(),
				)
			}
			if s.metrics != nil {
				s.metrics.IncrementSweepRuns("success")
				s.metrics.ObserveSweepDuration(duration.Seconds())
				s.metrics.AddSweepClearFailures(res.Failed)
			}

		case <-ctx.Done():
			s.logger.Info("rate limit sweeper stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Per-account clear failures are counted
// and skipped rather than aborting the pass; only a failed catalog read is
// an error.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	accounts, err := s.accounts.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	res := &SweepResult{}
	for _, account := range accounts {
		if account.RateLimitedUntil == nil || account.RateLimitedUntil.After(now) {
			continue
		}
		res.Expired++

		cleared, err := s.clearer.ClearExpiredRateLimit(ctx, account.ID)
		if err != nil {
			res.Failed++
			s.logger.WarnContext(ctx, "failed to clear expired rate limit",
				"account_id", account.ID.String(),
				"error", err,
			)
			continue
		}
		if cleared {
			res.Cleared++
		}
	}
	return res, nil
}
