// Package selection implements quota-aware account selection for the relay
// pool. The engine filters the cached account list, scores each candidate
// from its quota snapshot, usage count, and idle time, and dispatches the
// top-ranked account after reserving it for the calling request.
package selection

import (
	"context"
	"log/slog"
	"time"

	"relaypool/internal/account/cache"
	"relaypool/internal/account/models"
	"relaypool/internal/platform/tracer"
	"relaypool/internal/quota"
	selectionmetrics "relaypool/internal/selection/metrics"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/requestcontext"
)

// Catalog is the slice of the persistent account catalog the engine reads.
// IncrementUsage must be a single atomic update scoped by account id; the
// engine never issues a read-modify-write round trip for usage bookkeeping.
type Catalog interface {
	LoadAll(ctx context.Context) ([]*models.Account, error)
	IncrementUsage(ctx context.Context, accountID id.AccountID, at time.Time) error
}

// Engine orchestrates account selection over the cached list, the snapshot
// store, and the catalog.
type Engine struct {
	catalog   Catalog
	accounts  *cache.ListCache
	snapshots *quota.SnapshotStore
	extractor *quota.Extractor
	logger    *slog.Logger
	metrics   *selectionmetrics.Metrics
	tracer    tracer.Tracer
}

type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *selectionmetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func New(catalog Catalog, accounts *cache.ListCache, snapshots *quota.SnapshotStore, opts ...Option) *Engine {
	e := &Engine{catalog: catalog, accounts: accounts, snapshots: snapshots}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = tracer.NewNoop()
	}
	e.extractor = quota.NewExtractor(e.logger)
	return e
}

// Select picks the best available account for a provider and reserves it
// for the calling request. Candidates are the enabled, non-rate-limited
// accounts of that provider not yet reserved in the request's scope; they
// are ranked by snapshot health, usage fairness, and idle time, and hard
// exhausted candidates are skipped. The returned account is a private copy
// with the usage bump already applied; the shared cache stays untouched.
func (e *Engine) Select(ctx context.Context, provider models.Provider, model string) (*models.Account, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracer.SpanSelect,
		tracer.String(tracer.AttrProvider, provider.String()),
		tracer.String(tracer.AttrModel, model),
	)
	now := requestcontext.Now(ctx)

	accounts, hit, err := e.loadAccounts(ctx)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, hit))
	if err != nil {
		span.End(err)
		e.countSelection(provider.String(), selectionmetrics.OutcomeError)
		return nil, err
	}

	scope := scopeOrTransient(ctx)

	eligible := make([]*candidate, 0, len(accounts))
	ids := make([]id.AccountID, 0, len(accounts))
	for _, a := range accounts {
		if a.Provider != provider || scope.Has(a.ID) || !a.IsAvailable(now) {
			continue
		}
		eligible = append(eligible, &candidate{account: a})
		ids = append(ids, a.ID)
	}

	snaps := e.snapshots.GetMany(ctx, ids)
	for _, c := range eligible {
		c.snap = snaps[c.account.ID]
		c.score = scoreCandidate(c, model, now)
	}
	rankCandidates(eligible)
	span.SetAttributes(tracer.Int64(tracer.AttrCandidates, int64(len(eligible))))

	for _, c := range eligible {
		if c.exhausted(now) {
			continue
		}
		selected := e.dispatch(ctx, span, scope, c.account, now)
		span.End(nil)
		e.countSelection(provider.String(), selectionmetrics.OutcomeSelected)
		e.observeSelection(provider.String(), start)
		return selected, nil
	}

	e.logDebug(ctx, "no account available",
		"provider", provider,
		"eligible", len(eligible),
	)
	err = dErrors.New(dErrors.CodeNoAccountAvailable, "no available account for provider")
	span.End(err)
	e.countSelection(provider.String(), selectionmetrics.OutcomeNone)
	return nil, err
}

// TryGetByID attempts to reuse one specific account, for sticky sessions
// pinned to the account that served them before. The lookup goes straight
// to the cached list and skips the provider filter, but the account must
// still be enabled, not rate limited, unreserved, and not exhausted.
// Callers fall back to Select on any error.
func (e *Engine) TryGetByID(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracer.SpanStickyGet,
		tracer.String(tracer.AttrAccountID, accountID.String()),
	)
	now := requestcontext.Now(ctx)

	accounts, hit, err := e.loadAccounts(ctx)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, hit))
	if err != nil {
		span.End(err)
		return nil, err
	}

	var found *models.Account
	for _, a := range accounts {
		if a.ID == accountID {
			found = a
			break
		}
	}
	if found == nil {
		e.logWarn(ctx, "sticky account not in catalog", "account_id", accountID)
		err = dErrors.New(dErrors.CodeNotFound, "account not found")
		span.End(err)
		e.countSelection("unknown", selectionmetrics.OutcomeStickyMiss)
		return nil, err
	}
	providerLabel := found.Provider.String()

	scope := scopeOrTransient(ctx)
	if err := stickyUsable(found, e.snapshots.Get(ctx, accountID), scope, now); err != nil {
		span.End(err)
		e.countSelection(providerLabel, selectionmetrics.OutcomeStickyMiss)
		return nil, err
	}

	selected := e.dispatch(ctx, span, scope, found, now)
	span.End(nil)
	e.countSelection(providerLabel, selectionmetrics.OutcomeStickyHit)
	e.observeSelection(providerLabel, start)
	return selected, nil
}

// stickyUsable checks the reuse conditions for a pinned account against
// the current time and the request's reservation scope.
func stickyUsable(a *models.Account, snap quota.Snapshot, scope *Scope, now time.Time) error {
	if !a.Enabled {
		return dErrors.New(dErrors.CodeAccountUnavailable, "account is disabled")
	}
	if a.IsRateLimited(now) {
		return dErrors.New(dErrors.CodeAccountUnavailable, "account is rate limited")
	}
	if scope.Has(a.ID) {
		return dErrors.New(dErrors.CodeAccountUnavailable, "account already in flight for this request")
	}
	if snap != nil && !snap.Expired(now) && snap.Exhausted() {
		return dErrors.New(dErrors.CodeAccountUnavailable, "account quota exhausted")
	}
	return nil
}

// dispatch reserves the winner in the request scope, records the usage
// bump in the catalog, and returns a private copy reflecting the bump.
func (e *Engine) dispatch(ctx context.Context, span tracer.Span, scope *Scope, winner *models.Account, now time.Time) *models.Account {
	if !scope.Reserve(winner.ID) {
		// A parallel selection in this request landed on the same account
		// first. Both dispatches proceed; the race is tolerated, not retried.
		e.logDebug(ctx, "account already reserved in this request", "account_id", winner.ID)
	}
	span.AddEvent(tracer.EventAccountReserved, tracer.String(tracer.AttrAccountID, winner.ID.String()))

	if err := e.catalog.IncrementUsage(ctx, winner.ID, now); err != nil {
		// The selection is already committed; the request goes out and the
		// usage count stays one tick behind until the next successful bump.
		e.logWarn(ctx, "failed to record account usage",
			"account_id", winner.ID,
			"error", err,
		)
		span.AddEvent(tracer.EventUsageBumpFailed)
	}

	selected := winner.Clone()
	selected.MarkUsed(now)
	return selected
}

// RecordQuota folds a provider response's rate limit metadata into the
// snapshot store. Malformed or missing metadata is logged and dropped;
// quota tracking degrades to "no data" rather than failing the relay.
func (e *Engine) RecordQuota(ctx context.Context, accountID id.AccountID, meta quota.Upstream) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanRecordQuota,
		tracer.String(tracer.AttrAccountID, accountID.String()),
	)
	now := requestcontext.Now(ctx)

	account := e.findCached(ctx, accountID)
	if account == nil {
		e.logWarn(ctx, "quota metadata for unknown account dropped", "account_id", accountID)
		span.SetAttributes(tracer.String(tracer.AttrOutcome, "unknown_account"))
		span.End(nil)
		return
	}

	snap, ok := e.extractor.Extract(account.Provider, meta, now)
	if !ok {
		e.incrementExtraction(account.Provider.String(), selectionmetrics.OutcomeNoData)
		span.SetAttributes(tracer.String(tracer.AttrOutcome, "no_data"))
		span.End(nil)
		return
	}

	e.snapshots.Set(ctx, accountID, snap)
	e.incrementExtraction(account.Provider.String(), selectionmetrics.OutcomeExtracted)
	e.setSnapshotCount()
	span.SetAttributes(
		tracer.String(tracer.AttrOutcome, "extracted"),
		tracer.String(tracer.AttrShape, string(snap.Shape())),
		tracer.Float64("quota.health", snap.Health("")),
	)
	span.End(nil)
}

// GetQuotaStatus projects the stored snapshot for one account into a
// shape-independent view for dashboards and the management API. The second
// return is false when no snapshot has been recorded.
func (e *Engine) GetQuotaStatus(ctx context.Context, accountID id.AccountID) (quota.Status, bool) {
	snap := e.snapshots.Get(ctx, accountID)
	return quota.BuildStatus(snap, requestcontext.Now(ctx))
}

// InvalidateAccountList drops the cached list. The next selection reloads
// fresh rows from the catalog.
func (e *Engine) InvalidateAccountList() {
	e.accounts.Clear()
}

// InvalidateQuota drops the stored snapshot for one account, typically
// after the account was deleted or its credential replaced.
func (e *Engine) InvalidateQuota(ctx context.Context, accountID id.AccountID) {
	e.snapshots.Clear(ctx, accountID)
	e.setSnapshotCount()
}

// loadAccounts returns the cached account list, reloading from the catalog
// on a cold slot. Concurrent reloads may race; each loads the same fresh
// state and the slot converges on the last writer.
func (e *Engine) loadAccounts(ctx context.Context) ([]*models.Account, bool, error) {
	if accounts, ok := e.accounts.Get(); ok {
		return accounts, true, nil
	}

	accounts, err := e.catalog.LoadAll(ctx)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account list")
	}
	e.accounts.Set(accounts)
	e.incrementCacheReload()
	return accounts, false, nil
}

// findCached looks one account up in the cached list, reloading if needed.
// Returns nil when the account does not exist or the catalog is unreachable.
func (e *Engine) findCached(ctx context.Context, accountID id.AccountID) *models.Account {
	accounts, _, err := e.loadAccounts(ctx)
	if err != nil {
		e.logWarn(ctx, "failed to load account list", "error", err)
		return nil
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return a
		}
	}
	return nil
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.WarnContext(ctx, msg, args...)
	}
}

func (e *Engine) logDebug(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.DebugContext(ctx, msg, args...)
	}
}

func (e *Engine) countSelection(provider, outcome string) {
	if e.metrics != nil {
		e.metrics.IncrementSelection(provider, outcome)
	}
}

func (e *Engine) observeSelection(provider string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveSelection(provider, start)
	}
}

func (e *Engine) incrementExtraction(provider, outcome string) {
	if e.metrics != nil {
		e.metrics.IncrementExtraction(provider, outcome)
	}
}

func (e *Engine) setSnapshotCount() {
	if e.metrics != nil {
		e.metrics.SetSnapshotCount(e.snapshots.Len())
	}
}

func (e *Engine) incrementCacheReload() {
	if e.metrics != nil {
		e.metrics.IncrementCacheReload()
	}
}
