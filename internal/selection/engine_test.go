package selection

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"relaypool/internal/account/cache"
	"relaypool/internal/account/models"
	"relaypool/internal/quota"
	"relaypool/internal/selection/mocks"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/requestcontext"
	"relaypool/pkg/testutil"
)

type EngineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	catalog   *mocks.MockCatalog
	cache     *cache.ListCache
	snapshots *quota.SnapshotStore
	engine    *Engine
	now       time.Time
	ctx       context.Context
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.catalog = mocks.NewMockCatalog(s.ctrl)
	s.cache = cache.New()
	s.snapshots = quota.NewSnapshotStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.engine = New(s.catalog, s.cache, s.snapshots, WithLogger(logger))
	s.now = testutil.TestClock
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

// seedCache pre-warms the list cache so tests control exactly when the
// catalog is consulted.
func (s *EngineSuite) seedCache(accounts ...*models.Account) {
	s.cache.Set(accounts)
}

func (s *EngineSuite) expectBump(accountID id.AccountID) *gomock.Call {
	return s.catalog.EXPECT().
		IncrementUsage(gomock.Any(), accountID, gomock.Any()).
		Return(nil)
}

func (s *EngineSuite) claudeAccount(accountID id.AccountID) *models.Account {
	return testutil.NewTestAccount(accountID, models.ProviderClaude)
}

func (s *EngineSuite) TestSelect_PicksHealthiestCandidate() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	b := s.claudeAccount(testutil.TestIDs.AccountID2)
	s.seedCache(a, b)
	s.snapshots.Set(s.ctx, a.ID, testutil.PercentageSnapshot(10, 5))
	s.snapshots.Set(s.ctx, b.ID, testutil.PercentageSnapshot(90, 40))
	s.expectBump(a.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "claude-sonnet")
	s.Require().NoError(err)
	s.Equal(a.ID, selected.ID)
}

func (s *EngineSuite) TestSelect_ReturnsPrivateCopyWithUsageApplied() {
	a := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID1).
		WithProvider(models.ProviderClaude).
		WithUsageCount(5).
		Build()
	s.seedCache(a)
	s.expectBump(a.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.NotSame(a, selected)
	s.Equal(int64(6), selected.UsageCount)
	s.Require().NotNil(selected.LastUsedAt)
	s.True(selected.LastUsedAt.Equal(s.now))

	// The shared cached entry stays as loaded; fresh counters arrive with
	// the next reload, not by mutating the slot in place.
	s.Equal(int64(5), a.UsageCount)
	s.Nil(a.LastUsedAt)
}

func (s *EngineSuite) TestSelect_NeverReturnsExhaustedEvenWhenRankedFirst() {
	exhausted := s.claudeAccount(testutil.TestIDs.AccountID1)
	nearlyDrained := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID2).
		WithProvider(models.ProviderClaude).
		WithUsage(100_000, s.now).
		Build()
	s.seedCache(exhausted, nearlyDrained)

	// The exhausted account scores ~20 on fairness and recency alone; the
	// nearly drained one scores almost zero. Rank order must not matter.
	s.snapshots.Set(s.ctx, exhausted.ID, testutil.PercentageSnapshot(100, 10))
	s.snapshots.Set(s.ctx, nearlyDrained.ID, testutil.PercentageSnapshot(99.9, 99.9))
	s.expectBump(nearlyDrained.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(nearlyDrained.ID, selected.ID)
}

func (s *EngineSuite) TestSelect_AllCandidatesExhausted() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	b := s.claudeAccount(testutil.TestIDs.AccountID2)
	s.seedCache(a, b)
	s.snapshots.Set(s.ctx, a.ID, testutil.PercentageSnapshot(100, 50))
	s.snapshots.Set(s.ctx, b.ID, testutil.TokenSnapshot(1000, 0))

	_, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNoAccountAvailable))
}

func (s *EngineSuite) TestSelect_FiltersIneligibleAccounts() {
	good := s.claudeAccount(testutil.TestIDs.AccountID1)
	disabled := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID2).
		WithProvider(models.ProviderClaude).
		Disabled("credential revoked").
		Build()
	limited := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID3).
		WithProvider(models.ProviderClaude).
		RateLimitedUntil(s.now.Add(10 * time.Minute)).
		Build()
	otherProvider := testutil.NewTestAccount(
		id.AccountID(uuid.MustParse("44444444-4444-4444-8444-444444444444")),
		models.ProviderGemini,
	)
	s.seedCache(good, disabled, limited, otherProvider)
	s.expectBump(good.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(good.ID, selected.ID)
}

func (s *EngineSuite) TestSelect_NoCandidatesForProvider() {
	s.seedCache(testutil.NewTestAccount(testutil.TestIDs.AccountID1, models.ProviderGemini))

	_, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNoAccountAvailable))
}

func (s *EngineSuite) TestSelect_ExpiredRateLimitIsAvailableAgain() {
	recovered := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID1).
		WithProvider(models.ProviderClaude).
		RateLimitedUntil(s.now.Add(-time.Second)).
		Build()
	s.seedCache(recovered)
	s.expectBump(recovered.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(recovered.ID, selected.ID)
}

func (s *EngineSuite) TestSelect_ExpiredSnapshotDoesNotExhaust() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	// The last reading said fully exhausted, but its reset has passed.
	s.snapshots.Set(s.ctx, a.ID, testutil.ExpiredSnapshot(100))
	s.expectBump(a.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(a.ID, selected.ID)
}

func (s *EngineSuite) TestSelect_ReservationExcludesWithinOneRequest() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	b := s.claudeAccount(testutil.TestIDs.AccountID2)
	s.seedCache(a, b)
	s.expectBump(a.ID).Times(2)
	s.expectBump(b.ID)

	ctx, scope := WithScope(s.ctx)

	first, err := s.engine.Select(ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(a.ID, first.ID)

	second, err := s.engine.Select(ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(b.ID, second.ID)

	_, err = s.engine.Select(ctx, models.ProviderClaude, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNoAccountAvailable))

	// Releasing the request's reservations makes the pool whole again.
	scope.ReleaseAll()
	third, err := s.engine.Select(ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(a.ID, third.ID)
}

func (s *EngineSuite) TestSelect_ReservationsAreScopedPerRequest() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	s.expectBump(a.ID).Times(2)

	ctx1, _ := WithScope(s.ctx)
	ctx2, _ := WithScope(s.ctx)

	first, err := s.engine.Select(ctx1, models.ProviderClaude, "")
	s.Require().NoError(err)
	second, err := s.engine.Select(ctx2, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
}

func (s *EngineSuite) TestSelect_WithoutScopeReservationsAreTransient() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	s.expectBump(a.ID).Times(2)

	_, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	_, err = s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
}

func (s *EngineSuite) TestSelect_CacheLifecycle() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.catalog.EXPECT().LoadAll(gomock.Any()).Return([]*models.Account{a}, nil)
	s.expectBump(a.ID).Times(3)

	// Cold slot: first selection loads from the catalog.
	_, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)

	// Warm slot: no further catalog reads.
	_, err = s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)

	// Invalidation forces the next selection to reload.
	s.engine.InvalidateAccountList()
	s.catalog.EXPECT().LoadAll(gomock.Any()).Return([]*models.Account{a}, nil)
	_, err = s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
}

func (s *EngineSuite) TestSelect_CatalogLoadFailure() {
	s.catalog.EXPECT().LoadAll(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *EngineSuite) TestSelect_UsageBumpFailureStillDispatches() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	s.catalog.EXPECT().
		IncrementUsage(gomock.Any(), a.ID, gomock.Any()).
		Return(errors.New("deadlock detected"))

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(a.ID, selected.ID)
	s.Equal(int64(1), selected.UsageCount)
}

func (s *EngineSuite) TestSelect_ConcurrentRequestsShareThePool() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	b := s.claudeAccount(testutil.TestIDs.AccountID2)
	s.seedCache(a, b)
	s.catalog.EXPECT().
		IncrementUsage(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		Times(16)

	result := testutil.RunConcurrent(16, func(int) error {
		ctx, scope := WithScope(s.ctx)
		defer scope.ReleaseAll()
		_, err := s.engine.Select(ctx, models.ProviderClaude, "")
		return err
	})
	s.Equal(int32(16), result.Successes)
}

func (s *EngineSuite) TestTryGetByID_Hit() {
	a := testutil.NewAccountBuilder().
		WithID(testutil.TestIDs.AccountID1).
		WithProvider(models.ProviderClaude).
		WithUsageCount(7).
		Build()
	s.seedCache(a)
	s.expectBump(a.ID)

	selected, err := s.engine.TryGetByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(a.ID, selected.ID)
	s.Equal(int64(8), selected.UsageCount, "usage counter moves by exactly one")
}

func (s *EngineSuite) TestTryGetByID_UnknownAccount() {
	s.seedCache(s.claudeAccount(testutil.TestIDs.AccountID1))

	_, err := s.engine.TryGetByID(s.ctx, testutil.TestIDs.AccountID2)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestTryGetByID_UnusableAccount() {
	s.Run("disabled", func() {
		disabled := testutil.NewAccountBuilder().
			WithID(testutil.TestIDs.AccountID1).
			Disabled("manual hold").
			Build()
		s.seedCache(disabled)

		_, err := s.engine.TryGetByID(s.ctx, disabled.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAccountUnavailable))
	})

	s.Run("rate limited", func() {
		limited := testutil.NewAccountBuilder().
			WithID(testutil.TestIDs.AccountID1).
			RateLimitedUntil(s.now.Add(time.Minute)).
			Build()
		s.seedCache(limited)

		_, err := s.engine.TryGetByID(s.ctx, limited.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAccountUnavailable))
	})

	s.Run("exhausted snapshot", func() {
		a := s.claudeAccount(testutil.TestIDs.AccountID1)
		s.seedCache(a)
		s.snapshots.Set(s.ctx, a.ID, testutil.TokenSnapshot(1000, 0))

		_, err := s.engine.TryGetByID(s.ctx, a.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAccountUnavailable))
	})

	s.Run("already reserved in this request", func() {
		a := s.claudeAccount(testutil.TestIDs.AccountID1)
		s.seedCache(a)
		ctx, scope := WithScope(s.ctx)
		scope.Reserve(a.ID)

		_, err := s.engine.TryGetByID(ctx, a.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAccountUnavailable))
	})
}

func (s *EngineSuite) TestTryGetByID_ExpiredExhaustionIgnored() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	s.snapshots.Set(s.ctx, a.ID, testutil.ExpiredSnapshot(100))
	s.expectBump(a.ID)

	selected, err := s.engine.TryGetByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(a.ID, selected.ID)
}

func (s *EngineSuite) TestTryGetByID_CrossesProviderBoundaries() {
	// Sticky reuse pins an account id, not a provider. The id wins even
	// when a later request names a different model family.
	gemini := testutil.NewTestAccount(testutil.TestIDs.AccountID1, models.ProviderGemini)
	s.seedCache(gemini)
	s.expectBump(gemini.ID)

	selected, err := s.engine.TryGetByID(s.ctx, gemini.ID)
	s.Require().NoError(err)
	s.Equal(models.ProviderGemini, selected.Provider)
}

func (s *EngineSuite) TestRecordQuota_RoundTrip() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)

	body := []byte(`{
		"five_hour": {"utilization": 42.5, "resets_at": "2026-03-01T17:00:00Z"},
		"seven_day": {"utilization": 12.0, "resets_at": "2026-03-08T12:00:00Z"}
	}`)
	s.engine.RecordQuota(s.ctx, a.ID, quota.Upstream{Body: body})

	status, ok := s.engine.GetQuotaStatus(s.ctx, a.ID)
	s.Require().True(ok)
	s.Equal(quota.ShapePercentageWindow, status.Shape)
	s.Require().NotNil(status.PrimaryUsedPct)
	s.InDelta(42.5, *status.PrimaryUsedPct, 0.001)
	s.False(status.Exhausted)
}

func (s *EngineSuite) TestRecordQuota_UnknownAccountDropped() {
	s.seedCache(s.claudeAccount(testutil.TestIDs.AccountID1))

	s.engine.RecordQuota(s.ctx, testutil.TestIDs.AccountID2, quota.Upstream{
		Body: []byte(`{"five_hour": {"utilization": 10}}`),
	})

	_, ok := s.engine.GetQuotaStatus(s.ctx, testutil.TestIDs.AccountID2)
	s.False(ok)
}

func (s *EngineSuite) TestRecordQuota_MalformedMetadataDropped() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)

	s.engine.RecordQuota(s.ctx, a.ID, quota.Upstream{Body: []byte(`{nonsense`)})

	_, ok := s.engine.GetQuotaStatus(s.ctx, a.ID)
	s.False(ok)
}

func (s *EngineSuite) TestRecordQuota_FeedsSubsequentSelection() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	b := s.claudeAccount(testutil.TestIDs.AccountID2)
	s.seedCache(a, b)

	// A's upstream reported near-exhaustion; B looked fresh.
	s.engine.RecordQuota(s.ctx, a.ID, quota.Upstream{
		Body: []byte(`{"five_hour": {"utilization": 97.0, "resets_at": "2026-03-01T17:00:00Z"}}`),
	})
	s.engine.RecordQuota(s.ctx, b.ID, quota.Upstream{
		Body: []byte(`{"five_hour": {"utilization": 3.0, "resets_at": "2026-03-01T17:00:00Z"}}`),
	})
	s.expectBump(b.ID)

	selected, err := s.engine.Select(s.ctx, models.ProviderClaude, "")
	s.Require().NoError(err)
	s.Equal(b.ID, selected.ID)
}

func (s *EngineSuite) TestInvalidateQuota() {
	a := s.claudeAccount(testutil.TestIDs.AccountID1)
	s.seedCache(a)
	s.snapshots.Set(s.ctx, a.ID, testutil.PercentageSnapshot(50, 25))

	_, ok := s.engine.GetQuotaStatus(s.ctx, a.ID)
	s.Require().True(ok)

	s.engine.InvalidateQuota(s.ctx, a.ID)

	_, ok = s.engine.GetQuotaStatus(s.ctx, a.ID)
	s.False(ok)
}

func (s *EngineSuite) TestGetQuotaStatus_NoSnapshot() {
	_, ok := s.engine.GetQuotaStatus(s.ctx, testutil.TestIDs.AccountID1)
	s.False(ok)
}
