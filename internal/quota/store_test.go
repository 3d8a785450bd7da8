package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"relaypool/internal/quota"
	id "relaypool/pkg/domain"
	"relaypool/pkg/testutil"
)

type SnapshotStoreSuite struct {
	suite.Suite
	store *quota.SnapshotStore
	ctx   context.Context
}

func TestSnapshotStoreSuite(t *testing.T) {
	suite.Run(t, new(SnapshotStoreSuite))
}

func (s *SnapshotStoreSuite) SetupTest() {
	s.store = quota.NewSnapshotStore()
	s.ctx = context.Background()
}

func (s *SnapshotStoreSuite) TestGetAbsent() {
	s.Nil(s.store.Get(s.ctx, id.AccountID(uuid.New())))
}

func (s *SnapshotStoreSuite) TestSetReplacesWholesale() {
	accountID := id.AccountID(uuid.New())
	now := time.Now()

	s.store.Set(s.ctx, accountID, &quota.PercentageWindow{Primary: quota.Window{UsedPercent: 10}, LastUpdatedAt: now})
	first := s.store.Get(s.ctx, accountID)
	s.Equal(quota.ShapePercentageWindow, first.Shape())

	// A new reading of a different shape replaces the old one entirely.
	s.store.Set(s.ctx, accountID, &quota.TokenBudget{TotalLimit: 100, TotalRemaining: 40, LastUpdatedAt: now})
	second := s.store.Get(s.ctx, accountID)
	s.Equal(quota.ShapeTokenBudget, second.Shape())
}

func (s *SnapshotStoreSuite) TestSetNilIgnored() {
	accountID := id.AccountID(uuid.New())
	s.store.Set(s.ctx, accountID, nil)
	s.Nil(s.store.Get(s.ctx, accountID))
	s.Zero(s.store.Len())
}

func (s *SnapshotStoreSuite) TestGetManyOmitsAbsent() {
	withSnap := id.AccountID(uuid.New())
	without := id.AccountID(uuid.New())
	s.store.Set(s.ctx, withSnap, &quota.CreditBreakdown{Unlimited: true, LastUpdatedAt: time.Now()})

	result := s.store.GetMany(s.ctx, []id.AccountID{withSnap, without})
	s.Len(result, 1)
	s.Contains(result, withSnap)
	s.NotContains(result, without)
}

func (s *SnapshotStoreSuite) TestClear() {
	accountID := id.AccountID(uuid.New())
	s.store.Set(s.ctx, accountID, &quota.UnifiedClaim{Status: quota.ClaimAllowed, LastUpdatedAt: time.Now()})
	s.NotNil(s.store.Get(s.ctx, accountID))

	s.store.Clear(s.ctx, accountID)
	s.Nil(s.store.Get(s.ctx, accountID))

	// Clearing an absent id is a no-op.
	s.store.Clear(s.ctx, accountID)
}

func (s *SnapshotStoreSuite) TestExpiredSnapshotStaysUntilCleared() {
	accountID := id.AccountID(uuid.New())
	past := time.Now().Add(-time.Hour)
	s.store.Set(s.ctx, accountID, &quota.PercentageWindow{
		Primary:       quota.Window{UsedPercent: 100, ResetsAt: &past},
		LastUpdatedAt: past,
	})

	// The store never evicts; the reading is still there and the caller
	// decides it is expired.
	snap := s.store.Get(s.ctx, accountID)
	s.Require().NotNil(snap)
	s.True(snap.Expired(time.Now()))
}

func (s *SnapshotStoreSuite) TestConcurrentReadersAndWriters() {
	ids := make([]id.AccountID, 8)
	for i := range ids {
		ids[i] = id.AccountID(uuid.New())
	}

	result := testutil.RunConcurrent(64, func(idx int) error {
		accountID := ids[idx%len(ids)]
		switch idx % 4 {
		case 0:
			s.store.Set(s.ctx, accountID, &quota.TokenBudget{TotalLimit: 100, TotalRemaining: int64(idx), LastUpdatedAt: time.Now()})
		case 1:
			s.store.Get(s.ctx, accountID)
		case 2:
			s.store.GetMany(s.ctx, ids)
		default:
			s.store.Clear(s.ctx, accountID)
		}
		return nil
	})

	s.Equal(int32(64), result.Successes)
}
