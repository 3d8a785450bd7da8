//go:build integration

package catalog_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"relaypool/internal/account/models"
	"relaypool/internal/account/store/catalog"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/testutil/integration"
)

type RedisAccountStoreSuite struct {
	suite.Suite
	client *redis.Client
	store  *catalog.RedisAccountStore
}

func TestRedisAccountStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisAccountStoreSuite))
}

func (s *RedisAccountStoreSuite) SetupSuite() {
	s.client = integration.Redis(s.T())
	s.store = catalog.NewRedis(s.client)
}

func (s *RedisAccountStoreSuite) SetupTest() {
	// Covers both the per-account keys and the name index hash.
	err := integration.FlushPrefix(context.Background(), s.client, "account")
	s.Require().NoError(err)
}

func (s *RedisAccountStoreSuite) newAccount(name string) *models.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Account{
		ID:         id.AccountID(uuid.New()),
		Name:       name,
		Provider:   models.ProviderGemini,
		Credential: "sk-test-" + uuid.NewString(),
		Labels:     map[string]string{"tier": "ultra"},
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *RedisAccountStoreSuite) TestCreateFindRoundTrip() {
	ctx := context.Background()
	account := s.newAccount("roundtrip-" + uuid.NewString())

	s.Require().NoError(s.store.Create(ctx, account))

	found, err := s.store.FindByID(ctx, account.ID)
	s.Require().NoError(err)
	s.Equal(account.ID, found.ID)
	s.Equal(account.Name, found.Name)
	s.Equal(account.Provider, found.Provider)
	s.Equal(account.Credential, found.Credential)
	s.Equal(account.Labels, found.Labels)
	s.True(found.Enabled)
	s.Nil(found.LastUsedAt)
	s.Nil(found.RateLimitedUntil)
	s.True(found.CreatedAt.Equal(account.CreatedAt))

	byName, err := s.store.FindByName(ctx, account.Name)
	s.Require().NoError(err)
	s.Equal(account.ID, byName.ID)

	_, err = s.store.FindByName(ctx, "absent-"+uuid.NewString())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RedisAccountStoreSuite) TestCreateConflicts() {
	ctx := context.Background()
	account := s.newAccount("conflict-" + uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, account))

	s.Run("duplicate name", func() {
		dup := s.newAccount(account.Name)
		err := s.store.Create(ctx, dup)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		// The failed create must not leave the name claimed by the loser.
		_, err = s.store.FindByID(ctx, dup.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("duplicate id", func() {
		dup := s.newAccount("fresh-name-" + uuid.NewString())
		dup.ID = account.ID
		err := s.store.Create(ctx, dup)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		// The rolled-back name claim stays available for a retry.
		retry := s.newAccount(dup.Name)
		s.NoError(s.store.Create(ctx, retry))
	})
}

func (s *RedisAccountStoreSuite) TestLoadAllScansEveryAccount() {
	ctx := context.Background()

	created := make(map[id.AccountID]string)
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		account := s.newAccount("scan-" + uuid.NewString())
		account.CreatedAt = base.Add(time.Duration(i) * time.Second)
		s.Require().NoError(s.store.Create(ctx, account))
		created[account.ID] = account.Name
	}

	accounts, err := s.store.LoadAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(accounts, len(created))

	for i, account := range accounts {
		s.Equal(created[account.ID], account.Name)
		if i > 0 {
			s.False(account.CreatedAt.Before(accounts[i-1].CreatedAt), "catalog order must be stable by creation time")
		}
	}
}

func (s *RedisAccountStoreSuite) TestUpdateRename() {
	ctx := context.Background()
	account := s.newAccount("rename-from-" + uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, account))

	oldName := account.Name
	account.Name = "rename-to-" + uuid.NewString()
	s.Require().NoError(s.store.Update(ctx, account))

	found, err := s.store.FindByID(ctx, account.ID)
	s.Require().NoError(err)
	s.Equal(account.Name, found.Name)

	// The old name is released and reusable.
	reuse := s.newAccount(oldName)
	s.NoError(s.store.Create(ctx, reuse))

	// The new name is claimed.
	clash := s.newAccount(account.Name)
	s.True(dErrors.HasCode(s.store.Create(ctx, clash), dErrors.CodeConflict))
}

func (s *RedisAccountStoreSuite) TestDeleteReleasesName() {
	ctx := context.Background()
	account := s.newAccount("delete-" + uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, account))

	s.Require().NoError(s.store.Delete(ctx, account.ID))

	_, err := s.store.FindByID(ctx, account.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	reuse := s.newAccount(account.Name)
	s.NoError(s.store.Create(ctx, reuse))
}

// TestConcurrentIncrements verifies the optimistic-lock bump path: every
// call that reports success must land exactly one increment, even when
// writers collide on the same account.
func (s *RedisAccountStoreSuite) TestConcurrentIncrements() {
	ctx := context.Background()
	account := s.newAccount("concurrent-" + uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, account))

	const goroutines = 50
	var wg sync.WaitGroup
	var successes atomic.Int64

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.IncrementUsage(ctx, account.ID, time.Now().UTC()); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Positive(successes.Load())

	found, err := s.store.FindByID(ctx, account.ID)
	s.Require().NoError(err)
	s.Equal(successes.Load(), found.UsageCount, "every acknowledged bump must be persisted exactly once")
}

func (s *RedisAccountStoreSuite) TestRateLimitWindowSemantics() {
	ctx := context.Background()
	account := s.newAccount("ratelimit-" + uuid.NewString())
	s.Require().NoError(s.store.Create(ctx, account))

	now := time.Now().UTC().Truncate(time.Microsecond)
	far := now.Add(10 * time.Minute)

	changed, err := s.store.SetRateLimit(ctx, account.ID, far, now)
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.store.SetRateLimit(ctx, account.ID, now.Add(time.Minute), now)
	s.Require().NoError(err)
	s.False(changed, "an earlier deadline must not shorten the window")

	changed, err = s.store.ClearRateLimitIfExpired(ctx, account.ID, now)
	s.Require().NoError(err)
	s.False(changed)

	changed, err = s.store.ClearRateLimitIfExpired(ctx, account.ID, far)
	s.Require().NoError(err)
	s.True(changed)

	found, err := s.store.FindByID(ctx, account.ID)
	s.Require().NoError(err)
	s.Nil(found.RateLimitedUntil)
}

func (s *RedisAccountStoreSuite) TestMutationsOnMissingAccount() {
	ctx := context.Background()
	ghost := id.AccountID(uuid.New())
	now := time.Now().UTC()

	err := s.store.IncrementUsage(ctx, ghost, now)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.store.SetEnabled(ctx, ghost, false, "x", now)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.store.SetRateLimit(ctx, ghost, now.Add(time.Minute), now)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RedisAccountStoreSuite) TestCount() {
	ctx := context.Background()

	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.Require().NoError(s.store.Create(ctx, s.newAccount("count-a-"+uuid.NewString())))
	s.Require().NoError(s.store.Create(ctx, s.newAccount("count-b-"+uuid.NewString())))

	n, err = s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}
