package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relaypool/internal/account/models"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
)

const (
	// Redis key prefixes for catalog data
	accountKeyPrefix = "account:"

	// accountNamesKey is a hash mapping account name -> account id. It backs
	// the name uniqueness rule and doubles as a cheap Count source.
	accountNamesKey = "account_names"

	// scanBatchSize bounds how many keys one SCAN iteration requests.
	scanBatchSize = 100

	// watchAttempts bounds optimistic-lock retries when concurrent writers
	// touch the same account between our read and write.
	watchAttempts = 3
)

// accountJSON is the JSON-serializable representation of an Account.
// We use explicit JSON tags to control serialization format.
type accountJSON struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Provider         string            `json:"provider"`
	Credential       string            `json:"credential"`
	Labels           map[string]string `json:"labels,omitempty"`
	Enabled          bool              `json:"enabled"`
	DisabledReason   string            `json:"disabled_reason,omitempty"`
	UsageCount       int64             `json:"usage_count"`
	LastUsedAt       *int64            `json:"last_used_at,omitempty"`       // Unix nano
	RateLimitedUntil *int64            `json:"rate_limited_until,omitempty"` // Unix nano
	CreatedAt        int64             `json:"created_at"`                   // Unix nano
	UpdatedAt        int64             `json:"updated_at"`                   // Unix nano
}

func accountToJSON(a *models.Account) *accountJSON {
	j := &accountJSON{
		ID:             uuid.UUID(a.ID).String(),
		Name:           a.Name,
		Provider:       string(a.Provider),
		Credential:     a.Credential,
		Labels:         a.Labels,
		Enabled:        a.Enabled,
		DisabledReason: a.DisabledReason,
		UsageCount:     a.UsageCount,
		CreatedAt:      a.CreatedAt.UnixNano(),
		UpdatedAt:      a.UpdatedAt.UnixNano(),
	}
	if a.LastUsedAt != nil {
		ts := a.LastUsedAt.UnixNano()
		j.LastUsedAt = &ts
	}
	if a.RateLimitedUntil != nil {
		ts := a.RateLimitedUntil.UnixNano()
		j.RateLimitedUntil = &ts
	}
	return j
}

func accountFromJSON(j *accountJSON) (*models.Account, error) {
	accountID, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse account id: %w", err)
	}

	a := &models.Account{
		ID:             id.AccountID(accountID),
		Name:           j.Name,
		Provider:       models.Provider(j.Provider),
		Credential:     j.Credential,
		Labels:         j.Labels,
		Enabled:        j.Enabled,
		DisabledReason: j.DisabledReason,
		UsageCount:     j.UsageCount,
		CreatedAt:      time.Unix(0, j.CreatedAt),
		UpdatedAt:      time.Unix(0, j.UpdatedAt),
	}
	if j.LastUsedAt != nil {
		t := time.Unix(0, *j.LastUsedAt)
		a.LastUsedAt = &t
	}
	if j.RateLimitedUntil != nil {
		t := time.Unix(0, *j.RateLimitedUntil)
		a.RateLimitedUntil = &t
	}
	return a, nil
}

// RedisAccountStore persists the catalog in Redis.
// This is the production-recommended implementation for distributed
// deployments where multiple relay instances share one account pool.
type RedisAccountStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed account store.
func NewRedis(client *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{client: client}
}

func (s *RedisAccountStore) accountKey(accountID id.AccountID) string {
	return accountKeyPrefix + uuid.UUID(accountID).String()
}

// deserializeAccountCmd extracts and deserializes an account from a Redis
// string command result. Returns nil if the command failed or the data is
// malformed.
func deserializeAccountCmd(cmd *redis.StringCmd) *models.Account {
	data, err := cmd.Result()
	if err != nil {
		return nil
	}
	var j accountJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil
	}
	account, err := accountFromJSON(&j)
	if err != nil {
		return nil
	}
	return account
}

func (s *RedisAccountStore) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}

	data, err := json.Marshal(accountToJSON(account))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal account")
	}

	key := s.accountKey(account.ID)
	idStr := uuid.UUID(account.ID).String()

	// Claim the name first; the hash field is the uniqueness lock.
	claimed, err := s.client.HSetNX(ctx, accountNamesKey, account.Name, idStr).Result()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "claim account name")
	}
	if !claimed {
		return dErrors.New(dErrors.CodeConflict, "account name already taken")
	}

	stored, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		s.client.HDel(ctx, accountNamesKey, account.Name)
		return dErrors.Wrap(err, dErrors.CodeInternal, "create account")
	}
	if !stored {
		s.client.HDel(ctx, accountNamesKey, account.Name)
		return dErrors.New(dErrors.CodeConflict, "account id already exists")
	}
	return nil
}

func (s *RedisAccountStore) FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	data, err := s.client.Get(ctx, s.accountKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find account by id")
	}

	var j accountJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unmarshal account")
	}
	account, err := accountFromJSON(&j)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode account")
	}
	return account, nil
}

// FindByName resolves the name through the uniqueness index instead of
// scanning the keyspace.
func (s *RedisAccountStore) FindByName(ctx context.Context, name string) (*models.Account, error) {
	rawID, err := s.client.HGet(ctx, accountNamesKey, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find account by name")
	}

	accountID, err := id.ParseAccountID(rawID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode account id from name index")
	}
	return s.FindByID(ctx, accountID)
}

func (s *RedisAccountStore) LoadAll(ctx context.Context) ([]*models.Account, error) {
	// Use SCAN to iterate over all account keys.
	accounts := make([]*models.Account, 0)
	var cursor uint64
	pattern := accountKeyPrefix + "*"

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan accounts")
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.Get(ctx, key)
			}
			if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get accounts")
			}

			for _, cmd := range cmds {
				if account := deserializeAccountCmd(cmd); account != nil {
					accounts = append(accounts, account)
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	// SCAN order is arbitrary; callers rely on a stable catalog order.
	sortAccounts(accounts)
	return accounts, nil
}

func (s *RedisAccountStore) Update(ctx context.Context, account *models.Account) error {
	if account == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}

	current, err := s.FindByID(ctx, account.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(accountToJSON(account))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal account")
	}

	idStr := uuid.UUID(account.ID).String()
	if account.Name != current.Name {
		claimed, err := s.client.HSetNX(ctx, accountNamesKey, account.Name, idStr).Result()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "claim account name")
		}
		if !claimed {
			return dErrors.New(dErrors.CodeConflict, "account name already taken")
		}
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.accountKey(account.ID), data, 0)
	if account.Name != current.Name {
		pipe.HDel(ctx, accountNamesKey, current.Name)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update account")
	}
	return nil
}

func (s *RedisAccountStore) Delete(ctx context.Context, accountID id.AccountID) error {
	account, err := s.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.accountKey(accountID))
	pipe.HDel(ctx, accountNamesKey, account.Name)
	if _, err = pipe.Exec(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete account")
	}
	return nil
}

func (s *RedisAccountStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, accountNamesKey).Result()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count accounts")
	}
	return int(n), nil
}

func (s *RedisAccountStore) IncrementUsage(ctx context.Context, accountID id.AccountID, at time.Time) error {
	_, err := s.execute(ctx, accountID, func(a *models.Account) bool {
		a.MarkUsed(at)
		return true
	})
	return err
}

func (s *RedisAccountStore) SetEnabled(ctx context.Context, accountID id.AccountID, enabled bool, reason string, at time.Time) (bool, error) {
	return s.execute(ctx, accountID, func(a *models.Account) bool {
		return a.SetEnabled(enabled, reason, at)
	})
}

func (s *RedisAccountStore) SetRateLimit(ctx context.Context, accountID id.AccountID, until time.Time, at time.Time) (bool, error) {
	return s.execute(ctx, accountID, func(a *models.Account) bool {
		return a.MarkRateLimited(until, at)
	})
}

func (s *RedisAccountStore) ClearRateLimitIfExpired(ctx context.Context, accountID id.AccountID, now time.Time) (bool, error) {
	return s.execute(ctx, accountID, func(a *models.Account) bool {
		return a.ClearRateLimit(now)
	})
}

// execute atomically mutates one account under optimistic lock. The mutate
// callback reports whether it changed anything; unchanged accounts are not
// rewritten. A WATCH conflict from a concurrent writer is retried a few
// times before giving up.
func (s *RedisAccountStore) execute(ctx context.Context, accountID id.AccountID, mutate func(*models.Account) bool) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < watchAttempts; attempt++ {
		changed, err := s.executeOnce(ctx, accountID, mutate)
		if errors.Is(err, redis.TxFailedErr) {
			lastErr = err
			continue
		}
		return changed, err
	}
	return false, dErrors.Wrap(lastErr, dErrors.CodeInternal, "account update kept losing races")
}

func (s *RedisAccountStore) executeOnce(ctx context.Context, accountID id.AccountID, mutate func(*models.Account) bool) (bool, error) {
	key := s.accountKey(accountID)
	var changed bool

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "get account for update")
		}

		var j accountJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "unmarshal account")
		}
		account, err := accountFromJSON(&j)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decode account")
		}

		if !mutate(account) {
			changed = false
			return nil
		}

		newData, err := json.Marshal(accountToJSON(account))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "marshal account")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		if err != nil {
			return err
		}

		changed = true
		return nil
	}, key)

	if err != nil {
		return false, err
	}
	return changed, nil
}
