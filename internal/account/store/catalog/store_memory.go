// Package catalog persists the account catalog. Three backends share one
// behavioral contract: every usage or rate limit mutation is a single
// conditioned update on one account row, never a read-modify-write round
// trip through the caller.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaypool/internal/account/models"
	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
)

// Error Contract:
// All store methods follow this pattern:
// - Return CodeNotFound when the requested account does not exist
// - Return CodeConflict when a uniqueness rule (id, name) is violated
// - Return nil for successful operations
// - Return wrapped CodeInternal errors for infrastructure failures
// InMemoryAccountStore keeps the catalog in process memory for tests/dev.
type InMemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]*models.Account
}

// New constructs an empty in-memory account store.
func New() *InMemoryAccountStore {
	return &InMemoryAccountStore{accounts: make(map[id.AccountID]*models.Account)}
}

func (s *InMemoryAccountStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "account id already exists")
	}
	for _, existing := range s.accounts {
		if existing.Name == account.Name {
			return dErrors.New(dErrors.CodeConflict, "account name already taken")
		}
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *InMemoryAccountStore) FindByID(_ context.Context, accountID id.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if account, ok := s.accounts[accountID]; ok {
		return account.Clone(), nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
}

func (s *InMemoryAccountStore) FindByName(_ context.Context, name string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.Name == name {
			return account.Clone(), nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
}

// LoadAll returns private copies of every account in stable order, so all
// backends hand the selection engine the same candidate sequence.
func (s *InMemoryAccountStore) LoadAll(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*models.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account.Clone())
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (s *InMemoryAccountStore) Update(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	for _, existing := range s.accounts {
		if existing.ID != account.ID && existing.Name == account.Name {
			return dErrors.New(dErrors.CodeConflict, "account name already taken")
		}
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *InMemoryAccountStore) Delete(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *InMemoryAccountStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.accounts), nil
}

// IncrementUsage applies the post-selection usage bump to a single account.
func (s *InMemoryAccountStore) IncrementUsage(_ context.Context, accountID id.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	account.MarkUsed(at)
	return nil
}

// SetEnabled flips the enabled flag. Returns whether the row changed.
func (s *InMemoryAccountStore) SetEnabled(_ context.Context, accountID id.AccountID, enabled bool, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return account.SetEnabled(enabled, reason, at), nil
}

// SetRateLimit records a rate limit deadline. A deadline earlier than the
// one already on the row leaves it untouched. Returns whether the row
// changed.
func (s *InMemoryAccountStore) SetRateLimit(_ context.Context, accountID id.AccountID, until time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return account.MarkRateLimited(until, at), nil
}

// ClearRateLimitIfExpired clears the deadline only once it has passed.
// Returns whether the row changed.
func (s *InMemoryAccountStore) ClearRateLimitIfExpired(_ context.Context, accountID id.AccountID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return account.ClearRateLimit(now), nil
}

// sortAccounts orders by creation time, then id, for a deterministic
// candidate sequence across backends.
func sortAccounts(accounts []*models.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID.String() < accounts[j].ID.String()
	})
}
