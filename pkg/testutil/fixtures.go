package testutil

import (
	"time"

	"github.com/google/uuid"

	"relaypool/internal/account/models"
	"relaypool/internal/quota"
	id "relaypool/pkg/domain"
)

// TestIDs provides convenient pre-generated IDs for tests.
// Use these for deterministic test data.
var TestIDs = struct {
	AccountID1 id.AccountID
	AccountID2 id.AccountID
	AccountID3 id.AccountID
}{
	AccountID1: id.AccountID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	AccountID2: id.AccountID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	AccountID3: id.AccountID(uuid.MustParse("33333333-3333-3333-3333-333333333333")),
}

// TestClock is the frozen reference time used across fixtures so score and
// expiry assertions stay deterministic.
var TestClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// AccountBuilder provides a fluent interface for building test accounts.
type AccountBuilder struct {
	account *models.Account
}

// NewAccountBuilder creates a new AccountBuilder with sensible defaults:
// an enabled, never-used claude account.
func NewAccountBuilder() *AccountBuilder {
	return &AccountBuilder{
		account: &models.Account{
			ID:         id.AccountID(uuid.New()),
			Name:       "test-account",
			Provider:   models.ProviderClaude,
			Credential: "sk-test-credential",
			Enabled:    true,
			CreatedAt:  TestClock,
			UpdatedAt:  TestClock,
		},
	}
}

func (b *AccountBuilder) WithID(accountID id.AccountID) *AccountBuilder {
	b.account.ID = accountID
	return b
}

func (b *AccountBuilder) WithName(name string) *AccountBuilder {
	b.account.Name = name
	return b
}

func (b *AccountBuilder) WithProvider(provider models.Provider) *AccountBuilder {
	b.account.Provider = provider
	return b
}

func (b *AccountBuilder) WithCredential(credential string) *AccountBuilder {
	b.account.Credential = credential
	return b
}

func (b *AccountBuilder) WithLabels(labels map[string]string) *AccountBuilder {
	b.account.Labels = labels
	return b
}

func (b *AccountBuilder) Disabled(reason string) *AccountBuilder {
	b.account.Enabled = false
	b.account.DisabledReason = reason
	return b
}

func (b *AccountBuilder) WithUsage(count int64, lastUsedAt time.Time) *AccountBuilder {
	b.account.UsageCount = count
	t := lastUsedAt
	b.account.LastUsedAt = &t
	return b
}

func (b *AccountBuilder) WithUsageCount(count int64) *AccountBuilder {
	b.account.UsageCount = count
	return b
}

func (b *AccountBuilder) RateLimitedUntil(until time.Time) *AccountBuilder {
	t := until
	b.account.RateLimitedUntil = &t
	return b
}

func (b *AccountBuilder) Build() *models.Account {
	return b.account
}

// Quick helper functions for simple test cases

// NewTestAccount creates an enabled test account with the given ID and provider.
func NewTestAccount(accountID id.AccountID, provider models.Provider) *models.Account {
	return NewAccountBuilder().
		WithID(accountID).
		WithProvider(provider).
		Build()
}

// PercentageSnapshot builds a two-window snapshot with the given used
// percentages and a reset comfortably in the future.
func PercentageSnapshot(primaryUsed, secondaryUsed float64) *quota.PercentageWindow {
	primaryReset := TestClock.Add(5 * time.Hour)
	secondaryReset := TestClock.Add(7 * 24 * time.Hour)
	return &quota.PercentageWindow{
		Primary:       quota.Window{UsedPercent: primaryUsed, ResetsAt: &primaryReset},
		Secondary:     quota.Window{UsedPercent: secondaryUsed, ResetsAt: &secondaryReset},
		LastUpdatedAt: TestClock,
	}
}

// TokenSnapshot builds a total-only token budget snapshot.
func TokenSnapshot(limit, remaining int64) *quota.TokenBudget {
	reset := TestClock.Add(time.Hour)
	return &quota.TokenBudget{
		TotalLimit:     limit,
		TotalRemaining: remaining,
		TotalResetsAt:  &reset,
		LastUpdatedAt:  TestClock,
	}
}

// ExpiredSnapshot builds a snapshot whose reset passed an hour before
// TestClock, so consumers must treat it as absent.
func ExpiredSnapshot(primaryUsed float64) *quota.PercentageWindow {
	reset := TestClock.Add(-time.Hour)
	return &quota.PercentageWindow{
		Primary:       quota.Window{UsedPercent: primaryUsed, ResetsAt: &reset},
		LastUpdatedAt: TestClock.Add(-2 * time.Hour),
	}
}
