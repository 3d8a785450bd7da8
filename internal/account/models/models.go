package models

import (
	"time"

	id "relaypool/pkg/domain"
	dErrors "relaypool/pkg/domain-errors"
)

// This file contains pure domain models for upstream accounts: entities
// that should not depend on transport or HTTP-specific concerns.

// Account represents one upstream provider account in the relay pool.
// This is a pure domain entity - use AccountSummary for JSON responses.
// The credential is the raw upstream secret; it never leaves the process
// and is excluded from every outward projection.
type Account struct {
	ID         id.AccountID
	Name       string
	Provider   Provider
	Credential string
	Labels     map[string]string

	// Rotation state
	Enabled        bool
	DisabledReason string

	// Usage bookkeeping. UsageCount only ever grows; LastUsedAt is nil
	// until the account has served its first request.
	UsageCount int64
	LastUsedAt *time.Time

	// RateLimitedUntil is non-nil while the upstream has told us to back
	// off. The account re-enters rotation once the deadline passes.
	RateLimitedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRateLimited reports whether the account is still inside an upstream
// backoff window at the given time.
func (a *Account) IsRateLimited(at time.Time) bool {
	return a.RateLimitedUntil != nil && at.Before(*a.RateLimitedUntil)
}

// IsAvailable reports whether the account may be handed out for new work:
// enabled and not inside a rate-limit window.
func (a *Account) IsAvailable(at time.Time) bool {
	return a.Enabled && !a.IsRateLimited(at)
}

// MarkUsed records one served request. Store implementations that update
// in place call this under their own locking.
func (a *Account) MarkUsed(at time.Time) {
	a.UsageCount++
	if a.LastUsedAt == nil || at.After(*a.LastUsedAt) {
		t := at
		a.LastUsedAt = &t
	}
	a.UpdatedAt = at
}

// MarkRateLimited records an upstream backoff deadline. A shorter deadline
// never shrinks an existing window. Returns true if the stored deadline changed.
func (a *Account) MarkRateLimited(until time.Time, at time.Time) bool {
	if a.RateLimitedUntil != nil && !until.After(*a.RateLimitedUntil) {
		return false
	}
	t := until
	a.RateLimitedUntil = &t
	a.UpdatedAt = at
	return true
}

// ClearRateLimit drops the backoff window if it has expired by the given
// time. Returns true if a window was actually cleared.
func (a *Account) ClearRateLimit(at time.Time) bool {
	if a.RateLimitedUntil == nil || at.Before(*a.RateLimitedUntil) {
		return false
	}
	a.RateLimitedUntil = nil
	a.UpdatedAt = at
	return true
}

// SetEnabled toggles the account in or out of rotation. Returns true if
// the flag actually changed.
func (a *Account) SetEnabled(enabled bool, reason string, at time.Time) bool {
	if a.Enabled == enabled {
		return false
	}
	a.Enabled = enabled
	if enabled {
		a.DisabledReason = ""
	} else {
		a.DisabledReason = reason
	}
	a.UpdatedAt = at
	return true
}

// NewAccount validates inputs and builds an enabled account ready for
// rotation.
func NewAccount(accountID id.AccountID, name string, provider Provider, credential string, labels map[string]string, now time.Time) (*Account, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account name must be 128 characters or less")
	}
	if !provider.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown provider: "+string(provider))
	}
	if credential == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account credential cannot be empty")
	}
	return &Account{
		ID:         accountID,
		Name:       name,
		Provider:   provider,
		Credential: credential,
		Labels:     labels,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.LastUsedAt != nil {
		t := *a.LastUsedAt
		clone.LastUsedAt = &t
	}
	if a.RateLimitedUntil != nil {
		t := *a.RateLimitedUntil
		clone.RateLimitedUntil = &t
	}
	if a.Labels != nil {
		clone.Labels = make(map[string]string, len(a.Labels))
		for k, v := range a.Labels {
			clone.Labels[k] = v
		}
	}
	return &clone
}
