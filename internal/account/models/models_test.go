package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "relaypool/pkg/domain"
)

func testAccount() *Account {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Account{
		ID:        id.AccountID(uuid.New()),
		Name:      "pool-a",
		Provider:  ProviderClaude,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAccountAvailability(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("enabled account with no backoff is available", func(t *testing.T) {
		a := testAccount()
		assert.True(t, a.IsAvailable(now))
	})

	t.Run("disabled account is never available", func(t *testing.T) {
		a := testAccount()
		a.SetEnabled(false, "credentials revoked", now)
		assert.False(t, a.IsAvailable(now))
		assert.Equal(t, "credentials revoked", a.DisabledReason)
	})

	t.Run("rate limited until the deadline, available after it", func(t *testing.T) {
		a := testAccount()
		until := now.Add(5 * time.Minute)
		require.True(t, a.MarkRateLimited(until, now))

		assert.False(t, a.IsAvailable(now))
		assert.False(t, a.IsAvailable(until.Add(-time.Second)))
		// The deadline itself is no longer "before until", so the account returns.
		assert.True(t, a.IsAvailable(until))
	})
}

func TestAccountRateLimitWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("shorter deadline never shrinks the window", func(t *testing.T) {
		a := testAccount()
		long := now.Add(10 * time.Minute)
		short := now.Add(1 * time.Minute)

		require.True(t, a.MarkRateLimited(long, now))
		assert.False(t, a.MarkRateLimited(short, now))
		assert.Equal(t, long, *a.RateLimitedUntil)
	})

	t.Run("clear is a no-op before the deadline", func(t *testing.T) {
		a := testAccount()
		a.MarkRateLimited(now.Add(5*time.Minute), now)

		assert.False(t, a.ClearRateLimit(now.Add(time.Minute)))
		assert.NotNil(t, a.RateLimitedUntil)
	})

	t.Run("clear drops an expired window exactly once", func(t *testing.T) {
		a := testAccount()
		a.MarkRateLimited(now.Add(5*time.Minute), now)

		later := now.Add(6 * time.Minute)
		assert.True(t, a.ClearRateLimit(later))
		assert.Nil(t, a.RateLimitedUntil)
		assert.False(t, a.ClearRateLimit(later))
	})
}

func TestAccountMarkUsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := testAccount()
	require.Nil(t, a.LastUsedAt)

	a.MarkUsed(now)
	require.NotNil(t, a.LastUsedAt)
	assert.Equal(t, int64(1), a.UsageCount)
	assert.Equal(t, now, *a.LastUsedAt)

	// An out-of-order timestamp bumps the counter but not the clock.
	a.MarkUsed(now.Add(-time.Hour))
	assert.Equal(t, int64(2), a.UsageCount)
	assert.Equal(t, now, *a.LastUsedAt)
}

func TestAccountClone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := testAccount()
	a.Labels = map[string]string{"tier": "max"}
	a.MarkUsed(now)
	a.MarkRateLimited(now.Add(time.Minute), now)

	clone := a.Clone()
	clone.Labels["tier"] = "free"
	*clone.LastUsedAt = now.Add(time.Hour)
	*clone.RateLimitedUntil = now.Add(time.Hour)

	assert.Equal(t, "max", a.Labels["tier"])
	assert.Equal(t, now, *a.LastUsedAt)
	assert.Equal(t, now.Add(time.Minute), *a.RateLimitedUntil)
}

func TestParseProvider(t *testing.T) {
	t.Run("accepts every known provider", func(t *testing.T) {
		for _, p := range KnownProviders() {
			parsed, err := ParseProvider(p.String())
			require.NoError(t, err)
			assert.Equal(t, p, parsed)
		}
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		_, err := ParseProvider("grok")
		require.Error(t, err)
	})
}
