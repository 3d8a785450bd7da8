package quota

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypool/internal/account/models"
)

func testExtractor() *Extractor {
	return NewExtractor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractPercentageWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testExtractor()

	t.Run("parses both windows with resets", func(t *testing.T) {
		body := []byte(`{
			"five_hour": {"utilization": 12.5, "resets_at": "2026-03-01T17:00:00Z"},
			"seven_day": {"utilization": 40.2, "resets_at": "2026-03-05T00:00:00Z"}
		}`)
		snap, ok := e.Extract(models.ProviderClaude, Upstream{Body: body}, now)
		require.True(t, ok)

		pw, isPW := snap.(*PercentageWindow)
		require.True(t, isPW)
		assert.InDelta(t, 12.5, pw.Primary.UsedPercent, 0.001)
		assert.InDelta(t, 40.2, pw.Secondary.UsedPercent, 0.001)
		require.NotNil(t, pw.Primary.ResetsAt)
		assert.Equal(t, time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC), *pw.Primary.ResetsAt)
		assert.Equal(t, now, pw.UpdatedAt())
	})

	t.Run("one window is enough", func(t *testing.T) {
		body := []byte(`{"five_hour": {"utilization": 99.0}}`)
		snap, ok := e.Extract(models.ProviderClaude, Upstream{Body: body}, now)
		require.True(t, ok)
		pw := snap.(*PercentageWindow)
		assert.InDelta(t, 99.0, pw.Primary.UsedPercent, 0.001)
		assert.Zero(t, pw.Secondary.UsedPercent)
	})

	t.Run("empty and malformed bodies yield no data, never an error", func(t *testing.T) {
		_, ok := e.Extract(models.ProviderClaude, Upstream{}, now)
		assert.False(t, ok)

		_, ok = e.Extract(models.ProviderClaude, Upstream{Body: []byte(`{"five_`)}, now)
		assert.False(t, ok)

		_, ok = e.Extract(models.ProviderClaude, Upstream{Body: []byte(`{"unrelated": true}`)}, now)
		assert.False(t, ok)
	})
}

func TestExtractUnifiedClaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testExtractor()

	t.Run("parses status, windows, and fallback", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerUnifiedStatus, "allowed_warning")
		h.Set(headerUnified5hUtil, "85")
		h.Set(headerUnified5hReset, "2026-03-01T17:00:00Z")
		h.Set(headerUnified7dUtil, "40")
		h.Set(headerUnifiedFallback, "70")

		snap, ok := e.Extract(models.ProviderClaudeConsole, Upstream{Headers: h}, now)
		require.True(t, ok)

		claim := snap.(*UnifiedClaim)
		assert.Equal(t, ClaimAllowedWarning, claim.Status)
		require.Len(t, claim.Windows, 2)
		assert.Equal(t, "5h", claim.Windows[0].Name)
		assert.InDelta(t, 85.0, claim.Windows[0].UsedPercent, 0.001)
		require.NotNil(t, claim.FallbackUsedPercent)
		assert.InDelta(t, 70.0, *claim.FallbackUsedPercent, 0.001)
	})

	t.Run("unix second resets are accepted", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerUnified5hUtil, "10")
		h.Set(headerUnified5hReset, "1772380800")

		snap, ok := e.Extract(models.ProviderClaudeConsole, Upstream{Headers: h}, now)
		require.True(t, ok)
		claim := snap.(*UnifiedClaim)
		require.NotNil(t, claim.Windows[0].ResetsAt)
		assert.Equal(t, time.Unix(1772380800, 0).UTC(), *claim.Windows[0].ResetsAt)
	})

	t.Run("status defaults to allowed when windows exist", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerUnified5hUtil, "10")
		snap, ok := e.Extract(models.ProviderClaudeConsole, Upstream{Headers: h}, now)
		require.True(t, ok)
		assert.Equal(t, ClaimAllowed, snap.(*UnifiedClaim).Status)
	})

	t.Run("no unified headers yields no data", func(t *testing.T) {
		h := http.Header{}
		h.Set("content-type", "application/json")
		_, ok := e.Extract(models.ProviderClaudeConsole, Upstream{Headers: h}, now)
		assert.False(t, ok)

		_, ok = e.Extract(models.ProviderClaudeConsole, Upstream{}, now)
		assert.False(t, ok)
	})
}

func TestExtractTokenBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testExtractor()

	t.Run("parses total and optional sub-budgets", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerLimitTokens, "100000")
		h.Set(headerRemainingTokens, "25000")
		h.Set(headerResetTokens, "6m0s")
		h.Set(headerLimitInput, "40000")
		h.Set(headerRemainingInput, "10000")

		snap, ok := e.Extract(models.ProviderCodex, Upstream{Headers: h}, now)
		require.True(t, ok)

		budget := snap.(*TokenBudget)
		assert.Equal(t, int64(100000), budget.TotalLimit)
		assert.Equal(t, int64(25000), budget.TotalRemaining)
		require.NotNil(t, budget.TotalResetsAt)
		assert.Equal(t, now.Add(6*time.Minute), *budget.TotalResetsAt)
		assert.Equal(t, int64(40000), budget.InputLimit)
		assert.Equal(t, int64(10000), budget.InputRemaining)
		assert.Nil(t, budget.InputResetsAt)
		assert.Zero(t, budget.OutputLimit)
	})

	t.Run("total budget is mandatory", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerLimitTokens, "100000")
		_, ok := e.Extract(models.ProviderCodex, Upstream{Headers: h}, now)
		assert.False(t, ok)
	})

	t.Run("garbage numbers yield no data", func(t *testing.T) {
		h := http.Header{}
		h.Set(headerLimitTokens, "many")
		h.Set(headerRemainingTokens, "25000")
		_, ok := e.Extract(models.ProviderCodex, Upstream{Headers: h}, now)
		assert.False(t, ok)
	})
}

func TestExtractCreditBreakdown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testExtractor()

	t.Run("parses metered items and free trial", func(t *testing.T) {
		body := []byte(`{
			"items": [{"name": "standard", "used": 12.5, "limit": 100, "resets_at": "2026-04-01T00:00:00Z"}],
			"free_trial": {"name": "trial", "used": 3, "limit": 25}
		}`)
		snap, ok := e.Extract(models.ProviderGemini, Upstream{Body: body}, now)
		require.True(t, ok)

		credits := snap.(*CreditBreakdown)
		assert.False(t, credits.Unlimited)
		require.Len(t, credits.Items, 1)
		assert.Equal(t, "standard", credits.Items[0].Name)
		require.NotNil(t, credits.Items[0].Limit)
		assert.InDelta(t, 100.0, *credits.Items[0].Limit, 0.001)
		require.NotNil(t, credits.FreeTrial)
		assert.InDelta(t, 3.0, credits.FreeTrial.Used, 0.001)
	})

	t.Run("bare unlimited flag is a valid reading", func(t *testing.T) {
		snap, ok := e.Extract(models.ProviderGemini, Upstream{Body: []byte(`{"unlimited": true}`)}, now)
		require.True(t, ok)
		assert.True(t, snap.(*CreditBreakdown).Unlimited)
	})

	t.Run("empty payload yields no data", func(t *testing.T) {
		_, ok := e.Extract(models.ProviderGemini, Upstream{Body: []byte(`{}`)}, now)
		assert.False(t, ok)
	})
}

func TestExtractFractionalRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testExtractor()

	t.Run("parses per-model fractions", func(t *testing.T) {
		body := []byte(`{"models": [
			{"model": "gemini-3-pro", "quota": {"remainingFraction": 0.42, "resetTime": "2026-03-02T00:00:00Z"}},
			{"model": "sonnet", "quota": {"remainingFraction": 1.0}},
			{"model": "no-quota-model"}
		]}`)
		snap, ok := e.Extract(models.ProviderAntigravity, Upstream{Body: body}, now)
		require.True(t, ok)

		fr := snap.(*FractionalRemaining)
		require.Len(t, fr.Resources, 2)
		assert.Equal(t, "gemini-3-pro", fr.Resources[0].Name)
		assert.InDelta(t, 0.42, fr.Resources[0].RemainingFraction, 0.001)
		require.NotNil(t, fr.Resources[0].ResetsAt)
		assert.Nil(t, fr.Resources[1].ResetsAt)
	})

	t.Run("models without fractions yield no data", func(t *testing.T) {
		body := []byte(`{"models": [{"model": "gemini-3-pro"}]}`)
		_, ok := e.Extract(models.ProviderAntigravity, Upstream{Body: body}, now)
		assert.False(t, ok)
	})
}

func TestExtractUnknownProvider(t *testing.T) {
	e := testExtractor()
	_, ok := e.Extract(models.Provider("grok"), Upstream{Body: []byte(`{}`)}, time.Now())
	assert.False(t, ok)
}
