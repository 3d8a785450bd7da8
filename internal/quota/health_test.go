package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentageWindowHealth(t *testing.T) {
	t.Run("fresh windows score full health", func(t *testing.T) {
		snap := &PercentageWindow{}
		assert.InDelta(t, 100.0, snap.Health(""), 0.001)
	})

	t.Run("short window dominates the blend", func(t *testing.T) {
		snap := &PercentageWindow{
			Primary:   Window{UsedPercent: 10},
			Secondary: Window{UsedPercent: 90},
		}
		// 0.7*90 + 0.3*10
		assert.InDelta(t, 66.0, snap.Health(""), 0.001)
	})

	t.Run("overdrawn windows bottom out at zero contribution", func(t *testing.T) {
		snap := &PercentageWindow{
			Primary:   Window{UsedPercent: 140},
			Secondary: Window{UsedPercent: 20},
		}
		assert.InDelta(t, 0.3*80, snap.Health(""), 0.001)
	})

	t.Run("health never increases as usage grows", func(t *testing.T) {
		prev := 101.0
		for used := 0.0; used <= 120; used += 5 {
			snap := &PercentageWindow{
				Primary:   Window{UsedPercent: used},
				Secondary: Window{UsedPercent: 30},
			}
			h := snap.Health("")
			assert.LessOrEqual(t, h, prev, "usage %.0f", used)
			prev = h
		}
	})

	t.Run("exhausted when either window hits 100", func(t *testing.T) {
		assert.False(t, (&PercentageWindow{Primary: Window{UsedPercent: 99.9}}).Exhausted())
		assert.True(t, (&PercentageWindow{Primary: Window{UsedPercent: 100}}).Exhausted())
		assert.True(t, (&PercentageWindow{Secondary: Window{UsedPercent: 101}}).Exhausted())
	})
}

func TestTokenBudgetHealth(t *testing.T) {
	t.Run("uses total budget alone when no input sub-limit", func(t *testing.T) {
		snap := &TokenBudget{TotalLimit: 1000, TotalRemaining: 250}
		// 75% used leaves 25 health.
		assert.InDelta(t, 25.0, snap.Health(""), 0.001)
	})

	t.Run("blends input sub-limit when present", func(t *testing.T) {
		snap := &TokenBudget{
			TotalLimit: 1000, TotalRemaining: 500,
			InputLimit: 200, InputRemaining: 200,
		}
		// 0.7*50 + 0.3*100
		assert.InDelta(t, 65.0, snap.Health(""), 0.001)
	})

	t.Run("missing limit degrades to a binary signal", func(t *testing.T) {
		assert.InDelta(t, 100.0, (&TokenBudget{TotalRemaining: 10}).Health(""), 0.001)
		assert.InDelta(t, 0.0, (&TokenBudget{TotalRemaining: 0}).Health(""), 0.001)
	})

	t.Run("health never increases as remaining shrinks", func(t *testing.T) {
		prev := 101.0
		for remaining := int64(1000); remaining >= -100; remaining -= 50 {
			h := (&TokenBudget{TotalLimit: 1000, TotalRemaining: remaining}).Health("")
			assert.LessOrEqual(t, h, prev, "remaining %d", remaining)
			prev = h
		}
	})

	t.Run("exhausted only when total remaining hits zero", func(t *testing.T) {
		assert.False(t, (&TokenBudget{TotalLimit: 1000, TotalRemaining: 1}).Exhausted())
		assert.True(t, (&TokenBudget{TotalLimit: 1000, TotalRemaining: 0}).Exhausted())
		assert.True(t, (&TokenBudget{TotalLimit: 1000, TotalRemaining: -5}).Exhausted())
		// A drained input sub-budget alone does not exhaust the account.
		assert.False(t, (&TokenBudget{TotalLimit: 1000, TotalRemaining: 400, InputLimit: 100, InputRemaining: 0}).Exhausted())
	})
}

func TestUnifiedClaimHealth(t *testing.T) {
	t.Run("rejected verdict zeroes health but is not hard exhaustion", func(t *testing.T) {
		snap := &UnifiedClaim{Status: ClaimRejected, Windows: []WindowUtilization{{Name: "5h", UsedPercent: 1}}}
		assert.Zero(t, snap.Health(""))
		assert.False(t, snap.Exhausted())
	})

	t.Run("two windows blend like percentage windows", func(t *testing.T) {
		snap := &UnifiedClaim{
			Status: ClaimAllowed,
			Windows: []WindowUtilization{
				{Name: "5h", UsedPercent: 20},
				{Name: "7d", UsedPercent: 60},
			},
		}
		assert.InDelta(t, 0.7*80+0.3*40, snap.Health(""), 0.001)
	})

	t.Run("single window stands alone", func(t *testing.T) {
		snap := &UnifiedClaim{Status: ClaimAllowed, Windows: []WindowUtilization{{Name: "5h", UsedPercent: 30}}}
		assert.InDelta(t, 70.0, snap.Health(""), 0.001)
	})

	t.Run("falls back to the coarse percentage", func(t *testing.T) {
		pct := 82.0
		snap := &UnifiedClaim{Status: ClaimAllowedWarning, FallbackUsedPercent: &pct}
		assert.InDelta(t, 18.0, snap.Health(""), 0.001)
	})

	t.Run("no signal at all lands on neutral", func(t *testing.T) {
		snap := &UnifiedClaim{Status: ClaimAllowed}
		assert.InDelta(t, neutralHealth, snap.Health(""), 0.001)
	})
}

func TestFractionalRemainingHealth(t *testing.T) {
	resources := []ResourceQuota{
		{Name: "sonnet", RemainingFraction: 0.8},
		{Name: "opus", RemainingFraction: 0.1},
	}

	t.Run("exact model match wins", func(t *testing.T) {
		snap := &FractionalRemaining{Resources: resources}
		assert.InDelta(t, 80.0, snap.Health("sonnet"), 0.001)
	})

	t.Run("family prefix matches versioned models", func(t *testing.T) {
		snap := &FractionalRemaining{Resources: resources}
		assert.InDelta(t, 10.0, snap.Health("opus-4-20260115"), 0.001)
	})

	t.Run("unmatched model falls back to the tightest resource", func(t *testing.T) {
		snap := &FractionalRemaining{Resources: resources}
		assert.InDelta(t, 10.0, snap.Health("haiku"), 0.001)
	})

	t.Run("no resources lands on neutral", func(t *testing.T) {
		snap := &FractionalRemaining{}
		assert.InDelta(t, neutralHealth, snap.Health("sonnet"), 0.001)
	})

	t.Run("fractions outside the unit interval are clamped", func(t *testing.T) {
		snap := &FractionalRemaining{Resources: []ResourceQuota{{Name: "m", RemainingFraction: 1.7}}}
		assert.InDelta(t, 100.0, snap.Health("m"), 0.001)
		snap = &FractionalRemaining{Resources: []ResourceQuota{{Name: "m", RemainingFraction: -0.2}}}
		assert.Zero(t, snap.Health("m"))
	})

	t.Run("never hard exhausts", func(t *testing.T) {
		snap := &FractionalRemaining{Resources: []ResourceQuota{{Name: "m", RemainingFraction: 0}}}
		assert.False(t, snap.Exhausted())
	})
}

func TestCreditBreakdownHealth(t *testing.T) {
	t.Run("unlimited plans score full health", func(t *testing.T) {
		assert.InDelta(t, 100.0, (&CreditBreakdown{Unlimited: true}).Health(""), 0.001)
	})

	t.Run("metered plans score slightly below", func(t *testing.T) {
		limit := 50.0
		snap := &CreditBreakdown{Items: []CreditItem{{Name: "standard", Used: 49, Limit: &limit}}}
		assert.InDelta(t, 95.0, snap.Health(""), 0.001)
		assert.False(t, snap.Exhausted())
	})
}

func TestSnapshotExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	t.Run("no embedded resets means never expired", func(t *testing.T) {
		assert.False(t, (&PercentageWindow{}).Expired(now))
		assert.False(t, (&TokenBudget{TotalLimit: 10}).Expired(now))
	})

	t.Run("any passed reset expires the snapshot", func(t *testing.T) {
		snap := &PercentageWindow{
			Primary:   Window{UsedPercent: 50, ResetsAt: &future},
			Secondary: Window{UsedPercent: 50, ResetsAt: &past},
		}
		assert.True(t, snap.Expired(now))
	})

	t.Run("a reset at exactly now has not yet passed", func(t *testing.T) {
		snap := &TokenBudget{TotalLimit: 10, TotalResetsAt: &now}
		assert.False(t, snap.Expired(now))
		assert.True(t, snap.Expired(now.Add(time.Nanosecond)))
	})

	t.Run("free trial reset counts for credit shapes", func(t *testing.T) {
		snap := &CreditBreakdown{FreeTrial: &CreditItem{Name: "trial", ResetsAt: &past}}
		assert.True(t, snap.Expired(now))
	})

	t.Run("next reset picks the earliest deadline", func(t *testing.T) {
		later := now.Add(2 * time.Hour)
		snap := &UnifiedClaim{Windows: []WindowUtilization{
			{Name: "7d", ResetsAt: &later},
			{Name: "5h", ResetsAt: &future},
		}}
		got := snap.NextReset()
		assert.NotNil(t, got)
		assert.Equal(t, future, *got)
	})
}
