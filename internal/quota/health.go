package quota

import "strings"

// Health scores in this file live on a 0-100 scale where 100 means a fresh
// untouched quota and 0 means the provider will reject the next call. The
// weights mirror how providers meter: short windows dominate long ones,
// total token budgets dominate input sub-budgets.

const (
	primaryWeight   = 0.7
	secondaryWeight = 0.3

	// neutralHealth is used when a shape carries no usable signal at all.
	// It deliberately matches the engine's treatment of accounts with no
	// snapshot: moderately healthy, neither favored nor buried.
	neutralHealth = 50.0
)

func (p *PercentageWindow) Health(string) float64 {
	return primaryWeight*remainingPercent(p.Primary.UsedPercent) +
		secondaryWeight*remainingPercent(p.Secondary.UsedPercent)
}

// Exhausted: either window fully consumed kills the account for this cycle.
func (p *PercentageWindow) Exhausted() bool {
	return p.Primary.UsedPercent >= 100 || p.Secondary.UsedPercent >= 100
}

func (t *TokenBudget) Health(string) float64 {
	tokensScore := budgetScore(t.TotalLimit, t.TotalRemaining)
	if t.InputLimit <= 0 {
		return tokensScore
	}
	inputScore := budgetScore(t.InputLimit, t.InputRemaining)
	return primaryWeight*tokensScore + secondaryWeight*inputScore
}

func (t *TokenBudget) Exhausted() bool {
	return t.TotalRemaining <= 0
}

func (u *UnifiedClaim) Health(string) float64 {
	if u.Status == ClaimRejected {
		return 0
	}
	switch len(u.Windows) {
	case 0:
		if u.FallbackUsedPercent != nil {
			return remainingPercent(*u.FallbackUsedPercent)
		}
		return neutralHealth
	case 1:
		return remainingPercent(u.Windows[0].UsedPercent)
	default:
		// First two windows arrive shortest-first from extraction.
		return primaryWeight*remainingPercent(u.Windows[0].UsedPercent) +
			secondaryWeight*remainingPercent(u.Windows[1].UsedPercent)
	}
}

// Exhausted is always false: the claim's own "rejected" verdict already
// drives health to zero, and the asserted status is advisory, not a hard
// budget reading.
func (u *UnifiedClaim) Exhausted() bool { return false }

// Health prefers the sub-resource matching the requested model; with no
// match the tightest sub-resource wins, since one drained model family
// usually drags its siblings down shortly after.
func (f *FractionalRemaining) Health(model string) float64 {
	if len(f.Resources) == 0 {
		return neutralHealth
	}
	if model != "" {
		for _, r := range f.Resources {
			if r.Name == model || strings.HasPrefix(model, r.Name) {
				return clamp01(r.RemainingFraction) * 100
			}
		}
	}
	min := f.Resources[0].RemainingFraction
	for _, r := range f.Resources[1:] {
		if r.RemainingFraction < min {
			min = r.RemainingFraction
		}
	}
	return clamp01(min) * 100
}

func (f *FractionalRemaining) Exhausted() bool { return false }

func (c *CreditBreakdown) Health(string) float64 {
	if c.Unlimited {
		return 100
	}
	return 95
}

func (c *CreditBreakdown) Exhausted() bool { return false }

func remainingPercent(usedPercent float64) float64 {
	remaining := 100 - usedPercent
	if remaining < 0 {
		return 0
	}
	return remaining
}

func budgetScore(limit, remaining int64) float64 {
	if limit <= 0 {
		// Limit never reported: all we know is whether anything is left.
		if remaining <= 0 {
			return 0
		}
		return 100
	}
	usedPercent := 100 * float64(limit-remaining) / float64(limit)
	return remainingPercent(usedPercent)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
