// Package quota normalizes heterogeneous provider rate-limit reporting into
// a small set of snapshot shapes and keeps the latest reading per account.
package quota

import (
	"time"
)

// Shape names one snapshot variant for logging and dashboards.
type Shape string

const (
	ShapePercentageWindow    Shape = "percentage_window"
	ShapeTokenBudget         Shape = "token_budget"
	ShapeUnifiedClaim        Shape = "unified_claim"
	ShapeFractionalRemaining Shape = "fractional_remaining"
	ShapeCreditBreakdown     Shape = "credit_breakdown"
)

// Snapshot is the normalized quota reading for one account. Exactly one
// variant exists per account at a time; the variants are closed (sealed by
// the unexported marker) so impossible field combinations cannot be built.
//
// A snapshot is expired the instant now passes any reset timestamp embedded
// in it. Expiry is judged by consumers; the store never evicts on its own.
type Snapshot interface {
	Shape() Shape
	UpdatedAt() time.Time
	// Expired reports whether any embedded reset has passed.
	Expired(now time.Time) bool
	// Health estimates remaining headroom in [0,100]. The model hint is
	// only meaningful for shapes tracking per-model sub-resources.
	Health(model string) float64
	// Exhausted reports hard quota exhaustion. Only budget- and
	// window-based shapes can exhaust; the rest always return false.
	Exhausted() bool
	// NextReset returns the earliest embedded reset still in the future
	// relative to the snapshot's own timestamps, or nil if none is known.
	NextReset() *time.Time

	isSnapshot()
}

// Window is one rolling usage window reported as a used percentage.
type Window struct {
	UsedPercent float64
	ResetsAt    *time.Time
}

// PercentageWindow reports usage as two rolling windows, a short primary
// one (hours) and a long secondary one (days).
type PercentageWindow struct {
	Primary       Window
	Secondary     Window
	LastUpdatedAt time.Time
}

func (p *PercentageWindow) Shape() Shape         { return ShapePercentageWindow }
func (p *PercentageWindow) UpdatedAt() time.Time { return p.LastUpdatedAt }
func (p *PercentageWindow) isSnapshot()          {}

func (p *PercentageWindow) Expired(now time.Time) bool {
	return resetPassed(now, p.Primary.ResetsAt) || resetPassed(now, p.Secondary.ResetsAt)
}

func (p *PercentageWindow) NextReset() *time.Time {
	return earliestReset(p.Primary.ResetsAt, p.Secondary.ResetsAt)
}

// TokenBudget reports absolute token allowances. A zero limit means the
// upstream never mentioned that budget; the input and output sub-budgets
// are optional.
type TokenBudget struct {
	TotalLimit     int64
	TotalRemaining int64
	TotalResetsAt  *time.Time

	InputLimit     int64
	InputRemaining int64
	InputResetsAt  *time.Time

	OutputLimit     int64
	OutputRemaining int64
	OutputResetsAt  *time.Time

	LastUpdatedAt time.Time
}

func (t *TokenBudget) Shape() Shape         { return ShapeTokenBudget }
func (t *TokenBudget) UpdatedAt() time.Time { return t.LastUpdatedAt }
func (t *TokenBudget) isSnapshot()          {}

func (t *TokenBudget) Expired(now time.Time) bool {
	return resetPassed(now, t.TotalResetsAt) ||
		resetPassed(now, t.InputResetsAt) ||
		resetPassed(now, t.OutputResetsAt)
}

func (t *TokenBudget) NextReset() *time.Time {
	return earliestReset(t.TotalResetsAt, t.InputResetsAt, t.OutputResetsAt)
}

// UnifiedClaim carries a provider-asserted overall status alongside named
// window utilizations. Some upstreams only send the coarse fallback
// percentage, so every field except Status is optional.
type UnifiedClaim struct {
	Status              ClaimStatus
	Windows             []WindowUtilization
	FallbackUsedPercent *float64
	LastUpdatedAt       time.Time
}

// ClaimStatus is the upstream's own verdict about the account.
type ClaimStatus string

const (
	ClaimAllowed        ClaimStatus = "allowed"
	ClaimAllowedWarning ClaimStatus = "allowed_warning"
	ClaimRejected       ClaimStatus = "rejected"
)

// WindowUtilization is one named utilization window inside a UnifiedClaim.
type WindowUtilization struct {
	Name        string
	UsedPercent float64
	ResetsAt    *time.Time
}

func (u *UnifiedClaim) Shape() Shape         { return ShapeUnifiedClaim }
func (u *UnifiedClaim) UpdatedAt() time.Time { return u.LastUpdatedAt }
func (u *UnifiedClaim) isSnapshot()          {}

func (u *UnifiedClaim) Expired(now time.Time) bool {
	for _, w := range u.Windows {
		if resetPassed(now, w.ResetsAt) {
			return true
		}
	}
	return false
}

func (u *UnifiedClaim) NextReset() *time.Time {
	resets := make([]*time.Time, 0, len(u.Windows))
	for _, w := range u.Windows {
		resets = append(resets, w.ResetsAt)
	}
	return earliestReset(resets...)
}

// FractionalRemaining reports named sub-resources (typically per model
// family) each with a remaining fraction in [0,1].
type FractionalRemaining struct {
	Resources     []ResourceQuota
	LastUpdatedAt time.Time
}

// ResourceQuota is one named sub-resource inside a FractionalRemaining.
type ResourceQuota struct {
	Name              string
	RemainingFraction float64
	ResetsAt          *time.Time
}

func (f *FractionalRemaining) Shape() Shape         { return ShapeFractionalRemaining }
func (f *FractionalRemaining) UpdatedAt() time.Time { return f.LastUpdatedAt }
func (f *FractionalRemaining) isSnapshot()          {}

func (f *FractionalRemaining) Expired(now time.Time) bool {
	for _, r := range f.Resources {
		if resetPassed(now, r.ResetsAt) {
			return true
		}
	}
	return false
}

func (f *FractionalRemaining) NextReset() *time.Time {
	resets := make([]*time.Time, 0, len(f.Resources))
	for _, r := range f.Resources {
		resets = append(resets, r.ResetsAt)
	}
	return earliestReset(resets...)
}

// CreditBreakdown reports itemized credit usage. Unlimited accounts carry
// the flag instead of limits; metered accounts list items with limits.
type CreditBreakdown struct {
	Unlimited     bool
	Items         []CreditItem
	FreeTrial     *CreditItem
	LastUpdatedAt time.Time
}

// CreditItem is one named usage line. A nil Limit means the upstream did
// not cap this item.
type CreditItem struct {
	Name     string
	Used     float64
	Limit    *float64
	ResetsAt *time.Time
}

func (c *CreditBreakdown) Shape() Shape         { return ShapeCreditBreakdown }
func (c *CreditBreakdown) UpdatedAt() time.Time { return c.LastUpdatedAt }
func (c *CreditBreakdown) isSnapshot()          {}

func (c *CreditBreakdown) Expired(now time.Time) bool {
	for _, item := range c.Items {
		if resetPassed(now, item.ResetsAt) {
			return true
		}
	}
	if c.FreeTrial != nil && resetPassed(now, c.FreeTrial.ResetsAt) {
		return true
	}
	return false
}

func (c *CreditBreakdown) NextReset() *time.Time {
	resets := make([]*time.Time, 0, len(c.Items)+1)
	for _, item := range c.Items {
		resets = append(resets, item.ResetsAt)
	}
	if c.FreeTrial != nil {
		resets = append(resets, c.FreeTrial.ResetsAt)
	}
	return earliestReset(resets...)
}

func resetPassed(now time.Time, resetsAt *time.Time) bool {
	return resetsAt != nil && now.After(*resetsAt)
}

func earliestReset(resets ...*time.Time) *time.Time {
	var earliest *time.Time
	for _, r := range resets {
		if r == nil {
			continue
		}
		if earliest == nil || r.Before(*earliest) {
			t := *r
			earliest = &t
		}
	}
	return earliest
}
