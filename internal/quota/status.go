package quota

import (
	"fmt"
	"time"
)

// Status is the read-only projection of one account's snapshot for
// dashboards and the management API. It is never used for selection.
type Status struct {
	Shape          Shape
	HealthScore    float64
	Exhausted      bool
	Expired        bool
	PrimaryUsedPct *float64
	Detail         string
	NextReset      *time.Time
	LastUpdatedAt  time.Time
}

// BuildStatus summarizes a snapshot at the given time. Returns false when
// there is nothing to summarize.
func BuildStatus(snap Snapshot, now time.Time) (Status, bool) {
	if snap == nil {
		return Status{}, false
	}
	status := Status{
		Shape:         snap.Shape(),
		HealthScore:   snap.Health(""),
		Exhausted:     snap.Exhausted(),
		Expired:       snap.Expired(now),
		NextReset:     snap.NextReset(),
		LastUpdatedAt: snap.UpdatedAt(),
	}

	switch s := snap.(type) {
	case *PercentageWindow:
		pct := s.Primary.UsedPercent
		status.PrimaryUsedPct = &pct
		status.Detail = fmt.Sprintf("5h %.1f%% used, 7d %.1f%% used", s.Primary.UsedPercent, s.Secondary.UsedPercent)
	case *TokenBudget:
		if s.TotalLimit > 0 {
			pct := 100 * float64(s.TotalLimit-s.TotalRemaining) / float64(s.TotalLimit)
			status.PrimaryUsedPct = &pct
		}
		status.Detail = fmt.Sprintf("%d of %d tokens remaining", s.TotalRemaining, s.TotalLimit)
	case *UnifiedClaim:
		if len(s.Windows) > 0 {
			pct := s.Windows[0].UsedPercent
			status.PrimaryUsedPct = &pct
			status.Detail = fmt.Sprintf("status %s, %s %.1f%% used", s.Status, s.Windows[0].Name, s.Windows[0].UsedPercent)
		} else if s.FallbackUsedPercent != nil {
			pct := *s.FallbackUsedPercent
			status.PrimaryUsedPct = &pct
			status.Detail = fmt.Sprintf("status %s, fallback %.1f%% used", s.Status, pct)
		} else {
			status.Detail = "status " + string(s.Status)
		}
	case *FractionalRemaining:
		min := 1.0
		for _, r := range s.Resources {
			if r.RemainingFraction < min {
				min = r.RemainingFraction
			}
		}
		pct := (1 - clamp01(min)) * 100
		status.PrimaryUsedPct = &pct
		status.Detail = fmt.Sprintf("%d model quotas, tightest %.0f%% remaining", len(s.Resources), clamp01(min)*100)
	case *CreditBreakdown:
		if s.Unlimited {
			status.Detail = "unlimited credits"
		} else {
			status.Detail = fmt.Sprintf("%d metered credit items", len(s.Items))
			for _, item := range s.Items {
				if item.Limit != nil && *item.Limit > 0 {
					pct := 100 * item.Used / *item.Limit
					if status.PrimaryUsedPct == nil || pct > *status.PrimaryUsedPct {
						p := pct
						status.PrimaryUsedPct = &p
					}
				}
			}
		}
	}
	return status, true
}
