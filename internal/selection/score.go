package selection

import (
	"sort"
	"time"

	"relaypool/internal/account/models"
	"relaypool/internal/quota"
)

// Scoring weights. Health dominates; usage fairness and recency nudge the
// ranking between similarly healthy accounts.
const (
	healthWeight  = 0.8
	usageWeight   = 0.1
	recencyWeight = 0.1

	// unknownScore stands in for 0.8*health when an account has no usable
	// snapshot: moderately healthy, neither favored nor buried.
	unknownScore = 40.0

	// neverUsedBonus replaces the recency term for accounts that have
	// never served a request.
	neverUsedBonus = 10.0
)

// candidate pairs an account with its snapshot and computed score for one
// selection round.
type candidate struct {
	account *models.Account
	snap    quota.Snapshot
	score   float64
}

// usable reports whether the candidate's snapshot should drive decisions:
// present and not expired. An expired snapshot is treated as absent.
func (c *candidate) usable(now time.Time) bool {
	return c.snap != nil && !c.snap.Expired(now)
}

// exhausted reports hard exhaustion per the candidate's current reading.
// Only a usable snapshot can exhaust an account.
func (c *candidate) exhausted(now time.Time) bool {
	return c.usable(now) && c.snap.Exhausted()
}

// scoreCandidate computes the selection score in [0,100].
//
// The health term reads the snapshot when present and fresh; an exhausted
// reading zeroes it outright. Unknown accounts start from the midpoint.
// The usage term decays by one point per ten served requests; the recency
// term grows a point per idle minute up to 100.
func scoreCandidate(c *candidate, model string, now time.Time) float64 {
	var score float64
	if c.usable(now) {
		score = healthWeight * c.snap.Health(model)
		if c.snap.Exhausted() {
			score = 0
		}
	} else {
		score = unknownScore
	}

	usageScore := 100 - float64(c.account.UsageCount)/10
	if usageScore < 0 {
		usageScore = 0
	}
	score += usageWeight * usageScore

	if c.account.LastUsedAt != nil {
		idleMinutes := now.Sub(*c.account.LastUsedAt).Minutes()
		if idleMinutes < 0 {
			idleMinutes = 0
		}
		if idleMinutes > 100 {
			idleMinutes = 100
		}
		score += recencyWeight * idleMinutes
	} else {
		score += neverUsedBonus
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// rankCandidates orders by score descending, then usage count ascending,
// then last-used descending. The last tie-break deliberately prefers the
// most recently used account; never-used accounts sort after any used one.
func rankCandidates(candidates []*candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.account.UsageCount != b.account.UsageCount {
			return a.account.UsageCount < b.account.UsageCount
		}
		return lastUsed(a.account).After(lastUsed(b.account))
	})
}

func lastUsed(a *models.Account) time.Time {
	if a.LastUsedAt == nil {
		return time.Time{}
	}
	return *a.LastUsedAt
}
