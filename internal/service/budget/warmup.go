package budget

import "github.com/ignite/outreach/internal/domain"

// MinAcceptanceRate is the acceptance rate a sender must hold to advance
// a warmup day.
const MinAcceptanceRate = 0.20

// warmupTiers lists the limits for each week of the ramp. The last tier
// applies from its first day onwards.
var warmupTiers = []struct {
	fromDay int
	limits  domain.Limits
}{
	{fromDay: 22, limits: domain.Limits{Connections: 15, Messages: 30, ProfileViews: 50}},
	{fromDay: 15, limits: domain.Limits{Connections: 12, Messages: 25, ProfileViews: 40}},
	{fromDay: 8, limits: domain.Limits{Connections: 8, Messages: 15, ProfileViews: 25}},
	{fromDay: 0, limits: domain.Limits{Connections: 5, Messages: 10, ProfileViews: 15}},
}

// GetWarmupLimits returns the daily limits for a warmup day.
func GetWarmupLimits(day int) domain.Limits {
	for _, t := range warmupTiers {
		if day >= t.fromDay {
			return t.limits
		}
	}
	return warmupTiers[len(warmupTiers)-1].limits
}

// effectiveLimit applies the priority reservation to connects: below
// priority 1 only floor(limit * 0.8) may be used.
func effectiveLimit(t domain.ActionType, limit, priority int) int {
	if t != domain.ActionConnect || priority == domain.PriorityUrgent {
		return limit
	}
	return limit * 8 / 10
}
