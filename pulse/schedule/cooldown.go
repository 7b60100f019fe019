// Package schedule decides which tracked companies are due for a re-scrape
// and enqueues at most one active job per company.
package schedule

import "time"

// cooldownTiers are evaluated top-down; the first tier whose floor the rank
// reaches wins.
var cooldownTiers = []struct {
	minRank int
	hours   int
}{
	{95, 12},
	{85, 24},
	{70, 48},
	{50, 168},
}

// fallbackCooldownHours applies below the lowest tier
const fallbackCooldownHours = 336

// CooldownHours returns the minimum hours between successful scrapes of a
// company tracked at rank. Ranks outside 0-100 fall into the nearest tier.
func CooldownHours(rank int) int {
	for _, tier := range cooldownTiers {
		if rank >= tier.minRank {
			return tier.hours
		}
	}
	return fallbackCooldownHours
}

// CooldownFor is CooldownHours as a duration
func CooldownFor(rank int) time.Duration {
	return time.Duration(CooldownHours(rank)) * time.Hour
}
