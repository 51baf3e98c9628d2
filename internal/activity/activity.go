// Package activity classifies members by recency of their last-seen
// timestamp. Pure functions only; the tier is always derived from the
// timestamp, never stored independently of it.
package activity

import "time"

// Tier is a member's activity classification.
type Tier string

const (
	// Unknown: the provider has no last-seen record for the member.
	Unknown Tier = "unknown"
	// Active: last seen within the configured window.
	Active Tier = "active"
	// Inactive: last seen, but outside the window.
	Inactive Tier = "inactive"
)

// Classify buckets a last-seen timestamp relative to now. A nil timestamp
// is Unknown. Exactly at the window boundary counts as Active.
func Classify(lastSeen *time.Time, now time.Time, window time.Duration) Tier {
	if lastSeen == nil {
		return Unknown
	}
	if now.Sub(*lastSeen) <= window {
		return Active
	}
	return Inactive
}
