// Package provider defines the records and error taxonomy shared by the
// external data source clients.
package provider

import (
	"context"
	"time"
)

// Identity is the unique key for a character: name plus home realm. Guild
// members may live on different federated realms, so the realm is part of
// the key, never an attribute.
type Identity struct {
	Name  string
	Realm string
}

// String renders the identity as name-realm for logs and error records.
func (id Identity) String() string { return id.Name + "-" + id.Realm }

// RosterEntry is one member as reported by the roster endpoint.
type RosterEntry struct {
	Identity Identity
	Level    int
	Class    string
	// Handle is the provider-supplied canonical lookup reference for this
	// character. All per-character calls must use it: reconstructing URLs
	// from name and realm silently resolves to the wrong character for
	// members on federated realms.
	Handle string
}

// BracketRating is a single ranked-ladder rating with its season.
type BracketRating struct {
	Bracket  string
	Rating   int
	SeasonID int
}

// Profile is a partial view of a character. Every field is optional;
// different providers expose disjoint subsets, and absence means "this
// provider did not report the field", never "the field is zero".
type Profile struct {
	Class            *string
	Level            *int
	EquipmentScore   *float64
	MythicScore      *float64
	MythicSeasonID   *int
	RaidProgress     *string
	AchievementScore *int
	Brackets         []BracketRating
	LastSeen         *time.Time
}

// RosterClient fetches the authoritative member list.
type RosterClient interface {
	GuildRoster(ctx context.Context) ([]RosterEntry, error)
}

// ProfileClient fetches per-character performance data.
type ProfileClient interface {
	// Source identifies the provider in error records and rate limiting.
	Source() string
	// CharacterProfile returns the partial profile this provider exposes.
	// A nil error implies a non-nil profile, even an all-absent one.
	CharacterProfile(ctx context.Context, entry RosterEntry) (*Profile, error)
}

// LastSeenClient fetches the last-login timestamp for a character. A nil
// time with a nil error means the provider has no record; that is the
// "unknown" activity case, not a failure.
type LastSeenClient interface {
	LastSeen(ctx context.Context, entry RosterEntry) (*time.Time, error)
}
