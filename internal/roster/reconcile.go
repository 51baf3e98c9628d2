// Package roster diffs a freshly fetched guild roster against the
// persisted membership to detect joins and departures.
package roster

import "github.com/jensholdgaard/guildsync/internal/provider"

// Diff is the result of reconciling a fresh roster against stored members.
type Diff struct {
	// Joined are roster entries with no stored member row.
	Joined []provider.RosterEntry
	// Departed are stored identities absent from the fresh roster.
	Departed []provider.Identity
}

// Reconcile computes the membership diff by identity key. It is a pure
// set difference: members present on both sides are untouched, and no
// performance fields are involved at all.
func Reconcile(fresh []provider.RosterEntry, persisted []provider.Identity) Diff {
	known := make(map[provider.Identity]struct{}, len(persisted))
	for _, id := range persisted {
		known[id] = struct{}{}
	}

	current := make(map[provider.Identity]struct{}, len(fresh))
	var diff Diff
	for _, entry := range fresh {
		current[entry.Identity] = struct{}{}
		if _, ok := known[entry.Identity]; !ok {
			diff.Joined = append(diff.Joined, entry)
		}
	}

	for _, id := range persisted {
		if _, ok := current[id]; !ok {
			diff.Departed = append(diff.Departed, id)
		}
	}
	return diff
}
