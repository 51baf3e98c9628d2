// Package aggregate merges per-character data from multiple providers
// into one canonical member profile.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/store"
)

// Result is the outcome of enriching one member. Failures lists provider
// errors that occurred even when a usable profile was still assembled
// from the other provider or the stored record.
type Result struct {
	Member   *store.Member
	Failures []error
}

// Aggregator resolves a member's best-available profile from an ordered
// list of providers: the primary first, the secondary both as fallback
// and for the fields the primary never supplies.
type Aggregator struct {
	primary   provider.ProfileClient
	secondary provider.ProfileClient
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New returns an Aggregator over the two providers.
func New(primary, secondary provider.ProfileClient, logger *slog.Logger, tp trace.TracerProvider) *Aggregator {
	return &Aggregator{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/guildsync/internal/aggregate"),
	}
}

// Enrich fetches both providers and merges their partial profiles onto
// the stored record. The merge is monotone: a field the fetches did not
// return keeps its stored value. Enrich returns an error only when every
// provider failed; the stored profile is then left untouched by the
// caller.
func (a *Aggregator) Enrich(ctx context.Context, entry provider.RosterEntry, prior *store.Member) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "Aggregator.Enrich",
		trace.WithAttributes(
			attribute.String("character", entry.Identity.Name),
			attribute.String("realm", entry.Identity.Realm),
		),
	)
	defer span.End()

	result := &Result{}

	primaryProfile, err := a.primary.CharacterProfile(ctx, entry)
	if err != nil {
		result.Failures = append(result.Failures, err)
		a.logger.WarnContext(ctx, "primary provider failed, falling back",
			slog.String("character", entry.Identity.String()),
			slog.String("source", a.primary.Source()),
			slog.Any("error", err),
		)
	}

	// The secondary is queried unconditionally: it owns ranked-ladder
	// and achievement data the primary never supplies, and covers the
	// primary's fields when that call failed.
	secondaryProfile, err := a.secondary.CharacterProfile(ctx, entry)
	if err != nil {
		result.Failures = append(result.Failures, err)
		a.logger.WarnContext(ctx, "secondary provider failed",
			slog.String("character", entry.Identity.String()),
			slog.String("source", a.secondary.Source()),
			slog.Any("error", err),
		)
	}

	if primaryProfile == nil && secondaryProfile == nil {
		// A client answering (nil, nil) is out of contract; treat it as a
		// failed provider rather than dereferencing the missing profile.
		if len(result.Failures) == 0 {
			return result, fmt.Errorf("no provider returned a profile for %s", entry.Identity)
		}
		return result, fmt.Errorf("all providers failed for %s: %w", entry.Identity, result.Failures[0])
	}

	merged := cloneMember(prior, entry)
	// Primary wins where both report a field; the secondary fills gaps.
	applyProfile(merged, secondaryProfile)
	applyProfile(merged, primaryProfile)
	result.Member = merged
	return result, nil
}

// cloneMember copies the stored record (or starts a fresh one) so the
// merge never mutates the caller's snapshot.
func cloneMember(prior *store.Member, entry provider.RosterEntry) *store.Member {
	if prior == nil {
		return &store.Member{
			CharacterName: entry.Identity.Name,
			Realm:         entry.Identity.Realm,
			Class:         entry.Class,
			Level:         entry.Level,
			LookupHandle:  entry.Handle,
		}
	}
	m := *prior
	m.BracketNames = append(pq.StringArray(nil), prior.BracketNames...)
	m.BracketRatings = append(pq.Int64Array(nil), prior.BracketRatings...)
	return &m
}

// applyProfile overlays the fields a provider actually returned.
func applyProfile(m *store.Member, p *provider.Profile) {
	if p == nil {
		return
	}
	if p.Class != nil {
		m.Class = *p.Class
	}
	if p.Level != nil {
		m.Level = *p.Level
	}
	if p.EquipmentScore != nil {
		m.EquipmentScore = *p.EquipmentScore
	}
	if p.MythicScore != nil {
		m.MythicScore = *p.MythicScore
		if p.MythicSeasonID != nil {
			m.MythicSeasonID = *p.MythicSeasonID
		}
	}
	if p.RaidProgress != nil {
		m.RaidProgress = *p.RaidProgress
	}
	if p.AchievementScore != nil {
		m.AchievementScore = *p.AchievementScore
	}
	if len(p.Brackets) > 0 {
		applyBrackets(m, p.Brackets)
	}
}

// applyBrackets merges fresh ranked ratings into the stored per-bracket
// set. Stored ratings are discarded only when the provider reports a new
// season identifier; rating magnitude is never used to judge staleness.
func applyBrackets(m *store.Member, fresh []provider.BracketRating) {
	season := fresh[0].SeasonID
	for _, b := range fresh[1:] {
		if b.SeasonID > season {
			season = b.SeasonID
		}
	}

	ratings := make(map[string]int64)
	if season == m.RatedSeasonID {
		// Same season: keep stored brackets the fetch did not cover.
		for i, name := range m.BracketNames {
			ratings[name] = m.BracketRatings[i]
		}
	}
	for _, b := range fresh {
		ratings[b.Bracket] = int64(b.Rating)
	}

	m.BracketNames = m.BracketNames[:0]
	m.BracketRatings = m.BracketRatings[:0]
	var summary int64
	for _, b := range orderedBrackets(ratings) {
		m.BracketNames = append(m.BracketNames, b)
		m.BracketRatings = append(m.BracketRatings, ratings[b])
		if ratings[b] > summary {
			summary = ratings[b]
		}
	}
	m.RatedSummary = int(summary)
	m.RatedSeasonID = season
}

func orderedBrackets(ratings map[string]int64) []string {
	names := make([]string, 0, len(ratings))
	for name := range ratings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
