package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/jensholdgaard/guildsync/internal/activity"
	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/store"
	"github.com/jensholdgaard/guildsync/internal/store/postgres"
)

func TestMemberRepo_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMemberRepo(db, clock.Real{})
	ctx := context.Background()

	m := &store.Member{
		CharacterName: "Krabs",
		Realm:         "silvermoon",
		Class:         "Shaman",
		Level:         78,
		LookupHandle:  "https://api.example.com/character/silvermoon/krabs",
	}
	if err := repo.Upsert(ctx, m); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	// Second upsert with a new level must refresh in place, not duplicate.
	m2 := &store.Member{
		CharacterName: "Krabs",
		Realm:         "silvermoon",
		Class:         "Shaman",
		Level:         80,
		LookupHandle:  m.LookupHandle,
	}
	if err := repo.Upsert(ctx, m2); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	members, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("List returned %d members, want 1", len(members))
	}
	if members[0].Level != 80 {
		t.Errorf("level = %d, want 80 after refresh", members[0].Level)
	}
}

func TestMemberRepo_UpsertDoesNotTouchProfile(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMemberRepo(db, clock.Real{})
	ctx := context.Background()

	m := &store.Member{CharacterName: "Krabs", Realm: "silvermoon", Class: "Shaman", Level: 80}
	if err := repo.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	enriched := &store.Member{
		CharacterName:  "Krabs",
		Realm:          "silvermoon",
		EquipmentScore: 676,
		MythicScore:    2410.5,
		MythicSeasonID: 14,
		RatedSummary:   1800,
		BracketNames:   pq.StringArray{"2v2", "3v3"},
		BracketRatings: pq.Int64Array{1650, 1800},
	}
	if err := repo.UpdateProfile(ctx, enriched); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	// A later discovery upsert must not reset the enriched fields.
	if err := repo.Upsert(ctx, &store.Member{CharacterName: "Krabs", Realm: "silvermoon", Class: "Shaman", Level: 80}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := repo.Get(ctx, provider.Identity{Name: "Krabs", Realm: "silvermoon"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EquipmentScore != 676 {
		t.Errorf("equipment score = %v, want 676 preserved across upsert", got.EquipmentScore)
	}
	if got.MythicScore != 2410.5 {
		t.Errorf("mythic score = %v, want 2410.5 preserved", got.MythicScore)
	}
	if len(got.BracketNames) != 2 || got.BracketNames[1] != "3v3" {
		t.Errorf("bracket names = %v, want preserved", got.BracketNames)
	}
}

func TestMemberRepo_UpdateProfile_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMemberRepo(db, clock.Real{})

	err := repo.UpdateProfile(context.Background(), &store.Member{CharacterName: "Ghost", Realm: "nowhere"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want store.ErrNotFound", err)
	}
}

func TestMemberRepo_Get_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMemberRepo(db, clock.Real{})

	_, err := repo.Get(context.Background(), provider.Identity{Name: "Ghost", Realm: "nowhere"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want store.ErrNotFound", err)
	}
}

func TestMemberRepo_UpdateActivityAndListRecentlyActive(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	repo := postgres.NewMemberRepo(db, clock.Mock{T: now})
	ctx := context.Background()

	for _, name := range []string{"Fresh", "Stale", "Never"} {
		if err := repo.Upsert(ctx, &store.Member{CharacterName: name, Realm: "silvermoon"}); err != nil {
			t.Fatalf("Upsert(%s): %v", name, err)
		}
	}

	fresh := now.Add(-2 * 24 * time.Hour)
	stale := now.Add(-90 * 24 * time.Hour)
	updates := []store.ActivityUpdate{
		{Identity: provider.Identity{Name: "Fresh", Realm: "silvermoon"}, LastSeen: &fresh, Tier: activity.Active},
		{Identity: provider.Identity{Name: "Stale", Realm: "silvermoon"}, LastSeen: &stale, Tier: activity.Inactive},
		{Identity: provider.Identity{Name: "Never", Realm: "silvermoon"}, LastSeen: nil, Tier: activity.Unknown},
	}
	if err := repo.UpdateActivity(ctx, updates); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}

	active, err := repo.ListRecentlyActive(ctx, 21*24*time.Hour)
	if err != nil {
		t.Fatalf("ListRecentlyActive: %v", err)
	}
	if len(active) != 1 || active[0].CharacterName != "Fresh" {
		t.Fatalf("recently active = %+v, want only Fresh", active)
	}

	got, _ := repo.Get(ctx, provider.Identity{Name: "Never", Realm: "silvermoon"})
	if got.LastSeen.Valid {
		t.Error("Never should keep a NULL last_seen")
	}
	if got.ActivityTier != activity.Unknown {
		t.Errorf("tier = %q, want unknown", got.ActivityTier)
	}
}

func TestMemberRepo_Delete(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMemberRepo(db, clock.Real{})
	ctx := context.Background()

	for _, m := range []*store.Member{
		{CharacterName: "A", Realm: "realm1"},
		{CharacterName: "A", Realm: "realm2"},
		{CharacterName: "B", Realm: "realm1"},
	} {
		if err := repo.Upsert(ctx, m); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	// Deleting A-realm1 must not take A-realm2 with it.
	err := repo.Delete(ctx, []provider.Identity{{Name: "A", Realm: "realm1"}})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ids, err := repo.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("identities = %v, want 2 remaining", ids)
	}
	for _, id := range ids {
		if id.Name == "A" && id.Realm == "realm1" {
			t.Error("A-realm1 still present after delete")
		}
	}

	// Empty delete is a no-op, not an error.
	if err := repo.Delete(ctx, nil); err != nil {
		t.Fatalf("Delete(nil): %v", err)
	}
}
