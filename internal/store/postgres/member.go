package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/store"
)

// MemberRepo implements store.MemberRepository with sqlx.
type MemberRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewMemberRepo returns a new MemberRepo.
func NewMemberRepo(db *sqlx.DB, clk clock.Clock) *MemberRepo {
	return &MemberRepo{db: db, clock: clk}
}

func (r *MemberRepo) Upsert(ctx context.Context, m *store.Member) error {
	now := r.clock.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.ReconciledAt = sql.NullTime{Time: now, Valid: true}
	if m.ActivityTier == "" {
		m.ActivityTier = "unknown"
	}

	// Identity discovery only refreshes identity fields; performance
	// fields of an existing row are deliberately not listed in the
	// conflict update.
	query := `INSERT INTO members (
	            character_name, realm, class, level, lookup_handle,
	            activity_tier, reconciled_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	          ON CONFLICT (character_name, realm) DO UPDATE SET
	            class = EXCLUDED.class,
	            level = EXCLUDED.level,
	            lookup_handle = EXCLUDED.lookup_handle,
	            reconciled_at = EXCLUDED.reconciled_at,
	            updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		m.CharacterName, m.Realm, m.Class, m.Level, m.LookupHandle,
		m.ActivityTier, m.ReconciledAt, now,
	)
	if err != nil {
		return fmt.Errorf("upserting member %s: %w", m.Identity(), err)
	}
	return nil
}

func (r *MemberRepo) UpdateProfile(ctx context.Context, m *store.Member) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET
		   equipment_score = $1, mythic_score = $2, mythic_season_id = $3,
		   raid_progress = $4, achievement_score = $5,
		   rated_summary = $6, rated_season_id = $7,
		   bracket_names = $8, bracket_ratings = $9,
		   enriched_at = $10, updated_at = $10
		 WHERE character_name = $11 AND realm = $12`,
		m.EquipmentScore, m.MythicScore, m.MythicSeasonID,
		m.RaidProgress, m.AchievementScore,
		m.RatedSummary, m.RatedSeasonID,
		m.BracketNames, m.BracketRatings,
		now, m.CharacterName, m.Realm,
	)
	if err != nil {
		return fmt.Errorf("updating profile for %s: %w", m.Identity(), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("updating profile for %s: %w", m.Identity(), store.ErrNotFound)
	}
	return nil
}

func (r *MemberRepo) UpdateActivity(ctx context.Context, updates []store.ActivityUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx,
		`UPDATE members SET last_seen = $1, activity_tier = $2, updated_at = $3
		 WHERE character_name = $4 AND realm = $5`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := r.clock.Now().UTC()
	for _, u := range updates {
		var lastSeen sql.NullTime
		if u.LastSeen != nil {
			lastSeen = sql.NullTime{Time: u.LastSeen.UTC(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, lastSeen, u.Tier, now, u.Identity.Name, u.Identity.Realm); err != nil {
			return fmt.Errorf("updating activity for %s: %w", u.Identity, err)
		}
	}

	return tx.Commit()
}

func (r *MemberRepo) Get(ctx context.Context, id provider.Identity) (*store.Member, error) {
	var m store.Member
	err := r.db.GetContext(ctx, &m,
		`SELECT * FROM members WHERE character_name = $1 AND realm = $2`, id.Name, id.Realm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting member %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting member %s: %w", id, err)
	}
	return &m, nil
}

func (r *MemberRepo) List(ctx context.Context) ([]store.Member, error) {
	var members []store.Member
	err := r.db.SelectContext(ctx, &members,
		`SELECT * FROM members ORDER BY character_name, realm`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

func (r *MemberRepo) ListIdentities(ctx context.Context) ([]provider.Identity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT character_name, realm FROM members`)
	if err != nil {
		return nil, fmt.Errorf("listing member identities: %w", err)
	}
	defer rows.Close()

	var ids []provider.Identity
	for rows.Next() {
		var id provider.Identity
		if err := rows.Scan(&id.Name, &id.Realm); err != nil {
			return nil, fmt.Errorf("scanning member identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MemberRepo) ListRecentlyActive(ctx context.Context, window time.Duration) ([]store.Member, error) {
	cutoff := r.clock.Now().UTC().Add(-window)
	var members []store.Member
	err := r.db.SelectContext(ctx, &members,
		`SELECT * FROM members WHERE last_seen IS NOT NULL AND last_seen >= $1
		 ORDER BY last_seen DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing recently active members: %w", err)
	}
	return members, nil
}

func (r *MemberRepo) Delete(ctx context.Context, ids []provider.Identity) error {
	if len(ids) == 0 {
		return nil
	}

	names := make(pq.StringArray, len(ids))
	realms := make(pq.StringArray, len(ids))
	for i, id := range ids {
		names[i] = id.Name
		realms[i] = id.Realm
	}

	// Delete rows whose (name, realm) pair matches positionally.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM members
		 WHERE (character_name, realm) IN (
		   SELECT unnest($1::text[]), unnest($2::text[])
		 )`, names, realms)
	if err != nil {
		return fmt.Errorf("deleting %d members: %w", len(ids), err)
	}
	return nil
}
