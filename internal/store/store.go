package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/jensholdgaard/guildsync/internal/activity"
	"github.com/jensholdgaard/guildsync/internal/provider"
)

// ErrNotFound is returned by Get when no member row exists.
var ErrNotFound = errors.New("member not found")

// Member is the persisted snapshot of one guild member. A row exists iff
// the character appeared in the most recent roster discovery. Fields are
// refreshed monotonically: a failed enrichment never reverts previously
// known values.
type Member struct {
	CharacterName string `db:"character_name"`
	Realm         string `db:"realm"`
	Class         string `db:"class"`
	Level         int    `db:"level"`
	// LookupHandle is the provider-supplied canonical reference used for
	// all per-character calls.
	LookupHandle string `db:"lookup_handle"`

	EquipmentScore   float64        `db:"equipment_score"`
	MythicScore      float64        `db:"mythic_score"`
	MythicSeasonID   int            `db:"mythic_season_id"`
	RaidProgress     string         `db:"raid_progress"`
	AchievementScore int            `db:"achievement_score"`
	// RatedSummary is the maximum rating across ranked brackets.
	RatedSummary  int           `db:"rated_summary"`
	RatedSeasonID int           `db:"rated_season_id"`
	// BracketRatings holds per-bracket ratings aligned with BracketNames.
	BracketNames   pq.StringArray `db:"bracket_names"`
	BracketRatings pq.Int64Array  `db:"bracket_ratings"`

	LastSeen     sql.NullTime  `db:"last_seen"`
	ActivityTier activity.Tier `db:"activity_tier"`

	ReconciledAt sql.NullTime `db:"reconciled_at"`
	EnrichedAt   sql.NullTime `db:"enriched_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// Identity returns the member's unique key.
func (m *Member) Identity() provider.Identity {
	return provider.Identity{Name: m.CharacterName, Realm: m.Realm}
}

// SyncError is one append-only fetch failure record.
type SyncError struct {
	ID            int64                  `db:"id"`
	CharacterName string                 `db:"character_name"`
	Realm         string                 `db:"realm"`
	Category      provider.ErrorCategory `db:"category"`
	Source        string                 `db:"source"`
	URL           string                 `db:"url"`
	Message       string                 `db:"message"`
	OccurredAt    time.Time              `db:"occurred_at"`
}

// ActivityUpdate carries the discovery tier's per-member result.
type ActivityUpdate struct {
	Identity provider.Identity
	LastSeen *time.Time
	Tier     activity.Tier
}

// MemberRepository defines member persistence operations. Upserts are
// idempotent, keyed by (character_name, realm).
type MemberRepository interface {
	// Upsert creates the member or refreshes identity fields (class,
	// level, lookup handle, reconciliation time). Performance fields of
	// an existing row are left untouched.
	Upsert(ctx context.Context, m *Member) error
	// UpdateProfile overwrites the performance fields of an existing
	// member with an already-merged snapshot.
	UpdateProfile(ctx context.Context, m *Member) error
	// UpdateActivity bulk-applies last-seen timestamps and tiers.
	UpdateActivity(ctx context.Context, updates []ActivityUpdate) error
	Get(ctx context.Context, id provider.Identity) (*Member, error)
	List(ctx context.Context) ([]Member, error)
	// ListIdentities returns the identity keys of every stored member.
	ListIdentities(ctx context.Context) ([]provider.Identity, error)
	// ListRecentlyActive returns members last seen within the window,
	// the enrichment tier's working set.
	ListRecentlyActive(ctx context.Context, window time.Duration) ([]Member, error)
	Delete(ctx context.Context, ids []provider.Identity) error
}

// SyncErrorRepository defines the append-only error sink.
type SyncErrorRepository interface {
	Append(ctx context.Context, e *SyncError) error
	ListRecent(ctx context.Context, limit int) ([]SyncError, error)
	// Prune deletes records older than the cutoff and reports the count.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
