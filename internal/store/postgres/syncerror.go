package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/store"
)

// SyncErrorRepo implements store.SyncErrorRepository with sqlx.
type SyncErrorRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewSyncErrorRepo returns a new SyncErrorRepo.
func NewSyncErrorRepo(db *sqlx.DB, clk clock.Clock) *SyncErrorRepo {
	return &SyncErrorRepo{db: db, clock: clk}
}

func (r *SyncErrorRepo) Append(ctx context.Context, e *store.SyncError) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.clock.Now().UTC()
	}
	query := `INSERT INTO sync_errors (character_name, realm, category, source, url, message, occurred_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		e.CharacterName, e.Realm, e.Category, e.Source, e.URL, e.Message, e.OccurredAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending sync error: %w", err)
	}
	return nil
}

func (r *SyncErrorRepo) ListRecent(ctx context.Context, limit int) ([]store.SyncError, error) {
	var errs []store.SyncError
	err := r.db.SelectContext(ctx, &errs,
		`SELECT * FROM sync_errors ORDER BY occurred_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent sync errors: %w", err)
	}
	return errs, nil
}

func (r *SyncErrorRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_errors WHERE occurred_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sync errors: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
