package entstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/store"
)

// SyncErrorRepo implements store.SyncErrorRepository using database/sql.
type SyncErrorRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSyncErrorRepo returns a new SyncErrorRepo.
func NewSyncErrorRepo(db *sql.DB, clk clock.Clock) *SyncErrorRepo {
	return &SyncErrorRepo{db: db, clock: clk}
}

func (r *SyncErrorRepo) Append(ctx context.Context, e *store.SyncError) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.clock.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sync_errors (character_name, realm, category, source, url, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.CharacterName, e.Realm, e.Category, e.Source, e.URL, e.Message, e.OccurredAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending sync error: %w", err)
	}
	return nil
}

func (r *SyncErrorRepo) ListRecent(ctx context.Context, limit int) ([]store.SyncError, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, character_name, realm, category, source, url, message, occurred_at
		 FROM sync_errors ORDER BY occurred_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent sync errors: %w", err)
	}
	defer rows.Close()

	var errs []store.SyncError
	for rows.Next() {
		var e store.SyncError
		if err := rows.Scan(&e.ID, &e.CharacterName, &e.Realm, &e.Category, &e.Source, &e.URL, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning sync error row: %w", err)
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
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
