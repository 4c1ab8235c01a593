package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lucabriguglia/Memoria-sub001/internal/clock"
	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
)

// SnapshotStore implements store.SnapshotStore backed by Postgres.
type SnapshotStore struct {
	db  *sqlx.DB
	tx  *sqlx.Tx
	clk clock.Clock
}

// NewSnapshotStore returns a new SnapshotStore over db.
func NewSnapshotStore(db *sqlx.DB, clk clock.Clock) *SnapshotStore {
	return &SnapshotStore{db: db, clk: clk}
}

func newTxSnapshotStore(tx *sqlx.Tx, clk clock.Clock) *SnapshotStore {
	return &SnapshotStore{tx: tx, clk: clk}
}

func (s *SnapshotStore) ext() sqlx.ExtContext {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *SnapshotStore) Get(ctx context.Context, aggregateStoreID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := sqlx.GetContext(ctx, s.ext(), &snap,
		`SELECT aggregate_store_id, stream_id, type_key, version, latest_event_sequence,
		        state, created_at, created_by, updated_at
		 FROM aggregate_snapshots WHERE aggregate_store_id = $1`, aggregateStoreID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStore) Put(ctx context.Context, snap *domain.Snapshot, links []domain.EventLink) error {
	now := s.clk.Now().UTC()
	_, err := s.ext().ExecContext(ctx,
		`INSERT INTO aggregate_snapshots
		   (aggregate_store_id, stream_id, type_key, version, latest_event_sequence,
		    state, created_at, created_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7)
		 ON CONFLICT (aggregate_store_id) DO UPDATE SET
		   version = EXCLUDED.version,
		   latest_event_sequence = EXCLUDED.latest_event_sequence,
		   state = EXCLUDED.state,
		   updated_at = EXCLUDED.updated_at`,
		snap.AggregateStoreID, snap.StreamID, snap.TypeKey, snap.Version,
		snap.LatestEventSequence, []byte(snap.State), now, snap.CreatedBy)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}

	for _, l := range links {
		if _, err := s.ext().ExecContext(ctx,
			`INSERT INTO aggregate_event_links (aggregate_store_id, event_id, applied_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (aggregate_store_id, event_id) DO NOTHING`,
			l.AggregateStoreID, l.EventID, l.AppliedAt); err != nil {
			return fmt.Errorf("inserting event link (%s): %w", l.JoinKey(), err)
		}
	}
	return nil
}

func (s *SnapshotStore) GetLinks(ctx context.Context, aggregateStoreID string) ([]domain.EventLink, error) {
	var links []domain.EventLink
	err := sqlx.SelectContext(ctx, s.ext(), &links,
		`SELECT aggregate_store_id, event_id, applied_at
		 FROM aggregate_event_links WHERE aggregate_store_id = $1
		 ORDER BY applied_at ASC, event_id ASC`, aggregateStoreID)
	if err != nil {
		return nil, fmt.Errorf("loading event links: %w", err)
	}
	return links, nil
}
