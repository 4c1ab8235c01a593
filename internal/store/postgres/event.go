package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
	"github.com/lucabriguglia/Memoria-sub001/internal/store"
)

// uniqueViolation is the Postgres error code raised when a racing writer
// inserted the same (stream_id, sequence) first.
const uniqueViolation = "23505"

// EventStore implements store.EventStore backed by Postgres. When
// constructed with newTxEventStore its operations run on the enclosing
// transaction instead of opening their own.
type EventStore struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

// NewEventStore returns a new EventStore over db.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

func newTxEventStore(tx *sqlx.Tx) *EventStore {
	return &EventStore{tx: tx}
}

// ext returns the active query target: the enclosing transaction if any,
// otherwise the connection pool.
func (s *EventStore) ext() sqlx.ExtContext {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *EventStore) Append(ctx context.Context, streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error) {
	if len(events) == 0 {
		return 0, store.ErrNoEvents
	}
	if s.tx != nil {
		return appendInTx(ctx, s.tx, streamID, events, expectedSeq)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := appendInTx(ctx, tx, streamID, events, expectedSeq)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return latest, nil
}

func appendInTx(ctx context.Context, tx *sqlx.Tx, streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error) {
	// Serialize concurrent appenders to the same stream for the duration of
	// the transaction. Appends to other streams proceed in parallel.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, streamID); err != nil {
		return 0, fmt.Errorf("acquiring stream lock: %w", err)
	}

	var actual int64
	if err := tx.GetContext(ctx, &actual,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream_id = $1`, streamID); err != nil {
		return 0, fmt.Errorf("reading latest sequence: %w", err)
	}
	if actual != expectedSeq {
		return 0, &store.ConflictError{StreamID: streamID, Expected: expectedSeq, Actual: actual}
	}

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO events (id, stream_id, sequence, type_key, payload, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	// A unique violation aborts the transaction, so guard the batch with a
	// savepoint: after rolling back to it we can still query the stream head
	// for accurate conflict diagnostics.
	if _, err := tx.ExecContext(ctx, `SAVEPOINT append_batch`); err != nil {
		return 0, fmt.Errorf("creating savepoint: %w", err)
	}

	seq := expectedSeq
	for _, e := range events {
		seq++
		if _, err := stmt.ExecContext(ctx, e.ID, streamID, seq, e.TypeKey, []byte(e.Payload), e.CreatedAt, e.CreatedBy); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return 0, conflictAfterViolation(ctx, tx, streamID, expectedSeq, seq)
			}
			return 0, fmt.Errorf("inserting event (stream=%s, sequence=%d): %w", streamID, seq, err)
		}
	}
	return seq, nil
}

// conflictAfterViolation builds the conflict report for a racing write that
// slipped past the advisory lock. It rolls the batch back to the savepoint
// and re-reads the stream head; if that fails, the colliding sequence is the
// best lower bound available.
func conflictAfterViolation(ctx context.Context, tx *sqlx.Tx, streamID string, expectedSeq, collidedSeq int64) error {
	actual := collidedSeq
	if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT append_batch`); err == nil {
		var head int64
		if err := tx.GetContext(ctx, &head,
			`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream_id = $1`, streamID); err == nil {
			actual = head
		}
	}
	return &store.ConflictError{StreamID: streamID, Expected: expectedSeq, Actual: actual}
}

func (s *EventStore) ReadRange(ctx context.Context, streamID string, upTo int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	return s.read(ctx,
		`SELECT id, stream_id, sequence, type_key, payload, created_at, created_by
		 FROM events WHERE stream_id = $1 AND sequence <= $2`,
		streamID, upTo, types)
}

func (s *EventStore) ReadAfter(ctx context.Context, streamID string, after int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	return s.read(ctx,
		`SELECT id, stream_id, sequence, type_key, payload, created_at, created_by
		 FROM events WHERE stream_id = $1 AND sequence > $2`,
		streamID, after, types)
}

func (s *EventStore) read(ctx context.Context, query, streamID string, bound int64, types []domain.TypeKey) ([]domain.EventRecord, error) {
	args := []any{streamID, bound}
	if len(types) > 0 {
		keys := make([]string, len(types))
		for i, t := range types {
			keys[i] = string(t)
		}
		query += ` AND type_key = ANY($3)`
		args = append(args, pq.Array(keys))
	}
	query += ` ORDER BY sequence ASC`

	var events []domain.EventRecord
	if err := sqlx.SelectContext(ctx, s.ext(), &events, query, args...); err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *EventStore) LatestSequence(ctx context.Context, streamID string) (int64, error) {
	var latest int64
	err := sqlx.GetContext(ctx, s.ext(), &latest,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream_id = $1`, streamID)
	if err != nil {
		return 0, fmt.Errorf("reading latest sequence: %w", err)
	}
	return latest, nil
}
