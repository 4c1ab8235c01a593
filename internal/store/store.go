// Package store defines the storage contracts any backend must satisfy and a
// driver registry for selecting a backend from configuration. Backends only
// implement the narrow EventStore and SnapshotStore contracts; all read-mode
// and ledger orchestration lives in the service package.
package store

import (
	"context"
	"io"

	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
)

// EventStore is the append and range-read contract over a stream's ordered
// events.
type EventStore interface {
	// Append persists the batch atomically, assigning sequential numbers
	// starting at expectedSeq+1, and returns the new latest sequence. It
	// fails with a *ConflictError if the stream's current latest sequence
	// differs from expectedSeq.
	Append(ctx context.Context, streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error)

	// ReadRange returns events with sequence <= upTo, ascending, optionally
	// restricted to the given type keys.
	ReadRange(ctx context.Context, streamID string, upTo int64, types ...domain.TypeKey) ([]domain.EventRecord, error)

	// ReadAfter returns events with sequence strictly greater than after,
	// ascending, optionally restricted to the given type keys.
	ReadAfter(ctx context.Context, streamID string, after int64, types ...domain.TypeKey) ([]domain.EventRecord, error)

	// LatestSequence returns the stream's current latest sequence, 0 for a
	// stream with no events.
	LatestSequence(ctx context.Context, streamID string) (int64, error)
}

// SnapshotStore is the get/put contract for aggregate snapshots and their
// applied-events ledger.
type SnapshotStore interface {
	// Get returns the snapshot for the given aggregate store id, or
	// (nil, nil) when none exists. Absence is a valid outcome, not an error.
	Get(ctx context.Context, aggregateStoreID string) (*domain.Snapshot, error)

	// Put upserts the snapshot and appends ledger rows for newly applied
	// events in one atomic operation.
	Put(ctx context.Context, snap *domain.Snapshot, links []domain.EventLink) error

	// GetLinks returns the ledger for the given aggregate store id in
	// applied order.
	GetLinks(ctx context.Context, aggregateStoreID string) ([]domain.EventLink, error)
}

// TxFunc runs inside one backend transaction against tx-scoped stores.
type TxFunc func(events EventStore, snapshots SnapshotStore) error

// Stores groups the contract implementations returned by a store driver.
type Stores struct {
	Events    EventStore
	Snapshots SnapshotStore

	// InTx runs fn so that every store call inside it commits atomically or
	// not at all. A cancelled or failed unit is indistinguishable from one
	// that never ran.
	InTx func(ctx context.Context, fn TxFunc) error

	// Closer releases underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
