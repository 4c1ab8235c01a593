// Package postgres provides the Postgres store driver ("postgres") built on
// sqlx with OTEL instrumentation. Compare-and-append is serialized per
// stream with a transaction-scoped advisory lock; the unique index on
// (stream_id, sequence) is the backstop that turns any racing write into a
// concurrency conflict rather than a gap or duplicate.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/lucabriguglia/Memoria-sub001/internal/clock"
	"github.com/lucabriguglia/Memoria-sub001/internal/config"
	"github.com/lucabriguglia/Memoria-sub001/internal/store"
)

func init() {
	store.Register("postgres", openPostgres)
}

// openPostgres is the store.Driver for the "postgres" backend.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Stores, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStores(db, clk), nil
}

// NewStores bundles the Postgres contract implementations over an open
// connection. Exposed separately from the driver so tests can supply their
// own *sqlx.DB.
func NewStores(db *sqlx.DB, clk clock.Clock) *store.Stores {
	return &store.Stores{
		Events:    NewEventStore(db),
		Snapshots: NewSnapshotStore(db, clk),
		InTx: func(ctx context.Context, fn store.TxFunc) error {
			tx, err := db.BeginTxx(ctx, nil)
			if err != nil {
				return fmt.Errorf("beginning transaction: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			if err := fn(newTxEventStore(tx), newTxSnapshotStore(tx, clk)); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("committing transaction: %w", err)
			}
			return nil
		},
		Closer: db,
		Ping:   db.PingContext,
	}
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
