// Package service implements the domain service: the single orchestration
// layer over the event and snapshot store contracts. It resolves read modes,
// performs the optimistic concurrency check, applies events selectively
// through each aggregate's type filter and maintains the applied-events
// ledger. Backends implement only the narrow store contracts; everything
// here is backend-agnostic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucabriguglia/Memoria-sub001/internal/audit"
	"github.com/lucabriguglia/Memoria-sub001/internal/clock"
	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
	"github.com/lucabriguglia/Memoria-sub001/internal/registry"
	"github.com/lucabriguglia/Memoria-sub001/internal/store"
)

// AppliedEvent is a ledger row hydrated with its event record for
// audit/debugging. Record is nil if the event is no longer readable.
type AppliedEvent struct {
	Link   domain.EventLink
	Record *domain.EventRecord
}

// Service orchestrates reads and writes of event-sourced aggregates.
type Service struct {
	stores   *store.Stores
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	clk      clock.Clock
	identity audit.Identity
}

// New returns a Service. The registry must be fully populated before the
// first call; it is treated as read-only from here on.
func New(stores *store.Stores, reg *registry.Registry, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, identity audit.Identity) *Service {
	if identity == nil {
		identity = audit.System
	}
	return &Service{
		stores:   stores,
		registry: reg,
		logger:   logger,
		tracer:   tp.Tracer("github.com/lucabriguglia/Memoria-sub001/internal/service"),
		clk:      clk,
		identity: identity,
	}
}

// SaveEvents appends the given event payloads to the stream under the
// optimistic compare-and-append check and returns the new latest sequence.
func (s *Service) SaveEvents(ctx context.Context, streamID string, payloads []any, expectedSeq int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "Service.SaveEvents",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.Int64("stream.expected_sequence", expectedSeq),
			attribute.Int("events.count", len(payloads)),
		),
	)
	defer span.End()

	recs, err := s.makeRecords(ctx, streamID, payloads)
	if err != nil {
		return 0, err
	}

	latest, err := s.stores.Events.Append(ctx, streamID, recs, expectedSeq)
	if err != nil {
		s.reportAppendFailure(ctx, span, streamID, err)
		return 0, fmt.Errorf("appending events: %w", err)
	}

	s.logger.InfoContext(ctx, "events appended",
		slog.String("stream_id", streamID),
		slog.Int("count", len(recs)),
		slog.Int64("latest_sequence", latest),
	)
	return latest, nil
}

// SaveAggregate appends the aggregate's uncommitted events, upserts its
// snapshot and records one ledger row per event that actually changed state,
// all as one atomic unit. The concurrency check runs before any write. On
// success the uncommitted buffer is cleared.
func (s *Service) SaveAggregate(ctx context.Context, streamID, aggregateID string, agg domain.Aggregate, expectedSeq int64) error {
	ctx, span := s.tracer.Start(ctx, "Service.SaveAggregate",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("aggregate.id", aggregateID),
			attribute.Int64("stream.expected_sequence", expectedSeq),
		),
	)
	defer span.End()

	key, state, err := s.registry.EncodeAggregate(agg)
	if err != nil {
		return err
	}
	storeID := domain.AggregateStoreID(aggregateID, key)
	root := agg.Root()
	pending := root.Uncommitted()

	payloads := make([]any, len(pending))
	for i, p := range pending {
		payloads[i] = p.Payload
	}
	recs, err := s.makeRecords(ctx, streamID, payloads)
	if err != nil {
		return err
	}

	links := make([]domain.EventLink, 0, len(recs))
	for i, p := range pending {
		if p.Applied {
			links = append(links, domain.EventLink{
				AggregateStoreID: storeID,
				EventID:          recs[i].ID,
				AppliedAt:        s.clk.Now().UTC(),
			})
		}
	}

	var latest int64
	err = s.stores.InTx(ctx, func(es store.EventStore, ss store.SnapshotStore) error {
		var txErr error
		if len(recs) > 0 {
			latest, txErr = es.Append(ctx, streamID, recs, expectedSeq)
			if txErr != nil {
				return txErr
			}
		} else {
			latest, txErr = s.checkSequence(ctx, es, streamID, expectedSeq)
			if txErr != nil {
				return txErr
			}
		}
		return ss.Put(ctx, &domain.Snapshot{
			AggregateStoreID:    storeID,
			StreamID:            streamID,
			TypeKey:             key,
			Version:             root.Version(),
			LatestEventSequence: latest,
			State:               state,
			CreatedBy:           s.identity.Actor(ctx),
		}, links)
	})
	if err != nil {
		s.reportAppendFailure(ctx, span, streamID, err)
		return fmt.Errorf("saving aggregate %s: %w", storeID, err)
	}

	root.ClearUncommitted()
	root.AdvanceSequence(latest)

	s.logger.InfoContext(ctx, "aggregate saved",
		slog.String("stream_id", streamID),
		slog.String("aggregate_store_id", storeID),
		slog.Int64("version", root.Version()),
		slog.Int64("latest_sequence", latest),
		slog.Int("links", len(links)),
	)
	return nil
}

// GetAggregate resolves an aggregate under the given read mode. It returns
// (nil, nil) when the aggregate does not logically exist (no snapshot with
// Version >= 1 and, for the replaying modes, no accepted events). Reads are
// side-effect free: nothing is persisted.
func (s *Service) GetAggregate(ctx context.Context, streamID, aggregateID string, aggType domain.TypeKey, mode ReadMode) (domain.Aggregate, error) {
	ctx, span := s.tracer.Start(ctx, "Service.GetAggregate",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggType.String()),
			attribute.String("read.mode", mode.String()),
		),
	)
	defer span.End()

	storeID := domain.AggregateStoreID(aggregateID, aggType)
	snap, err := s.stores.Snapshots.Get(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", storeID, err)
	}

	switch mode {
	case SnapshotOnly:
		if !snap.Exists() {
			return nil, nil
		}
		return s.hydrate(snap)

	case SnapshotOrCreate:
		if snap.Exists() {
			return s.hydrate(snap)
		}
		agg, _, err := s.rebuild(ctx, streamID, aggType, nil)
		if err != nil {
			return nil, err
		}
		if agg.Root().Version() < 1 {
			return nil, nil
		}
		return agg, nil

	case SnapshotWithNewEvents:
		var base *domain.Snapshot
		if snap.Exists() {
			base = snap
		}
		agg, _, err := s.rebuild(ctx, streamID, aggType, base)
		if err != nil {
			return nil, err
		}
		if agg.Root().Version() < 1 {
			return nil, nil
		}
		return agg, nil

	default:
		return nil, fmt.Errorf("unknown read mode %d", mode)
	}
}

// UpdateAggregate catches the aggregate up with its stream and commits the
// result: it resolves state like SnapshotWithNewEvents, then persists the
// refreshed snapshot plus ledger rows for the newly applied events, guarded
// by a compare on the sequence it observed. Returns (nil, nil) if the
// aggregate does not logically exist; nothing is persisted in that case.
func (s *Service) UpdateAggregate(ctx context.Context, streamID, aggregateID string, aggType domain.TypeKey) (domain.Aggregate, error) {
	ctx, span := s.tracer.Start(ctx, "Service.UpdateAggregate",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggType.String()),
		),
	)
	defer span.End()

	storeID := domain.AggregateStoreID(aggregateID, aggType)
	snap, err := s.stores.Snapshots.Get(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", storeID, err)
	}
	var base *domain.Snapshot
	if snap.Exists() {
		base = snap
	}

	agg, appliedIDs, err := s.rebuild(ctx, streamID, aggType, base)
	if err != nil {
		return nil, err
	}
	root := agg.Root()
	if root.Version() < 1 {
		return nil, nil
	}

	key, state, err := s.registry.EncodeAggregate(agg)
	if err != nil {
		return nil, err
	}

	links := make([]domain.EventLink, 0, len(appliedIDs))
	for _, id := range appliedIDs {
		links = append(links, domain.EventLink{
			AggregateStoreID: storeID,
			EventID:          id,
			AppliedAt:        s.clk.Now().UTC(),
		})
	}

	// The aggregate's own view of the stream is the expected sequence: if a
	// writer slipped in after the replay read, the commit must fail.
	expected := root.LatestEventSequence()
	err = s.stores.InTx(ctx, func(es store.EventStore, ss store.SnapshotStore) error {
		if _, txErr := s.checkSequence(ctx, es, streamID, expected); txErr != nil {
			return txErr
		}
		return ss.Put(ctx, &domain.Snapshot{
			AggregateStoreID:    storeID,
			StreamID:            streamID,
			TypeKey:             key,
			Version:             root.Version(),
			LatestEventSequence: expected,
			State:               state,
			CreatedBy:           s.identity.Actor(ctx),
		}, links)
	})
	if err != nil {
		s.reportAppendFailure(ctx, span, streamID, err)
		return nil, fmt.Errorf("updating aggregate %s: %w", storeID, err)
	}

	s.logger.InfoContext(ctx, "aggregate updated",
		slog.String("stream_id", streamID),
		slog.String("aggregate_store_id", storeID),
		slog.Int64("version", root.Version()),
		slog.Int64("latest_sequence", expected),
		slog.Int("links", len(links)),
	)
	return agg, nil
}

// GetEventsAppliedToAggregate returns the ledger for the aggregate, each row
// hydrated with its event record: exactly which events, by identity,
// contributed to the aggregate's current version.
func (s *Service) GetEventsAppliedToAggregate(ctx context.Context, streamID, aggregateID string, aggType domain.TypeKey) ([]AppliedEvent, error) {
	ctx, span := s.tracer.Start(ctx, "Service.GetEventsAppliedToAggregate",
		trace.WithAttributes(
			attribute.String("stream.id", streamID),
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	storeID := domain.AggregateStoreID(aggregateID, aggType)
	links, err := s.stores.Snapshots.GetLinks(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("loading ledger %s: %w", storeID, err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	latest, err := s.stores.Events.LatestSequence(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("reading latest sequence: %w", err)
	}
	recs, err := s.stores.Events.ReadRange(ctx, streamID, latest)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	byID := make(map[string]*domain.EventRecord, len(recs))
	for i := range recs {
		byID[recs[i].ID] = &recs[i]
	}

	out := make([]AppliedEvent, len(links))
	for i, l := range links {
		out[i] = AppliedEvent{Link: l, Record: byID[l.EventID]}
	}
	return out, nil
}

// rebuild hydrates an aggregate from base (or instantiates a fresh one) and
// replays all stream events past its latest sequence through the type
// filter. Returns the aggregate and the IDs of newly applied events.
func (s *Service) rebuild(ctx context.Context, streamID string, aggType domain.TypeKey, base *domain.Snapshot) (domain.Aggregate, []string, error) {
	var agg domain.Aggregate
	var err error
	if base != nil {
		agg, err = s.hydrate(base)
	} else {
		agg, err = s.registry.NewAggregate(aggType)
	}
	if err != nil {
		return nil, nil, err
	}

	recs, err := s.stores.Events.ReadAfter(ctx, streamID, agg.Root().LatestEventSequence())
	if err != nil {
		return nil, nil, fmt.Errorf("loading events after %d: %w", agg.Root().LatestEventSequence(), err)
	}

	appliedIDs, err := domain.Replay(agg, recs, func(rec domain.EventRecord) (any, error) {
		return s.registry.DecodeEvent(rec.TypeKey, rec.Payload)
	})
	if err != nil {
		return nil, nil, err
	}
	return agg, appliedIDs, nil
}

// hydrate deserializes a snapshot into a fresh aggregate instance and
// restores its version bookkeeping.
func (s *Service) hydrate(snap *domain.Snapshot) (domain.Aggregate, error) {
	agg, err := s.registry.DecodeAggregate(snap.TypeKey, snap.State)
	if err != nil {
		return nil, err
	}
	agg.Root().Restore(snap.Version, snap.LatestEventSequence)
	return agg, nil
}

// makeRecords stamps payloads into event records with identity, audit time
// and actor. Sequence numbers are assigned by the store at append time.
func (s *Service) makeRecords(ctx context.Context, streamID string, payloads []any) ([]domain.EventRecord, error) {
	recs := make([]domain.EventRecord, len(payloads))
	actor := s.identity.Actor(ctx)
	for i, p := range payloads {
		key, data, err := s.registry.EncodeEvent(p)
		if err != nil {
			return nil, err
		}
		recs[i] = domain.EventRecord{
			ID:        uuid.NewString(),
			StreamID:  streamID,
			TypeKey:   key,
			Payload:   data,
			CreatedAt: s.clk.Now().UTC(),
			CreatedBy: actor,
		}
	}
	return recs, nil
}

// checkSequence verifies the stream has not moved past expected. Used on
// save paths that carry no new events, where Append's compare step would
// otherwise not run.
func (s *Service) checkSequence(ctx context.Context, es store.EventStore, streamID string, expected int64) (int64, error) {
	actual, err := es.LatestSequence(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("reading latest sequence: %w", err)
	}
	if actual != expected {
		return 0, &store.ConflictError{StreamID: streamID, Expected: expected, Actual: actual}
	}
	return actual, nil
}

// reportAppendFailure emits the structured conflict event the telemetry
// contract asks for; other failures are logged as backend errors.
func (s *Service) reportAppendFailure(ctx context.Context, span trace.Span, streamID string, err error) {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		span.AddEvent("concurrency_conflict", trace.WithAttributes(
			attribute.String("stream.id", conflict.StreamID),
			attribute.Int64("sequence.expected", conflict.Expected),
			attribute.Int64("sequence.actual", conflict.Actual),
		))
		s.logger.WarnContext(ctx, "concurrency conflict",
			slog.String("stream_id", conflict.StreamID),
			slog.Int64("expected_sequence", conflict.Expected),
			slog.Int64("actual_sequence", conflict.Actual),
		)
		return
	}
	s.logger.ErrorContext(ctx, "storage failure",
		slog.String("stream_id", streamID),
		slog.Any("error", err),
	)
}
