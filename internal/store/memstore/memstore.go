// Package memstore provides the reference in-memory store driver ("memory").
// It is the backend used by unit tests and local development and doubles as
// the executable specification of the store contracts: optimistic
// compare-and-append, atomic batches, and all-or-nothing transactional units.
package memstore

import (
	"context"
	"sync"

	"github.com/lucabriguglia/Memoria-sub001/internal/clock"
	"github.com/lucabriguglia/Memoria-sub001/internal/config"
	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
	"github.com/lucabriguglia/Memoria-sub001/internal/store"
)

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	store.Register("memory", open)
}

// open is the store.Driver for the "memory" backend.
func open(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Stores, error) {
	s := New(clk)
	return &store.Stores{
		Events:    s,
		Snapshots: s,
		InTx:      s.InTx,
		Closer:    closerFunc(func() error { return nil }),
		Ping:      func(context.Context) error { return nil },
	}, nil
}

// state holds the three logical tables. All access goes through Store.mu.
type state struct {
	streams   map[string][]domain.EventRecord
	snapshots map[string]*domain.Snapshot
	links     map[string][]domain.EventLink
}

func newState() *state {
	return &state{
		streams:   map[string][]domain.EventRecord{},
		snapshots: map[string]*domain.Snapshot{},
		links:     map[string][]domain.EventLink{},
	}
}

// clone produces an independent copy for transactional staging. Records are
// value types, so copying slice contents is enough; snapshots are deep-copied
// because Put mutates them.
func (st *state) clone() *state {
	c := newState()
	for k, evs := range st.streams {
		c.streams[k] = append([]domain.EventRecord(nil), evs...)
	}
	for k, snap := range st.snapshots {
		c.snapshots[k] = copySnapshot(snap)
	}
	for k, ls := range st.links {
		c.links[k] = append([]domain.EventLink(nil), ls...)
	}
	return c
}

func copySnapshot(s *domain.Snapshot) *domain.Snapshot {
	cp := *s
	cp.State = append([]byte(nil), s.State...)
	return &cp
}

// Store is an in-memory implementation of both store contracts. It is safe
// for concurrent use; appends to one stream are serialized by the store
// mutex, which also gives the per-stream compare-and-append its atomicity.
type Store struct {
	mu    sync.Mutex
	clk   clock.Clock
	state *state
}

// New returns an empty Store stamping snapshot audit times with clk.
func New(clk clock.Clock) *Store {
	return &Store{clk: clk, state: newState()}
}

func (s *Store) Append(ctx context.Context, streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.append(streamID, events, expectedSeq)
}

func (s *Store) ReadRange(ctx context.Context, streamID string, upTo int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.readRange(streamID, upTo, types), nil
}

func (s *Store) ReadAfter(ctx context.Context, streamID string, after int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.readAfter(streamID, after, types), nil
}

func (s *Store) LatestSequence(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.latest(streamID), nil
}

func (s *Store) Get(ctx context.Context, aggregateStoreID string) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.get(aggregateStoreID), nil
}

func (s *Store) Put(ctx context.Context, snap *domain.Snapshot, links []domain.EventLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.put(snap, links, s.clk)
	return nil
}

func (s *Store) GetLinks(ctx context.Context, aggregateStoreID string) ([]domain.EventLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EventLink(nil), s.state.links[aggregateStoreID]...), nil
}

// InTx runs fn against a staged copy of the store and swaps it in only on
// success, so a failed unit leaves no trace. The store mutex is held for the
// duration, serializing transactional units.
func (s *Store) InTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	view := &txView{state: staged, clk: s.clk}
	if err := fn(view, view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// txView exposes the store contracts over staged state without relocking.
type txView struct {
	state *state
	clk   clock.Clock
}

func (v *txView) Append(_ context.Context, streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error) {
	return v.state.append(streamID, events, expectedSeq)
}

func (v *txView) ReadRange(_ context.Context, streamID string, upTo int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	return v.state.readRange(streamID, upTo, types), nil
}

func (v *txView) ReadAfter(_ context.Context, streamID string, after int64, types ...domain.TypeKey) ([]domain.EventRecord, error) {
	return v.state.readAfter(streamID, after, types), nil
}

func (v *txView) LatestSequence(_ context.Context, streamID string) (int64, error) {
	return v.state.latest(streamID), nil
}

func (v *txView) Get(_ context.Context, aggregateStoreID string) (*domain.Snapshot, error) {
	return v.state.get(aggregateStoreID), nil
}

func (v *txView) Put(_ context.Context, snap *domain.Snapshot, links []domain.EventLink) error {
	v.state.put(snap, links, v.clk)
	return nil
}

func (v *txView) GetLinks(_ context.Context, aggregateStoreID string) ([]domain.EventLink, error) {
	return append([]domain.EventLink(nil), v.state.links[aggregateStoreID]...), nil
}

func (st *state) latest(streamID string) int64 {
	evs := st.streams[streamID]
	if len(evs) == 0 {
		return 0
	}
	return evs[len(evs)-1].Sequence
}

func (st *state) append(streamID string, events []domain.EventRecord, expectedSeq int64) (int64, error) {
	if len(events) == 0 {
		return 0, store.ErrNoEvents
	}
	actual := st.latest(streamID)
	if actual != expectedSeq {
		return 0, &store.ConflictError{StreamID: streamID, Expected: expectedSeq, Actual: actual}
	}
	seq := expectedSeq
	for _, e := range events {
		seq++
		e.StreamID = streamID
		e.Sequence = seq
		st.streams[streamID] = append(st.streams[streamID], e)
	}
	return seq, nil
}

// readRange returns events with sequence <= upTo; upTo 0 matches nothing.
func (st *state) readRange(streamID string, upTo int64, types []domain.TypeKey) []domain.EventRecord {
	var out []domain.EventRecord
	for _, e := range st.streams[streamID] {
		if e.Sequence > upTo {
			break
		}
		if len(types) > 0 && !containsKey(types, e.TypeKey) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// readAfter returns events with sequence strictly greater than after.
func (st *state) readAfter(streamID string, after int64, types []domain.TypeKey) []domain.EventRecord {
	var out []domain.EventRecord
	for _, e := range st.streams[streamID] {
		if e.Sequence <= after {
			continue
		}
		if len(types) > 0 && !containsKey(types, e.TypeKey) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (st *state) get(aggregateStoreID string) *domain.Snapshot {
	snap, ok := st.snapshots[aggregateStoreID]
	if !ok {
		return nil
	}
	return copySnapshot(snap)
}

func (st *state) put(snap *domain.Snapshot, links []domain.EventLink, clk clock.Clock) {
	now := clk.Now().UTC()
	cp := copySnapshot(snap)
	if prev, ok := st.snapshots[cp.AggregateStoreID]; ok {
		cp.CreatedAt = prev.CreatedAt
		cp.CreatedBy = prev.CreatedBy
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	st.snapshots[cp.AggregateStoreID] = cp
	// Re-asserting an existing ledger row is a no-op.
	for _, l := range links {
		if !containsLink(st.links[l.AggregateStoreID], l) {
			st.links[l.AggregateStoreID] = append(st.links[l.AggregateStoreID], l)
		}
	}
}

func containsLink(links []domain.EventLink, l domain.EventLink) bool {
	for _, have := range links {
		if have.JoinKey() == l.JoinKey() {
			return true
		}
	}
	return false
}

func containsKey(keys []domain.TypeKey, k domain.TypeKey) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
