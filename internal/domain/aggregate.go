package domain

// Aggregate is the contract event-sourced views implement. Concrete types
// embed Root for version and uncommitted-event bookkeeping and provide the
// fold logic in ApplyEvent.
type Aggregate interface {
	// Root exposes the embedded bookkeeping state.
	Root() *Root
	// ApplyEvent folds one event payload into state and reports whether
	// state actually changed. Unrecognized payload types return false.
	ApplyEvent(payload any) bool
	// EventTypeFilter lists the event type keys this aggregate knows how to
	// apply. An empty filter means every event type is applied.
	EventTypeFilter() []TypeKey
}

// PendingEvent is an event raised by application code but not yet persisted.
// Applied records whether folding it changed the aggregate's state.
type PendingEvent struct {
	Payload any
	Applied bool
}

// Root is the embeddable bookkeeping core of an aggregate. The zero value is
// ready to use.
type Root struct {
	version     int64
	latestSeq   int64
	uncommitted []PendingEvent
}

// Root returns the receiver so that embedding satisfies Aggregate.
func (r *Root) Root() *Root { return r }

// Version is the count of events that actually changed state.
func (r *Root) Version() int64 { return r.version }

// LatestEventSequence is the highest stream sequence considered when this
// state was produced, including events seen but skipped by the filter. It is
// always >= Version.
func (r *Root) LatestEventSequence() int64 { return r.latestSeq }

// AdvanceSequence raises LatestEventSequence to seq if seq is greater.
func (r *Root) AdvanceSequence(seq int64) {
	if seq > r.latestSeq {
		r.latestSeq = seq
	}
}

// Restore sets version and sequence when rehydrating from a snapshot.
func (r *Root) Restore(version, latestSeq int64) {
	r.version = version
	r.latestSeq = latestSeq
}

// Uncommitted returns a copy of the events raised but not yet persisted.
func (r *Root) Uncommitted() []PendingEvent {
	out := make([]PendingEvent, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// ClearUncommitted drops the buffer after a successful save.
func (r *Root) ClearUncommitted() { r.uncommitted = nil }

// Raise buffers a new event as uncommitted and immediately folds it into the
// aggregate's in-memory state, incrementing Version iff the fold changed
// state. This is how mutating application code records events.
func Raise(agg Aggregate, payload any) {
	applied := agg.ApplyEvent(payload)
	r := agg.Root()
	r.uncommitted = append(r.uncommitted, PendingEvent{Payload: payload, Applied: applied})
	if applied {
		r.version++
	}
}

// IsEventHandled reports whether the aggregate's filter accepts the given
// event type. An empty filter accepts everything.
func IsEventHandled(agg Aggregate, key TypeKey) bool {
	filter := agg.EventTypeFilter()
	if len(filter) == 0 {
		return true
	}
	for _, k := range filter {
		if k == key {
			return true
		}
	}
	return false
}

// Replay folds records into agg in order. LatestEventSequence advances over
// every record handed in; Version advances only for records the filter
// accepts and whose fold changes state. decode is called only for accepted
// records and resolves the serialized payload to a concrete event.
// Replay returns the IDs of the records that changed state.
func Replay(agg Aggregate, records []EventRecord, decode func(EventRecord) (any, error)) ([]string, error) {
	r := agg.Root()
	var applied []string
	for _, rec := range records {
		r.AdvanceSequence(rec.Sequence)
		if !IsEventHandled(agg, rec.TypeKey) {
			continue
		}
		payload, err := decode(rec)
		if err != nil {
			return applied, err
		}
		if agg.ApplyEvent(payload) {
			r.version++
			applied = append(applied, rec.ID)
		}
	}
	return applied, nil
}
