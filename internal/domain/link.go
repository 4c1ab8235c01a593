package domain

import "time"

// EventLink is a ledger entry recording that one event was actually applied
// to one aggregate snapshot. Skipped events produce no link. One event may be
// linked to several aggregates that independently fold the same stream.
type EventLink struct {
	AggregateStoreID string    `json:"aggregate_store_id" db:"aggregate_store_id"`
	EventID          string    `json:"event_id" db:"event_id"`
	AppliedAt        time.Time `json:"applied_at" db:"applied_at"`
}

// JoinKey is the physical composite key convention for link rows.
func (l EventLink) JoinKey() string {
	return l.AggregateStoreID + "|" + l.EventID
}
