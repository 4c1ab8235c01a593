package domain

import (
	"encoding/json"
	"time"
)

// Snapshot is the persisted materialized state of an aggregate at some
// LatestEventSequence. A snapshot with Version == 0 is logically absent and
// must be reported as not-found by readers.
type Snapshot struct {
	AggregateStoreID    string          `json:"aggregate_store_id" db:"aggregate_store_id"`
	StreamID            string          `json:"stream_id" db:"stream_id"`
	TypeKey             TypeKey         `json:"type_key" db:"type_key"`
	Version             int64           `json:"version" db:"version"`
	LatestEventSequence int64           `json:"latest_event_sequence" db:"latest_event_sequence"`
	State               json.RawMessage `json:"state" db:"state"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	CreatedBy           string          `json:"created_by" db:"created_by"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// Exists reports logical existence: at least one event was ever accepted.
func (s *Snapshot) Exists() bool {
	return s != nil && s.Version >= 1
}
