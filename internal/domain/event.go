// Package domain defines the stream, event, aggregate and ledger model for
// the event-sourced aggregate store.
//
// A stream is a named, ordered, append-only log of events. Aggregates are
// versioned materialized views folding a filtered subset of one stream's
// events; the ledger records exactly which events contributed to an
// aggregate's version.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TypeKey identifies a payload schema as "{name}:{version}". It is the
// lookup key for both event and aggregate schemas in the type registry.
type TypeKey string

// NewTypeKey builds a TypeKey from a logical name and schema version.
func NewTypeKey(name string, version int) TypeKey {
	return TypeKey(name + ":" + strconv.Itoa(version))
}

// Name returns the logical name part of the key.
func (k TypeKey) Name() string {
	s := string(k)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// SchemaVersion returns the version part of the key, or 0 if the key is
// malformed.
func (k TypeKey) SchemaVersion() int {
	s := string(k)
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return 0
	}
	v, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0
	}
	return v
}

// Valid reports whether the key has the "{name}:{version}" shape.
func (k TypeKey) Valid() bool {
	return k.Name() != "" && k.SchemaVersion() > 0
}

func (k TypeKey) String() string { return string(k) }

// EventRecord is the persisted form of a domain event. Records are immutable
// once appended; Sequence is 1-based, gapless and strictly increasing per
// stream, assigned atomically at append time.
type EventRecord struct {
	ID        string          `json:"id" db:"id"`
	StreamID  string          `json:"stream_id" db:"stream_id"`
	Sequence  int64           `json:"sequence" db:"sequence"`
	TypeKey   TypeKey         `json:"type_key" db:"type_key"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	CreatedBy string          `json:"created_by" db:"created_by"`
}

// AggregateStoreID composes the physical snapshot key for an aggregate:
// "{aggregateId}:{typeVersion}". Different schema versions of an aggregate
// over the same logical id are distinct snapshot records.
func AggregateStoreID(aggregateID string, aggType TypeKey) string {
	return fmt.Sprintf("%s:%d", aggregateID, aggType.SchemaVersion())
}
