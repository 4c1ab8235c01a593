package store

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict is the match target for optimistic concurrency
// failures: errors.Is(err, ErrConcurrencyConflict).
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrNoEvents is returned by Append when the batch is empty.
var ErrNoEvents = errors.New("no events to append")

// ConflictError reports an expected-sequence mismatch on append. It is
// recoverable: the caller may re-read the stream and retry at its own
// discretion; the store never retries internally.
type ConflictError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected sequence %d, actual %d",
		e.StreamID, e.Expected, e.Actual)
}

// Is makes ConflictError match ErrConcurrencyConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}
