package clock

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Stepped is a Clock that returns a strictly increasing time, advancing by
// Step on every call. Useful for asserting applied-at ordering in tests.
type Stepped struct {
	T    time.Time
	Step time.Duration
}

// Now returns the current mock time and advances it by Step.
func (s *Stepped) Now() time.Time {
	t := s.T
	step := s.Step
	if step == 0 {
		step = time.Millisecond
	}
	s.T = s.T.Add(step)
	return t
}
