package scoring

import "time"

// Clock supplies the reference instant for due-date checks.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// IsOverdue reports whether due is strictly before now.
func IsOverdue(due, now time.Time) bool {
	return due.Before(now)
}

// OverdueAt evaluates IsOverdue against clock; a nil clock falls back to the wall clock.
func OverdueAt(clock Clock, due time.Time) bool {
	if clock == nil {
		clock = SystemClock{}
	}
	return IsOverdue(due, clock.Now())
}
