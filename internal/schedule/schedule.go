// Package schedule provides cancellable timed tasks. The mixer and the
// presentation mirror drive their animations and polling through a
// Scheduler so tests can swap real time for a manually advanced clock.
package schedule

import "time"

// Task is a scheduled callback.
type Task interface {
	// Cancel prevents any further runs. Safe to call more than once.
	Cancel()
	// Active reports whether the task may still run.
	Active() bool
}

// Scheduler creates tasks. Callbacks never run concurrently with each other.
type Scheduler interface {
	Now() time.Time
	// Post runs fn as soon as possible, after everything posted or due
	// before it. It returns false when the scheduler has stopped.
	Post(fn func()) bool
	// After runs fn once after d. Tasks due at the same instant run in
	// the order they were scheduled.
	After(d time.Duration, fn func()) Task
	// Every runs fn every d until cancelled. The first run is after d.
	Every(d time.Duration, fn func()) Task
}
