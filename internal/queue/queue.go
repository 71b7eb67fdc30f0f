// Package queue carries wake-up signals from the write path to the outbox
// deliverer. The outbox table is the source of truth; a nudge only shortens
// the latency between commit and first delivery attempt. Lost nudges are
// harmless because the deliverer also polls.
package queue

import "context"

// Notifier wakes the outbox deliverer after a commit enqueues events.
type Notifier interface {
	// Nudge signals that pending outbox rows exist. It never blocks the
	// write path: a full signal buffer is dropped, not waited on.
	Nudge(ctx context.Context) error

	// Wait blocks until a nudge arrives or ctx is done. A nil error means a
	// nudge was consumed.
	Wait(ctx context.Context) error

	// Close releases resources.
	Close() error
}
