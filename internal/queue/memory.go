package queue

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryNotifier is the single-process Notifier. A one-slot channel coalesces
// bursts: many commits in quick succession produce one wake-up.
type MemoryNotifier struct {
	signal    chan struct{}
	closeOnce sync.Once
}

// NewMemoryNotifier creates a MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	slog.Info("Initialized in-memory outbox notifier")
	return &MemoryNotifier{signal: make(chan struct{}, 1)}
}

// Nudge signals pending work without blocking.
func (n *MemoryNotifier) Nudge(ctx context.Context) error {
	select {
	case n.signal <- struct{}{}:
	default:
		// A wake-up is already queued; coalesce.
	}
	return nil
}

// Wait blocks until a nudge arrives or ctx is done.
func (n *MemoryNotifier) Wait(ctx context.Context) error {
	select {
	case <-n.signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the signal channel.
func (n *MemoryNotifier) Close() error {
	n.closeOnce.Do(func() { close(n.signal) })
	return nil
}
