// Package worker runs the background loops: outbox delivery, permit expiry,
// and approval escalation. Every loop is safe to run on multiple nodes at
// once; contended rows are claimed with conditional updates.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/queue"
	"gorm.io/gorm"
)

// Worker drains the outbox. It wakes on notifier nudges and on a poll timer,
// claims due events, and fans delivery out over a bounded pool.
type Worker struct {
	db        *gorm.DB
	deliverer *outbox.Deliverer
	notifier  queue.Notifier
	logger    *slog.Logger

	pollInterval time.Duration
	maxWorkers   int
	semaphore    chan struct{}
	wg           sync.WaitGroup
}

// New creates a worker instance.
func New(db *gorm.DB, d *outbox.Deliverer, n queue.Notifier, cfg config.WebhookConfig, logger *slog.Logger) *Worker {
	maxWorkers := cfg.WorkerCount
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	poll := time.Duration(cfg.PollInterval) * time.Second
	if poll <= 0 {
		poll = 15 * time.Second
	}
	return &Worker{
		db:           db,
		deliverer:    d,
		notifier:     n,
		logger:       logger,
		pollInterval: poll,
		maxWorkers:   maxWorkers,
		semaphore:    make(chan struct{}, maxWorkers),
	}
}

// Start runs the delivery loop until ctx is cancelled. In-flight deliveries
// are drained before returning.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Outbox worker started",
		"max_concurrent_deliveries", w.maxWorkers,
		"poll_interval", w.pollInterval)

	for {
		w.drainDue(ctx)

		if ctx.Err() != nil {
			w.logger.Info("Outbox worker shutting down, draining deliveries")
			w.wg.Wait()
			w.logger.Info("Outbox worker stopped")
			return ctx.Err()
		}

		// Block on a nudge between polls; a timeout just starts the next scan.
		waitCtx, cancel := context.WithTimeout(ctx, w.pollInterval)
		err := w.notifier.Wait(waitCtx)
		cancel()
		if err != nil && ctx.Err() != nil {
			w.logger.Info("Outbox worker shutting down, draining deliveries")
			w.wg.Wait()
			return ctx.Err()
		}
	}
}

// drainDue claims and dispatches every due event, batch by batch.
func (w *Worker) drainDue(ctx context.Context) {
	for {
		events, err := w.deliverer.ClaimDue(w.maxWorkers * 2)
		if err != nil {
			w.logger.Error("Failed to claim outbox events", "error", err)
			return
		}
		if len(events) == 0 {
			return
		}
		for i := range events {
			ev := events[i]
			select {
			case w.semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-w.semaphore }()
				defer func() {
					if r := recover(); r != nil {
						w.logger.Error("Panic recovered in delivery", "event_id", ev.ID, "panic", r)
					}
				}()
				if err := w.deliverer.Deliver(ctx, &ev); err != nil {
					w.logger.Error("Delivery attempt failed",
						"event_id", ev.ID, "event", ev.Event, "error", err)
				}
			}()
		}
		w.wg.Wait()
	}
}
