// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts successful permit status transitions by target status.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_permit_transitions_total",
			Help: "Successful permit status transitions.",
		},
		[]string{"to_status"},
	)

	// RequirementFailures counts gate failures by requirement key.
	RequirementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_requirement_failures_total",
			Help: "Requirement gate failures by requirement key.",
		},
		[]string{"requirement"},
	)

	// OfflineChanges counts offline sync verdicts.
	OfflineChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_offline_changes_total",
			Help: "Offline sync change verdicts.",
		},
		[]string{"verdict"},
	)

	// WebhookDeliveries counts webhook delivery outcomes.
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// ExpiredPermits counts permits expired by the scheduler.
	ExpiredPermits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ptw_expired_permits_total",
			Help: "Permits transitioned to expired by the scheduler.",
		},
	)
)
