// Package outbox implements the event and audit publisher. Audit rows and
// outbox rows are written inside the caller's transaction, so a state change,
// its audit trail, and its outbound event commit or roll back together.
// Delivery to webhook endpoints happens asynchronously via the Deliverer.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// Event names published by the core.
const (
	EventPermitCreated       = "permit.created"
	EventPermitTransitioned  = "permit.transitioned"
	EventExtensionRequested  = "permit.extension_requested"
	EventExtensionApproved   = "permit.extension_approved"
	EventIsolationChanged    = "permit.isolation_changed"
	EventCloseoutCompleted   = "permit.closeout_completed"
)

// AppendAudit writes one immutable audit row within tx. Before and after
// must already be reduced to the changed fields.
func AppendAudit(tx *gorm.DB, s scope.Scope, permitID uuid.UUID, action string, before, after models.JSONMap) error {
	row := models.PermitAudit{
		TenantID:      s.TenantID,
		PermitID:      permitID,
		Action:        action,
		ActorID:       s.ActorID,
		CorrelationID: s.CorrelationID,
		Before:        before,
		After:         after,
		IP:            s.IP,
		UserAgent:     s.UserAgent,
		Timestamp:     time.Now().UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// Enqueue writes one outbox row within tx. The dedupe key covers
// (event, permit, correlation) so a replayed operation never enqueues twice.
func Enqueue(tx *gorm.DB, s scope.Scope, permitID uuid.UUID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	row := models.OutboxEvent{
		TenantID:        s.TenantID,
		PermitID:        permitID,
		Event:           event,
		Payload:         string(body),
		CorrelationID:   s.CorrelationID,
		DedupeKey:       fmt.Sprintf("%s:%s:%s", event, permitID, s.CorrelationID),
		Status:          models.OutboxPending,
		NextAttemptTime: time.Now().UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// Envelope builds the signed webhook payload shell shared by all events.
// Extra fields are merged on top of the standard envelope.
func Envelope(s scope.Scope, permit *models.Permit, event string, extra map[string]any) map[string]any {
	payload := map[string]any{
		"event":          event,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
		"correlation_id": s.CorrelationID.String(),
		"tenant_id":      s.TenantID.String(),
		"project_id":     s.ProjectID.String(),
		"permit": map[string]any{
			"id":            permit.ID.String(),
			"permit_number": permit.PermitNumber,
			"status":        string(permit.Status),
			"version":       permit.Version,
		},
		"actor_id": s.ActorID.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// ChangedFields reduces two field snapshots to the keys whose values differ.
// Both returned maps carry the same key set.
func ChangedFields(before, after models.JSONMap) (models.JSONMap, models.JSONMap) {
	outBefore := models.JSONMap{}
	outAfter := models.JSONMap{}
	for k, bv := range before {
		av, ok := after[k]
		if !ok || !jsonEqual(bv, av) {
			outBefore[k] = bv
			if ok {
				outAfter[k] = av
			}
		}
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			outAfter[k] = av
		}
	}
	return outBefore, outAfter
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
