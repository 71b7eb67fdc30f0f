package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PermitAudit is the append-only log of every operation affecting a permit.
// Rows are written in the same transaction as the mutation and never updated.
type PermitAudit struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	Action        string    `gorm:"not null" json:"action"` // e.g. "permit.transition", "isolation.verify"
	ActorID       uuid.UUID `gorm:"type:text;not null" json:"actor_id"`
	CorrelationID uuid.UUID `gorm:"type:text;not null;index" json:"correlation_id"`

	// Before and After hold only the fields changed by the operation.
	Before JSONMap `gorm:"type:text" json:"before"`
	After  JSONMap `gorm:"type:text" json:"after"`

	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

func (PermitAudit) TableName() string { return "permit_audits" }

// AppliedOfflineChange is the dedup key store that makes offline batch
// application idempotent. The unique index is the source of truth: an insert
// collision means the change was already applied.
type AppliedOfflineChange struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index:idx_applied_change,unique" json:"tenant_id"`

	DeviceID  string `gorm:"not null;index:idx_applied_change,unique" json:"device_id"`
	OfflineID string `gorm:"not null;index:idx_applied_change,unique" json:"offline_id"`
	Entity    string `gorm:"not null;index:idx_applied_change,unique" json:"entity"`

	ServerID      uuid.UUID `gorm:"type:text;not null" json:"server_id"`
	ServerVersion int       `gorm:"not null" json:"server_version"`

	AppliedAt time.Time `gorm:"not null" json:"applied_at"`
}

func (AppliedOfflineChange) TableName() string { return "applied_offline_changes" }

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEvent is a durable queue row for outbound webhook delivery, written
// in the same transaction as the domain change it describes.
type OutboxEvent struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	Event         string    `gorm:"not null" json:"event"` // e.g. "permit.transitioned"
	Payload       string    `gorm:"type:text;not null" json:"payload"`
	CorrelationID uuid.UUID `gorm:"type:text;not null" json:"correlation_id"`
	DedupeKey     string    `gorm:"not null;index" json:"dedupe_key"`

	Status          OutboxStatus `gorm:"not null;default:'pending';index:idx_outbox_claim" json:"status"`
	AttemptCount    int          `gorm:"not null;default:0" json:"attempt_count"`
	NextAttemptTime time.Time    `gorm:"not null;index:idx_outbox_claim" json:"next_attempt_time"`
	ClaimedBy       string       `json:"claimed_by"`
	LastError       string       `json:"last_error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// WebhookEndpoint is a configured downstream receiver. The shared secret is
// encrypted at rest and used to sign payloads with HMAC-SHA256.
type WebhookEndpoint struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`

	Name            string     `gorm:"not null" json:"name"`
	URL             string     `gorm:"not null" json:"url"`
	SecretEncrypted string     `gorm:"not null" json:"-"`
	Events          StringList `gorm:"type:text" json:"events"` // empty = all events

	Active    bool   `gorm:"not null;default:true" json:"active"`
	LastError string `json:"last_error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }

func (e *WebhookEndpoint) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// WebhookDelivery records one delivery attempt of an outbox event to one
// endpoint. The dedupe key (endpoint, event, permit, correlation) makes
// retries safe.
type WebhookDelivery struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	TenantID   uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	EndpointID uuid.UUID `gorm:"type:text;not null;index:idx_delivery_dedupe,unique" json:"endpoint_id"`
	OutboxID   uint      `gorm:"not null" json:"outbox_id"`

	Event         string    `gorm:"not null;index:idx_delivery_dedupe,unique" json:"event"`
	PermitID      uuid.UUID `gorm:"type:text;not null;index:idx_delivery_dedupe,unique" json:"permit_id"`
	CorrelationID uuid.UUID `gorm:"type:text;not null;index:idx_delivery_dedupe,unique" json:"correlation_id"`

	ResponseCode        int    `json:"response_code"`
	ResponseBodyExcerpt string `json:"response_body_excerpt"`
	Error               string `json:"error"`
	Succeeded           bool   `gorm:"not null;default:false" json:"succeeded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }
