package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExtensionStatus is the lifecycle state of a validity extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

// PermitExtension requests pushing a permit's planned end out. The count of
// pending plus approved extensions never exceeds the type's limit; approval
// updates the permit's planned end in the same transaction.
type PermitExtension struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	RequestedBy   uuid.UUID `gorm:"type:text;not null" json:"requested_by"`
	NewPlannedEnd time.Time `gorm:"not null" json:"new_planned_end"`
	Reason        string    `json:"reason"`

	Status        ExtensionStatus `gorm:"not null;default:'pending'" json:"status"`
	DecidedBy     *uuid.UUID      `gorm:"type:text" json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	DecisionNotes string          `json:"decision_notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PermitExtension) TableName() string { return "permit_extensions" }

func (e *PermitExtension) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// CloseoutStatus is the lifecycle state of a permit closeout record.
type CloseoutStatus string

const (
	CloseoutOpen      CloseoutStatus = "open"
	CloseoutCompleted CloseoutStatus = "completed"
)

// PermitCloseout is the per-permit instance of the type's closeout template.
// Items map checklist key -> {done, notes}; every required template item must
// be done before the closeout can complete.
type PermitCloseout struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;uniqueIndex" json:"permit_id"`

	Items  JSONMap        `gorm:"type:text" json:"items"`
	Status CloseoutStatus `gorm:"not null;default:'open'" json:"status"`

	CompletedBy *uuid.UUID `gorm:"type:text" json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PermitCloseout) TableName() string { return "permit_closeouts" }

func (c *PermitCloseout) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ToolboxTalk is an optional pre-work briefing attached to a permit.
type ToolboxTalk struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	Topic       string    `gorm:"not null" json:"topic"`
	ConductedBy uuid.UUID `gorm:"type:text;not null" json:"conducted_by"`
	ConductedAt time.Time `gorm:"not null" json:"conducted_at"`
	Notes       string    `json:"notes"`

	CreatedAt   time.Time           `json:"created_at"`
	Attendances []ToolboxAttendance `gorm:"foreignKey:TalkID" json:"attendances,omitempty"`
}

func (ToolboxTalk) TableName() string { return "toolbox_talks" }

func (t *ToolboxTalk) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// ToolboxAttendance is a per-worker acknowledgment of a toolbox talk.
type ToolboxAttendance struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	TalkID   uuid.UUID `gorm:"type:text;not null;index:idx_toolbox_attendance,unique" json:"talk_id"`
	WorkerID uuid.UUID `gorm:"type:text;not null;index:idx_toolbox_attendance,unique" json:"worker_id"`

	Acknowledged   bool       `gorm:"not null;default:false" json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ToolboxAttendance) TableName() string { return "toolbox_attendances" }

func (a *ToolboxAttendance) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
