package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalDecision is the outcome recorded on a PermitApproval row.
type ApprovalDecision string

const (
	DecisionApproved  ApprovalDecision = "approved"
	DecisionRejected  ApprovalDecision = "rejected"
	DecisionDelegated ApprovalDecision = "delegated"
	DecisionEscalated ApprovalDecision = "escalated"
)

// PermitApproval is an append-only record of one approval chain decision.
// At most one "approved" row may exist per (permit, level).
type PermitApproval struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	Level    int              `gorm:"not null" json:"level"`
	Decision ApprovalDecision `gorm:"not null" json:"decision"`
	ActorID  uuid.UUID        `gorm:"type:text;not null" json:"actor_id"`
	// DelegateID is set when Decision is delegated.
	DelegateID *uuid.UUID `gorm:"type:text" json:"delegate_id,omitempty"`
	Comments   string     `json:"comments"`

	CreatedAt time.Time `json:"created_at"`
}

func (PermitApproval) TableName() string { return "permit_approvals" }

func (a *PermitApproval) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// PermitWorker associates a worker identity with a permit. The set is frozen
// once the permit reaches active or a terminal state, except through an
// approved extension that reopens scope.
type PermitWorker struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index:idx_permit_worker,unique" json:"permit_id"`
	WorkerID uuid.UUID `gorm:"type:text;not null;index:idx_permit_worker,unique" json:"worker_id"`

	Role          string `gorm:"not null;default:'worker'" json:"role"`
	TrainingValid bool   `gorm:"not null;default:false" json:"training_valid"`
	MedicalValid  bool   `gorm:"not null;default:false" json:"medical_valid"`

	CreatedAt time.Time `json:"created_at"`
}

func (PermitWorker) TableName() string { return "permit_workers" }

func (w *PermitWorker) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// PermitHazard links a permit to a hazard-library entry with the residual
// risk remaining after controls.
type PermitHazard struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	HazardRef    string `gorm:"not null" json:"hazard_ref"`
	Description  string `json:"description"`
	Controls     string `json:"controls"`
	// ResidualRisk is the risk remaining after controls: low, medium, or high.
	ResidualRisk string `gorm:"not null;default:'low'" json:"residual_risk"`

	CreatedAt time.Time `json:"created_at"`
}

func (PermitHazard) TableName() string { return "permit_hazards" }

func (h *PermitHazard) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
