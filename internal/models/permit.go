package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PermitStatus is the closed set of permit lifecycle states. Transitions are
// owned by the state machine; nothing else writes Status.
type PermitStatus string

const (
	StatusDraft               PermitStatus = "draft"
	StatusSubmitted           PermitStatus = "submitted"
	StatusPendingVerification PermitStatus = "pending_verification"
	StatusUnderReview         PermitStatus = "under_review"
	StatusPendingApproval     PermitStatus = "pending_approval"
	StatusApproved            PermitStatus = "approved"
	StatusActive              PermitStatus = "active"
	StatusSuspended           PermitStatus = "suspended"
	StatusCompleted           PermitStatus = "completed"
	StatusCancelled           PermitStatus = "cancelled"
	StatusExpired             PermitStatus = "expired"
	StatusRejected            PermitStatus = "rejected"
)

// Terminal reports whether the status accepts no further transitions.
func (s PermitStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// Permit is the aggregate root. It exclusively owns its approvals, workers,
// hazards, gas readings, isolation points, extensions, closeout, and audits.
type Permit struct {
	ID           uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID     uuid.UUID `gorm:"type:text;not null;index:idx_permit_scope;index:idx_permit_number,unique" json:"tenant_id"`
	ProjectID    uuid.UUID `gorm:"type:text;not null;index:idx_permit_scope" json:"project_id"`
	PermitNumber string    `gorm:"not null;index:idx_permit_number,unique" json:"permit_number"`

	PermitTypeID      uuid.UUID  `gorm:"type:text;not null;index" json:"permit_type_id"`
	PermitType        PermitType `gorm:"foreignKey:PermitTypeID" json:"permit_type,omitempty"`
	PermitTypeVersion int        `gorm:"not null;default:1" json:"permit_type_version"`

	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`
	Location    string `gorm:"not null" json:"location"`
	Priority    string `gorm:"not null;default:'normal'" json:"priority"`

	Status               PermitStatus `gorm:"not null;default:'draft';index:idx_permit_scope" json:"status"`
	CurrentApprovalLevel int          `gorm:"not null;default:0" json:"current_approval_level"`

	PlannedStart time.Time  `gorm:"not null" json:"planned_start"`
	PlannedEnd   time.Time  `gorm:"not null;index:idx_permit_scope" json:"planned_end"`
	ActualStart  *time.Time `json:"actual_start,omitempty"`
	ActualEnd    *time.Time `json:"actual_end,omitempty"`

	RiskLevel   RiskLevel `gorm:"not null;default:'medium'" json:"risk_level"`
	Probability int       `gorm:"not null;default:1" json:"probability"` // 1-5
	Severity    int       `gorm:"not null;default:1" json:"severity"`    // 1-5
	RiskScore   int       `gorm:"not null;default:1" json:"risk_score"`

	CreatedBy      uuid.UUID  `gorm:"type:text;not null;index" json:"created_by"`
	IssuerID       *uuid.UUID `gorm:"type:text" json:"issuer_id,omitempty"`
	VerifierID     *uuid.UUID `gorm:"type:text" json:"verifier_id,omitempty"`
	ApproverID     *uuid.UUID `gorm:"type:text" json:"approver_id,omitempty"`
	AreaInchargeID *uuid.UUID `gorm:"type:text" json:"area_incharge_id,omitempty"`

	PPERequirements  StringList `gorm:"type:text" json:"ppe_requirements"`
	SafetyChecklist  JSONMap    `gorm:"type:text" json:"safety_checklist"`
	IsolationDetails string     `json:"isolation_details"`
	ComplianceStds   StringList `gorm:"type:text" json:"compliance_standards"`

	// Version implements optimistic concurrency. Every persisted mutation of
	// the permit or its status bumps it by exactly one.
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Approvals       []PermitApproval       `gorm:"foreignKey:PermitID" json:"approvals,omitempty"`
	Workers         []PermitWorker         `gorm:"foreignKey:PermitID" json:"workers,omitempty"`
	Hazards         []PermitHazard         `gorm:"foreignKey:PermitID" json:"hazards,omitempty"`
	GasReadings     []GasReading           `gorm:"foreignKey:PermitID" json:"gas_readings,omitempty"`
	Photos          []PermitPhoto          `gorm:"foreignKey:PermitID" json:"photos,omitempty"`
	IsolationPoints []PermitIsolationPoint `gorm:"foreignKey:PermitID" json:"isolation_points,omitempty"`
	Extensions      []PermitExtension      `gorm:"foreignKey:PermitID" json:"extensions,omitempty"`
}

func (Permit) TableName() string { return "permits" }

func (p *Permit) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the planned window has elapsed for a still-open permit.
func (p *Permit) IsExpired(now time.Time) bool {
	if p.Status.Terminal() {
		return p.Status == StatusExpired
	}
	return now.After(p.PlannedEnd)
}

// DurationHours is the planned working window in hours.
func (p *Permit) DurationHours() float64 {
	return p.PlannedEnd.Sub(p.PlannedStart).Hours()
}

// ComputeRiskScore derives the risk score from probability, severity, and a
// multiplier per type risk level.
func (p *Permit) ComputeRiskScore(level RiskLevel) int {
	multiplier := 1
	switch level {
	case RiskHigh:
		multiplier = 2
	case RiskExtreme:
		multiplier = 3
	}
	return p.Probability * p.Severity * multiplier
}

// PermitNumberCounter allocates tenant-unique permit sequence numbers per year.
type PermitNumberCounter struct {
	TenantID uuid.UUID `gorm:"type:text;primary_key"`
	Year     int       `gorm:"primary_key"`
	Seq      int64     `gorm:"not null;default:0"`
}

func (PermitNumberCounter) TableName() string { return "permit_number_counters" }
