package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IsolationStatus is the lifecycle state of one isolation point. The ordering
// assigned < isolated < verified < deisolated is monotonic: regressions are
// rejected, equal requests are idempotent.
type IsolationStatus string

const (
	IsolationAssigned   IsolationStatus = "assigned"
	IsolationIsolated   IsolationStatus = "isolated"
	IsolationVerified   IsolationStatus = "verified"
	IsolationDeisolated IsolationStatus = "deisolated"
)

var isolationRank = map[IsolationStatus]int{
	IsolationAssigned:   0,
	IsolationIsolated:   1,
	IsolationVerified:   2,
	IsolationDeisolated: 3,
}

// Rank returns the position of the status on the monotonic ordering, or -1
// for an unknown value.
func (s IsolationStatus) Rank() int {
	if r, ok := isolationRank[s]; ok {
		return r
	}
	return -1
}

// IsolationPointLibrary is the project-scoped catalogue of physical isolation
// points work permits can draw from.
type IsolationPointLibrary struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID  uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	ProjectID uuid.UUID `gorm:"type:text;not null;index:idx_iso_library,unique" json:"project_id"`

	Tag         string `gorm:"not null;index:idx_iso_library,unique" json:"tag"`
	Description string `json:"description"`
	PointType   string `gorm:"not null" json:"point_type"`  // breaker, valve, disconnect, blind, ...
	EnergyType  string `gorm:"not null" json:"energy_type"` // electrical, mechanical, hydraulic, ...

	DefaultLockCount int  `gorm:"not null;default:1" json:"default_lock_count"`
	RequiresLock     bool `gorm:"not null;default:true" json:"requires_lock"`

	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IsolationPointLibrary) TableName() string { return "isolation_point_library" }

func (p *IsolationPointLibrary) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PermitIsolationPoint is a per-permit isolation requirement, either backed by
// a library point or defined ad hoc on the permit.
type PermitIsolationPoint struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	LibraryPointID *uuid.UUID `gorm:"type:text" json:"library_point_id,omitempty"`
	Tag            string     `gorm:"not null" json:"tag"`
	PointType      string     `json:"point_type"`
	EnergyType     string     `json:"energy_type"`

	Status   IsolationStatus `gorm:"not null;default:'assigned'" json:"status"`
	Required bool            `gorm:"not null;default:true" json:"required"`

	LockApplied bool       `gorm:"not null;default:false" json:"lock_applied"`
	LockCount   int        `gorm:"not null;default:0" json:"lock_count"`
	LockIDs     StringList `gorm:"type:text" json:"lock_ids"`

	IsolatedBy   *uuid.UUID `gorm:"type:text" json:"isolated_by,omitempty"`
	IsolatedAt   *time.Time `json:"isolated_at,omitempty"`
	VerifiedBy   *uuid.UUID `gorm:"type:text" json:"verified_by,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	DeisolatedBy *uuid.UUID `gorm:"type:text" json:"deisolated_by,omitempty"`
	DeisolatedAt *time.Time `json:"deisolated_at,omitempty"`
	Notes        string     `json:"notes"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PermitIsolationPoint) TableName() string { return "permit_isolation_points" }

func (p *PermitIsolationPoint) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
