package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity roles understood by the routing tables. Identity management is
// owned by the platform; the core only reads the binding.
const (
	RoleContractor     = "contractor"
	RoleEPCEngineer    = "epc_engineer"
	RoleClientEngineer = "client_engineer"
	RoleSafetyOfficer  = "safety_officer"
	RoleAreaIncharge   = "area_incharge"
	RoleAdmin          = "admin"
)

// Identity is an authenticated actor bound to a tenant, a project, and a role.
// The tenant/project binding is authoritative: request scope is resolved from
// this row, never from client-supplied headers.
type Identity struct {
	ID           uuid.UUID  `gorm:"type:text;primary_key" json:"id"`
	TenantID     uuid.UUID  `gorm:"type:text;not null;index" json:"tenant_id"`
	ProjectID    *uuid.UUID `gorm:"type:text;index" json:"project_id,omitempty"`
	Username     string     `gorm:"not null;uniqueIndex" json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"not null" json:"role"`
	Grade        string     `json:"grade"` // competency grade, e.g. "A".."C"
	Active       bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Identity) TableName() string { return "identities" }

func (i *Identity) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
