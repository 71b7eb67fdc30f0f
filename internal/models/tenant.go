package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is the top-level isolation boundary. Every persisted entity in the
// core carries a tenant ID and queries always filter on it.
type Tenant struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// BeforeCreate hook to generate UUID
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Project belongs to exactly one tenant. Permits always live inside a project.
type Project struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID  uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	Name      string    `gorm:"not null" json:"name"`
	Code      string    `gorm:"not null" json:"code"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	// IndependentVerifier requires the isolation verifier to differ from the
	// isolator on every point of this project.
	IndependentVerifier bool      `gorm:"not null;default:false" json:"independent_verifier"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// CollaborationMember records that a tenant participates in a shared project
// owned by another tenant. Grants read-only visibility subject to SharePolicy.
type CollaborationMember struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	ProjectID uuid.UUID `gorm:"type:text;not null;index:idx_collab_member,unique" json:"project_id"`
	TenantID  uuid.UUID `gorm:"type:text;not null;index:idx_collab_member,unique" json:"tenant_id"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (CollaborationMember) TableName() string { return "collaboration_members" }

func (m *CollaborationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// SharePolicy grants a domain-level access mode to collaboration members of a
// project. Policies live in the owning tenant's scope and are only consulted
// server-side, never supplied by the caller.
type SharePolicy struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID  uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	ProjectID uuid.UUID `gorm:"type:text;not null;index:idx_share_policy,unique" json:"project_id"`
	Domain    string    `gorm:"not null;index:idx_share_policy,unique" json:"domain"` // e.g. "permit"
	Access    string    `gorm:"not null" json:"access"`                               // "READ" is the only grant honoured
	CreatedAt time.Time `json:"created_at"`
}

func (SharePolicy) TableName() string { return "share_policies" }

func (p *SharePolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
