package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProjectTemplateOverride customises a permit type's form template for one
// project. At most one active override exists per (project, permit type).
type ProjectTemplateOverride struct {
	ID           uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID     uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	ProjectID    uuid.UUID `gorm:"type:text;not null;index:idx_template_override,unique" json:"project_id"`
	PermitTypeID uuid.UUID `gorm:"type:text;not null;index:idx_template_override,unique" json:"permit_type_id"`

	Override JSONMap `gorm:"type:text" json:"override"`
	Active   bool    `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProjectTemplateOverride) TableName() string { return "project_template_overrides" }

func (o *ProjectTemplateOverride) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
