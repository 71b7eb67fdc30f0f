package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PermitPhoto is field evidence attached to a permit. Rows are append-only;
// the image binary lives in object storage under StorageKey, only the
// metadata is stored here.
type PermitPhoto struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index" json:"permit_id"`

	FileName    string `gorm:"not null" json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageKey  string `json:"storage_key"`
	Caption     string `json:"caption"`

	TakenBy uuid.UUID `gorm:"type:text;not null" json:"taken_by"`
	TakenAt time.Time `gorm:"not null" json:"taken_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (PermitPhoto) TableName() string { return "permit_photos" }

func (p *PermitPhoto) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
