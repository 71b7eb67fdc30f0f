package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RiskLevel classifies a permit type or permit.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// ChecklistItem is one entry of a safety or closeout checklist template.
type ChecklistItem struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// ChecklistTemplate is the ordered template decoded from the permit type.
type ChecklistTemplate []ChecklistItem

// PermitType is the tenant-scoped definition a permit is created against.
// Rows are versioned: edits insert a new row with Version+1 and in-flight
// permits stay pinned to the version they were created with.
type PermitType struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID  uuid.UUID `gorm:"type:text;not null;index:idx_permit_type_name,unique" json:"tenant_id"`
	Name      string    `gorm:"not null;index:idx_permit_type_name,unique" json:"name"`
	Version   int       `gorm:"not null;default:1;index:idx_permit_type_name,unique" json:"version"`
	Category  string    `gorm:"not null" json:"category"`
	RiskLevel RiskLevel `gorm:"not null;default:'medium'" json:"risk_level"`

	DefaultValidityHours   int `gorm:"not null;default:8" json:"default_validity_hours"`
	RequiredApprovalLevels int `gorm:"not null;default:1" json:"required_approval_levels"`
	MinPersonnelRequired   int `gorm:"not null;default:1" json:"min_personnel_required"`
	MaxValidityExtensions  int `gorm:"not null;default:0" json:"max_validity_extensions"`
	EscalationTimeHours    int `gorm:"not null;default:4" json:"escalation_time_hours"`

	RequiresGasTesting            bool `gorm:"not null;default:false" json:"requires_gas_testing"`
	RequiresFireWatch             bool `gorm:"not null;default:false" json:"requires_fire_watch"`
	RequiresIsolation             bool `gorm:"not null;default:false" json:"requires_isolation"`
	RequiresStructuredIsolation   bool `gorm:"not null;default:false" json:"requires_structured_isolation"`
	RequiresDeisolationOnCloseout bool `gorm:"not null;default:false" json:"requires_deisolation_on_closeout"`
	RequiresTrainingVerification  bool `gorm:"not null;default:false" json:"requires_training_verification"`
	RequiresMedicalSurveillance   bool `gorm:"not null;default:false" json:"requires_medical_surveillance"`

	MandatoryPPE      StringList `gorm:"type:text" json:"mandatory_ppe"`
	RequiredGases     StringList `gorm:"type:text" json:"required_gases"`
	SafetyChecklist   JSONMap    `gorm:"type:text" json:"safety_checklist"`   // template: key -> {label, required}
	CloseoutChecklist JSONMap    `gorm:"type:text" json:"closeout_checklist"` // template: key -> {label, required}
	FormTemplate      JSONMap    `gorm:"type:text" json:"form_template"`      // versioned section tree

	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PermitType) TableName() string { return "permit_types" }

func (t *PermitType) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// SafetyChecklistItems decodes the checklist template into ordered items.
// Template entries are stored as {label, required, order} objects keyed by item key.
func (t *PermitType) SafetyChecklistItems() ChecklistTemplate {
	return decodeChecklist(t.SafetyChecklist)
}

// CloseoutChecklistItems decodes the closeout template.
func (t *PermitType) CloseoutChecklistItems() ChecklistTemplate {
	return decodeChecklist(t.CloseoutChecklist)
}

func decodeChecklist(m JSONMap) ChecklistTemplate {
	items := make(ChecklistTemplate, 0, len(m))
	for key, raw := range m {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label, _ := entry["label"].(string)
		required, _ := entry["required"].(bool)
		items = append(items, ChecklistItem{Key: key, Label: label, Required: required})
	}
	sortChecklist(items)
	return items
}

func sortChecklist(items ChecklistTemplate) {
	// Stable key order keeps evaluator output deterministic.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Key < items[j-1].Key; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// TenantPolicy carries tenant-level toggles consulted at transition time.
type TenantPolicy struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;uniqueIndex" json:"tenant_id"`
	// IndependentVerifier forces verifier != isolator across the whole tenant
	// regardless of the per-project flag.
	IndependentVerifier  bool      `gorm:"not null;default:false" json:"independent_verifier"`
	ActivationGraceHours int       `gorm:"not null;default:4" json:"activation_grace_hours"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (TenantPolicy) TableName() string { return "tenant_policies" }

func (p *TenantPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
