package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GasReadingStatus is derived from the measured value against the acceptable range.
type GasReadingStatus string

const (
	GasSafe    GasReadingStatus = "safe"
	GasWarning GasReadingStatus = "warning"
	GasUnsafe  GasReadingStatus = "unsafe"
)

// GasReading is a timestamped measurement of a single gas on a permit. Only
// the most recent reading per (permit, gas type) counts toward the gas gate.
type GasReading struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:text;not null;index" json:"tenant_id"`
	PermitID uuid.UUID `gorm:"type:text;not null;index:idx_gas_reading" json:"permit_id"`

	GasType         string           `gorm:"not null;index:idx_gas_reading" json:"gas_type"` // "O2", "LEL", "H2S", "CO", ...
	Value           float64          `gorm:"not null" json:"value"`
	Unit            string           `gorm:"not null" json:"unit"`
	AcceptableRange string           `json:"acceptable_range"`
	Status          GasReadingStatus `gorm:"not null" json:"status"`

	MeasuredBy uuid.UUID `gorm:"type:text;not null" json:"measured_by"`
	MeasuredAt time.Time `gorm:"not null;index:idx_gas_reading" json:"measured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (GasReading) TableName() string { return "gas_readings" }

func (r *GasReading) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// DeriveGasStatus classifies a measurement. Bands follow common industrial
// gas-test practice; anything outside the warning band is unsafe.
func DeriveGasStatus(gasType string, value float64) GasReadingStatus {
	switch gasType {
	case "O2":
		// Breathable band 19.5-23.5 %, tight band 20.5-22.0 % is fully safe.
		switch {
		case value >= 20.5 && value <= 22.0:
			return GasSafe
		case value >= 19.5 && value <= 23.5:
			return GasWarning
		default:
			return GasUnsafe
		}
	case "LEL":
		switch {
		case value < 5:
			return GasSafe
		case value < 10:
			return GasWarning
		default:
			return GasUnsafe
		}
	case "H2S":
		switch {
		case value < 5:
			return GasSafe
		case value < 10:
			return GasWarning
		default:
			return GasUnsafe
		}
	case "CO":
		switch {
		case value < 25:
			return GasSafe
		case value < 50:
			return GasWarning
		default:
			return GasUnsafe
		}
	default:
		// Unknown gases are never assumed safe.
		return GasWarning
	}
}
