// Package registry resolves permit-type definitions and their form templates.
// A permit stays pinned to the type version it was created against, so the
// requirements that applied at creation keep binding it for its whole life.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// ErrTypeNotFound is returned for unknown or out-of-scope permit types.
var ErrTypeNotFound = errors.New("permit type not found")

// Registry reads permit-type definitions within a tenant scope.
type Registry struct {
	db *gorm.DB
}

// New creates a registry over the given database handle.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// WithTx returns a registry bound to the given transaction. Callers already
// inside a transaction must use this: reading through the base handle would
// need a second connection, which a single-connection pool never grants.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	return &Registry{db: tx}
}

// Get returns the latest active version of a permit type.
func (r *Registry) Get(s scope.Scope, typeID uuid.UUID) (*models.PermitType, error) {
	var pt models.PermitType
	err := s.Tenant(r.db).Where("id = ? AND active = ?", typeID, true).First(&pt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTypeNotFound
		}
		return nil, fmt.Errorf("load permit type: %w", err)
	}
	return &pt, nil
}

// GetVersion returns the exact version a permit was created against.
func (r *Registry) GetVersion(s scope.Scope, typeID uuid.UUID, version int) (*models.PermitType, error) {
	var pt models.PermitType
	err := s.Tenant(r.db).Where("id = ?", typeID).First(&pt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTypeNotFound
		}
		return nil, fmt.Errorf("load permit type: %w", err)
	}
	if pt.Version != version {
		// Older versions share the type name; resolve by (tenant, name, version).
		err = s.Tenant(r.db).Where("name = ? AND version = ?", pt.Name, version).First(&pt).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTypeNotFound
			}
			return nil, fmt.Errorf("load permit type version: %w", err)
		}
	}
	return &pt, nil
}

// List returns active permit types, optionally filtered by category and risk level.
func (r *Registry) List(s scope.Scope, category string, risk models.RiskLevel) ([]models.PermitType, error) {
	q := s.Tenant(r.db).Where("active = ?", true)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if risk != "" {
		q = q.Where("risk_level = ?", risk)
	}
	var types []models.PermitType
	if err := q.Order("name").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("list permit types: %w", err)
	}
	return types, nil
}

// ResolveTemplate merges the type's base form template with the active
// project-level override, if any. Resolution is deterministic for identical
// inputs; the stored templates are never mutated.
func (r *Registry) ResolveTemplate(s scope.Scope, typeID uuid.UUID) (models.JSONMap, error) {
	pt, err := r.Get(s, typeID)
	if err != nil {
		return nil, err
	}

	resolved := MergeTemplates(models.JSONMap{}, pt.FormTemplate)

	var override models.ProjectTemplateOverride
	err = s.TenantProject(r.db).
		Where("permit_type_id = ? AND active = ?", pt.ID, true).
		First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resolved, nil
		}
		return nil, fmt.Errorf("load template override: %w", err)
	}

	return MergeTemplates(resolved, override.Override), nil
}
