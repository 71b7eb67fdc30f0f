package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/rbac"
	"github.com/sitesafe/ptwcore/internal/requirements"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// ExtensionRequest asks to push an active permit's planned end out.
type ExtensionRequest struct {
	NewPlannedEnd time.Time
	Reason        string
}

// RequestExtension records a pending extension. The count of pending plus
// approved extensions is capped by the permit type; the counting query and the
// insert share a transaction so concurrent requests cannot both slip under
// the limit.
func (s *PermitService) RequestExtension(sc scope.Scope, permitID uuid.UUID, req ExtensionRequest) (*models.PermitExtension, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if req.NewPlannedEnd.IsZero() {
		return nil, &ValidationError{Message: "new_planned_end is required",
			Fields: map[string]string{"new_planned_end": "required"}}
	}

	var ext *models.PermitExtension
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if permit.Status != models.StatusActive && permit.Status != models.StatusSuspended {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "extensions apply to active permits only"}
		}
		if !req.NewPlannedEnd.After(permit.PlannedEnd) {
			return &ValidationError{Message: "new_planned_end must extend the current window",
				Fields: map[string]string{"new_planned_end": "must be after current planned_end"}}
		}

		in, err := s.snapshot(tx, sc, permit)
		if err != nil {
			return err
		}
		if unmet := requirements.Evaluate(in, requirements.ActionExtension); len(unmet) > 0 {
			return &ExtensionLimitError{Max: in.Type.MaxValidityExtensions}
		}

		ext = &models.PermitExtension{
			TenantID:      sc.TenantID,
			PermitID:      permit.ID,
			RequestedBy:   sc.ActorID,
			NewPlannedEnd: req.NewPlannedEnd.UTC(),
			Reason:        req.Reason,
			Status:        models.ExtensionPending,
		}
		if err := tx.Create(ext).Error; err != nil {
			return fmt.Errorf("create extension: %w", err)
		}

		after := models.JSONMap{
			"extension_id":    ext.ID.String(),
			"new_planned_end": ext.NewPlannedEnd.Format(time.RFC3339),
		}
		if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.extension_requested", models.JSONMap{}, after); err != nil {
			return err
		}
		payload := outbox.Envelope(sc, permit, outbox.EventExtensionRequested, map[string]any{
			"extension_id":    ext.ID.String(),
			"new_planned_end": ext.NewPlannedEnd.Format(time.RFC3339),
			"reason":          ext.Reason,
		})
		return outbox.Enqueue(tx, sc, permit.ID, outbox.EventExtensionRequested, payload)
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// DecideExtension approves or rejects a pending extension. Approval moves the
// permit's planned end to the requested time and bumps its version in the same
// transaction.
func (s *PermitService) DecideExtension(sc scope.Scope, permitID, extensionID uuid.UUID, approve bool, notes string) (*models.PermitExtension, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if !rbac.IsAdmin(sc.Role) {
		ok, err := rbac.Allowed(sc.Role, "approve")
		if err != nil {
			return nil, fmt.Errorf("rbac check: %w", err)
		}
		if !ok {
			return nil, &TransitionError{Reason: fmt.Sprintf("role %s may not decide extensions", sc.Role)}
		}
	}

	var ext models.PermitExtension
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		err = tx.Where("tenant_id = ? AND permit_id = ? AND id = ?",
			sc.TenantID, permit.ID, extensionID).First(&ext).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load extension: %w", err)
		}
		if ext.Status != models.ExtensionPending {
			return &ValidationError{Message: "extension already decided",
				Fields: map[string]string{"extension_id": string(ext.Status)}}
		}

		now := time.Now().UTC()
		status := models.ExtensionRejected
		if approve {
			status = models.ExtensionApproved
		}
		updates := map[string]any{
			"status":         status,
			"decided_by":     sc.ActorID,
			"decided_at":     now,
			"decision_notes": notes,
		}
		if err := tx.Model(&ext).Updates(updates).Error; err != nil {
			return fmt.Errorf("decide extension: %w", err)
		}
		ext.Status = status
		ext.DecidedBy = &sc.ActorID
		ext.DecidedAt = &now

		before := models.JSONMap{"extension_status": string(models.ExtensionPending)}
		after := models.JSONMap{"extension_status": string(status)}

		if approve {
			res := tx.Model(&models.Permit{}).
				Where("id = ? AND version = ?", permit.ID, permit.Version).
				Updates(map[string]any{
					"planned_end": ext.NewPlannedEnd,
					"version":     permit.Version + 1,
				})
			if res.Error != nil {
				return fmt.Errorf("apply extension: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return &VersionConflictError{ServerVersion: permit.Version, Fields: []string{"planned_end"}}
			}
			before["planned_end"] = permit.PlannedEnd.Format(time.RFC3339)
			after["planned_end"] = ext.NewPlannedEnd.Format(time.RFC3339)
			permit.PlannedEnd = ext.NewPlannedEnd
			permit.Version++
		}

		if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.extension_decided", before, after); err != nil {
			return err
		}
		if approve {
			payload := outbox.Envelope(sc, permit, outbox.EventExtensionApproved, map[string]any{
				"extension_id":    ext.ID.String(),
				"new_planned_end": ext.NewPlannedEnd.Format(time.RFC3339),
			})
			return outbox.Enqueue(tx, sc, permit.ID, outbox.EventExtensionApproved, payload)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ext, nil
}
