package service

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/requirements"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// GetCloseout returns the permit's closeout record, materializing an open one
// from the type's closeout template on first read.
func (s *PermitService) GetCloseout(sc scope.Scope, permitID uuid.UUID) (*models.PermitCloseout, error) {
	permit, err := s.Get(sc, permitID)
	if err != nil {
		return nil, err
	}

	var closeout models.PermitCloseout
	err = s.db.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).First(&closeout).Error
	if err == nil {
		return &closeout, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load closeout: %w", err)
	}

	pt, err := s.registry.GetVersion(sc, permit.PermitTypeID, permit.PermitTypeVersion)
	if err != nil {
		return nil, err
	}
	closeout = models.PermitCloseout{
		TenantID: sc.TenantID,
		PermitID: permit.ID,
		Items:    emptyCloseoutItems(pt),
		Status:   models.CloseoutOpen,
		Version:  1,
	}
	return &closeout, nil
}

func emptyCloseoutItems(pt *models.PermitType) models.JSONMap {
	items := models.JSONMap{}
	for _, item := range pt.CloseoutChecklistItems() {
		items[item.Key] = map[string]any{"done": false, "notes": ""}
	}
	return items
}

// CloseoutPatch updates closeout item states. ExpectedVersion guards against
// two supervisors ticking items concurrently.
type CloseoutPatch struct {
	Items           models.JSONMap
	ExpectedVersion int
	Complete        bool
}

// PatchCloseout merges item updates into the closeout record, creating it on
// first write. With Complete set, it additionally validates that every
// required template item is done and marks the record completed.
func (s *PermitService) PatchCloseout(sc scope.Scope, permitID uuid.UUID, patch CloseoutPatch) (*models.PermitCloseout, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}

	var closeout *models.PermitCloseout
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if permit.Status != models.StatusActive && permit.Status != models.StatusSuspended {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "closeout applies to active permits only"}
		}

		pt, err := s.registry.WithTx(tx).GetVersion(sc, permit.PermitTypeID, permit.PermitTypeVersion)
		if err != nil {
			return err
		}

		var existing models.PermitCloseout
		err = tx.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = models.PermitCloseout{
				TenantID: sc.TenantID,
				PermitID: permit.ID,
				Items:    emptyCloseoutItems(pt),
				Status:   models.CloseoutOpen,
				Version:  1,
			}
			if err := tx.Create(&existing).Error; err != nil {
				return fmt.Errorf("create closeout: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load closeout: %w", err)
		}
		if existing.Status == models.CloseoutCompleted {
			return &ValidationError{Message: "closeout already completed"}
		}
		if patch.ExpectedVersion > 0 && patch.ExpectedVersion != existing.Version {
			return &VersionConflictError{ServerVersion: existing.Version, Fields: []string{"items"}}
		}

		merged := models.JSONMap{}
		for k, v := range existing.Items {
			merged[k] = v
		}
		for k, v := range patch.Items {
			merged[k] = v
		}

		updates := map[string]any{
			"items":   merged,
			"version": existing.Version + 1,
		}
		audit := "permit.closeout_updated"
		if patch.Complete {
			if undone := undoneRequiredItems(pt, merged); len(undone) > 0 {
				return &RequirementsError{Action: "completion", Unmet: []requirements.Unmet{{
					Key:     "closeout",
					Message: "required closeout items incomplete",
					Items:   undone,
				}}}
			}
			if pt.RequiresDeisolationOnCloseout {
				live, err := liveRequiredIsolations(tx, sc, permit.ID)
				if err != nil {
					return err
				}
				if len(live) > 0 {
					return &RequirementsError{Action: "completion", Unmet: []requirements.Unmet{{
						Key:     "deisolation",
						Message: "required isolation points not deisolated",
						Items:   live,
					}}}
				}
			}
			now := time.Now().UTC()
			updates["status"] = models.CloseoutCompleted
			updates["completed_by"] = sc.ActorID
			updates["completed_at"] = now
			audit = "permit.closeout_completed"
		}

		res := tx.Model(&models.PermitCloseout{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update closeout: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &VersionConflictError{ServerVersion: existing.Version + 1, Fields: []string{"items"}}
		}

		existing.Items = merged
		existing.Version++
		if patch.Complete {
			existing.Status = models.CloseoutCompleted
		}
		closeout = &existing

		after := models.JSONMap{"closeout_status": string(existing.Status), "closeout_version": existing.Version}
		if err := outbox.AppendAudit(tx, sc, permit.ID, audit, models.JSONMap{}, after); err != nil {
			return err
		}
		if patch.Complete {
			payload := outbox.Envelope(sc, permit, outbox.EventCloseoutCompleted, map[string]any{
				"closeout_id": existing.ID.String(),
			})
			return outbox.Enqueue(tx, sc, permit.ID, outbox.EventCloseoutCompleted, payload)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closeout, nil
}

// liveRequiredIsolations lists required isolation points whose energy is
// still locked out. Every one of them must reach deisolated before the
// closeout may complete.
func liveRequiredIsolations(tx *gorm.DB, sc scope.Scope, permitID uuid.UUID) ([]string, error) {
	var points []models.PermitIsolationPoint
	err := tx.Where("tenant_id = ? AND permit_id = ? AND required = ?", sc.TenantID, permitID, true).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("load isolation points: %w", err)
	}
	var live []string
	for _, p := range points {
		if p.Status != models.IsolationDeisolated {
			live = append(live, fmt.Sprintf("%s not deisolated", p.Tag))
		}
	}
	sort.Strings(live)
	return live, nil
}

func undoneRequiredItems(pt *models.PermitType, items models.JSONMap) []string {
	var undone []string
	for _, item := range pt.CloseoutChecklistItems() {
		if item.Required && !items.Truthy(item.Key) {
			undone = append(undone, item.Key)
		}
	}
	sort.Strings(undone)
	return undone
}
