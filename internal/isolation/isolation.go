// Package isolation governs the lifecycle of energy-isolation points:
// assign -> isolate -> verify -> deisolate. Status is monotonic on that
// ordering; equal requests are idempotent no-ops, regressions are rejected.
package isolation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// Errors surfaced by the engine. StatusRegressionError carries the conflict
// detail for the offline reconciler.
var (
	ErrPointNotFound     = errors.New("isolation point not found")
	ErrPermitNotEditable = errors.New("permit is not accepting isolation changes")
	ErrLockRequired      = errors.New("lock must be applied with the required lock count")
	ErrSameVerifier      = errors.New("verifier must differ from isolator")
	ErrVersionConflict   = errors.New("isolation point version conflict")
)

// StatusRegressionError reports an attempt to move a point backward.
type StatusRegressionError struct {
	From models.IsolationStatus
	To   models.IsolationStatus
}

func (e *StatusRegressionError) Error() string {
	return fmt.Sprintf("status regression %s -> %s", e.From, e.To)
}

// Stats aggregates the isolation posture of one permit.
type Stats struct {
	Total               int `json:"total"`
	Required            int `json:"required"`
	Assigned            int `json:"assigned"`
	Isolated            int `json:"isolated"`
	Verified            int `json:"verified"`
	Deisolated          int `json:"deisolated"`
	PendingVerification int `json:"pending_verification"`
}

// AssignRequest creates a new point on a permit, either from the library or
// ad hoc.
type AssignRequest struct {
	LibraryPointID *uuid.UUID
	Tag            string
	PointType      string
	EnergyType     string
	Required       *bool
	LockCount      *int
	Notes          string
}

// assignableStatuses are the permit states that still accept new points.
var assignableStatuses = map[models.PermitStatus]bool{
	models.StatusDraft:               true,
	models.StatusSubmitted:           true,
	models.StatusPendingVerification: true,
	models.StatusUnderReview:         true,
}

// Assign adds an isolation point to the permit within tx. Library-backed
// points inherit the catalogue's default lock count unless one is supplied.
func Assign(tx *gorm.DB, s scope.Scope, permit *models.Permit, req AssignRequest) (*models.PermitIsolationPoint, error) {
	if !assignableStatuses[permit.Status] {
		return nil, ErrPermitNotEditable
	}

	point := models.PermitIsolationPoint{
		TenantID:   s.TenantID,
		PermitID:   permit.ID,
		Tag:        req.Tag,
		PointType:  req.PointType,
		EnergyType: req.EnergyType,
		Status:     models.IsolationAssigned,
		Required:   true,
		Notes:      req.Notes,
		Version:    1,
	}
	if req.Required != nil {
		point.Required = *req.Required
	}

	if req.LibraryPointID != nil {
		var lib models.IsolationPointLibrary
		err := s.TenantProject(tx).Where("id = ? AND active = ?", *req.LibraryPointID, true).
			First(&lib).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrPointNotFound
			}
			return nil, fmt.Errorf("load library point: %w", err)
		}
		point.LibraryPointID = &lib.ID
		if point.Tag == "" {
			point.Tag = lib.Tag
		}
		point.PointType = lib.PointType
		point.EnergyType = lib.EnergyType
		point.LockCount = lib.DefaultLockCount
	}
	if req.LockCount != nil {
		point.LockCount = *req.LockCount
	}
	if point.Tag == "" {
		return nil, fmt.Errorf("isolation point needs a library reference or a custom tag")
	}

	if err := tx.Create(&point).Error; err != nil {
		return nil, fmt.Errorf("create isolation point: %w", err)
	}

	after := models.JSONMap{"tag": point.Tag, "status": string(point.Status), "required": point.Required}
	if err := outbox.AppendAudit(tx, s, permit.ID, "isolation.assign", models.JSONMap{}, after); err != nil {
		return nil, err
	}
	if err := publishChange(tx, s, permit, &point, "assigned"); err != nil {
		return nil, err
	}
	return &point, nil
}

// TransitionRequest advances an existing point.
type TransitionRequest struct {
	Target    models.IsolationStatus
	LockCount *int
	LockIDs   []string
	Notes     string
	// IndependentVerifier enforces verifier != isolator; the service resolves
	// it from project and tenant policy before calling.
	IndependentVerifier bool
}

// Transition moves a point to the target status within tx, enforcing the
// per-edge guards and the monotonic ordering. The returned bool is false for
// an idempotent equal-status request, which changes nothing.
func Transition(tx *gorm.DB, s scope.Scope, permit *models.Permit, point *models.PermitIsolationPoint, req TransitionRequest) (bool, error) {
	targetRank := req.Target.Rank()
	if targetRank < 0 {
		return false, fmt.Errorf("unknown isolation status %q", req.Target)
	}
	currentRank := point.Status.Rank()
	if targetRank < currentRank {
		return false, &StatusRegressionError{From: point.Status, To: req.Target}
	}
	if targetRank == currentRank {
		return false, nil
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": req.Target, "version": point.Version + 1}

	switch req.Target {
	case models.IsolationIsolated:
		if point.Status != models.IsolationAssigned {
			return false, &StatusRegressionError{From: point.Status, To: req.Target}
		}
		lockCount := point.LockCount
		if req.LockCount != nil {
			lockCount = *req.LockCount
		}
		if lockCount < point.LockCount || (point.LockCount > 0 && len(req.LockIDs) == 0) {
			return false, ErrLockRequired
		}
		updates["lock_applied"] = true
		updates["lock_count"] = lockCount
		updates["lock_ids"] = models.StringList(req.LockIDs)
		updates["isolated_by"] = s.ActorID
		updates["isolated_at"] = now
	case models.IsolationVerified:
		if point.Status != models.IsolationIsolated {
			return false, &StatusRegressionError{From: point.Status, To: req.Target}
		}
		if req.IndependentVerifier && point.IsolatedBy != nil && *point.IsolatedBy == s.ActorID {
			return false, ErrSameVerifier
		}
		updates["verified_by"] = s.ActorID
		updates["verified_at"] = now
	case models.IsolationDeisolated:
		if point.Status != models.IsolationVerified && point.Status != models.IsolationIsolated {
			return false, &StatusRegressionError{From: point.Status, To: req.Target}
		}
		updates["deisolated_by"] = s.ActorID
		updates["deisolated_at"] = now
		if req.Notes != "" {
			updates["notes"] = req.Notes
		}
	default:
		return false, &StatusRegressionError{From: point.Status, To: req.Target}
	}

	// Optimistic check on the point's own version.
	res := tx.Model(&models.PermitIsolationPoint{}).
		Where("id = ? AND version = ?", point.ID, point.Version).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update isolation point: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, ErrVersionConflict
	}

	before := models.JSONMap{"status": string(point.Status)}
	after := models.JSONMap{"status": string(req.Target)}
	action := "isolation." + string(req.Target)
	if err := outbox.AppendAudit(tx, s, permit.ID, action, before, after); err != nil {
		return false, err
	}
	point.Status = req.Target
	point.Version++
	if err := publishChange(tx, s, permit, point, string(req.Target)); err != nil {
		return false, err
	}
	return true, nil
}

func publishChange(tx *gorm.DB, s scope.Scope, permit *models.Permit, point *models.PermitIsolationPoint, change string) error {
	payload := outbox.Envelope(s, permit, outbox.EventIsolationChanged, map[string]any{
		"isolation_point": map[string]any{
			"id":     point.ID.String(),
			"tag":    point.Tag,
			"status": string(point.Status),
		},
		"change": change,
	})
	return outbox.Enqueue(tx, s, permit.ID, outbox.EventIsolationChanged, payload)
}

// Aggregate computes the isolation posture over a permit's points.
func Aggregate(points []models.PermitIsolationPoint) Stats {
	var stats Stats
	stats.Total = len(points)
	for _, p := range points {
		if p.Required {
			stats.Required++
		}
		switch p.Status {
		case models.IsolationAssigned:
			stats.Assigned++
		case models.IsolationIsolated:
			stats.Isolated++
			stats.PendingVerification++
		case models.IsolationVerified:
			stats.Verified++
		case models.IsolationDeisolated:
			stats.Deisolated++
		}
	}
	return stats
}
