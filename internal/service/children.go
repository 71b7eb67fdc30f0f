package service

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

// editableStatuses are the states in which child records may still be added
// or changed. Gas readings are the exception: they stay recordable while the
// permit is active or suspended.
func permitEditable(status models.PermitStatus) bool {
	switch status {
	case models.StatusDraft, models.StatusSubmitted, models.StatusPendingVerification,
		models.StatusUnderReview, models.StatusPendingApproval, models.StatusApproved:
		return true
	}
	return false
}

// GasReadingRequest records one gas measurement.
type GasReadingRequest struct {
	GasType    string
	Value      float64
	Unit       string
	MeasuredAt time.Time
}

// AddGasReading appends a measurement. Readings are append-only; the gate only
// ever looks at the latest per gas type. Recording stays open while the permit
// is pre-activation, active, or suspended so re-tests after a suspension count.
func (s *PermitService) AddGasReading(sc scope.Scope, permitID uuid.UUID, req GasReadingRequest) (*models.GasReading, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if req.GasType == "" {
		return nil, &ValidationError{Message: "gas_type is required", Fields: map[string]string{"gas_type": "required"}}
	}

	var reading *models.GasReading
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if permit.Status.Terminal() {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "gas readings cannot be recorded on a closed permit"}
		}

		measuredAt := req.MeasuredAt
		if measuredAt.IsZero() {
			measuredAt = time.Now().UTC()
		}
		reading = &models.GasReading{
			TenantID:   sc.TenantID,
			PermitID:   permit.ID,
			GasType:    req.GasType,
			Value:      req.Value,
			Unit:       req.Unit,
			Status:     models.DeriveGasStatus(req.GasType, req.Value),
			MeasuredBy: sc.ActorID,
			MeasuredAt: measuredAt.UTC(),
		}
		if err := tx.Create(reading).Error; err != nil {
			return fmt.Errorf("record gas reading: %w", err)
		}
		after := models.JSONMap{
			"gas_type": reading.GasType,
			"value":    reading.Value,
			"status":   string(reading.Status),
		}
		return outbox.AppendAudit(tx, sc, permit.ID, "permit.gas_reading", models.JSONMap{}, after)
	})
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// WorkerRequest attaches a worker to a permit.
type WorkerRequest struct {
	WorkerID      uuid.UUID
	Role          string
	TrainingValid bool
	MedicalValid  bool
}

// AttachWorker adds a worker to the permit's crew. The crew is frozen once the
// permit activates.
func (s *PermitService) AttachWorker(sc scope.Scope, permitID uuid.UUID, req WorkerRequest) (*models.PermitWorker, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if req.WorkerID == uuid.Nil {
		return nil, &ValidationError{Message: "worker_id is required", Fields: map[string]string{"worker_id": "required"}}
	}

	var worker *models.PermitWorker
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if !permitEditable(permit.Status) {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "crew is frozen after activation"}
		}
		// Re-attaching refreshes the existing row so device retries stay
		// idempotent under the (permit, worker) unique index.
		var existing models.PermitWorker
		err = tx.Where("permit_id = ? AND worker_id = ?", permit.ID, req.WorkerID).
			First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"role":           defaultString(req.Role, existing.Role),
				"training_valid": req.TrainingValid,
				"medical_valid":  req.MedicalValid,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update worker: %w", err)
			}
			worker = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			worker = &models.PermitWorker{
				TenantID:      sc.TenantID,
				PermitID:      permit.ID,
				WorkerID:      req.WorkerID,
				Role:          defaultString(req.Role, "worker"),
				TrainingValid: req.TrainingValid,
				MedicalValid:  req.MedicalValid,
			}
			if err := tx.Create(worker).Error; err != nil {
				return fmt.Errorf("attach worker: %w", err)
			}
		default:
			return fmt.Errorf("load worker: %w", err)
		}
		after := models.JSONMap{"worker_id": worker.WorkerID.String(), "role": worker.Role}
		return outbox.AppendAudit(tx, sc, permit.ID, "permit.worker_attached", models.JSONMap{}, after)
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// DetachWorker removes a worker from a pre-activation permit.
func (s *PermitService) DetachWorker(sc scope.Scope, permitID, workerID uuid.UUID) error {
	if err := sc.RequireWrite(); err != nil {
		return scopeError(err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if !permitEditable(permit.Status) {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "crew is frozen after activation"}
		}
		res := tx.Where("tenant_id = ? AND permit_id = ? AND worker_id = ?",
			sc.TenantID, permit.ID, workerID).Delete(&models.PermitWorker{})
		if res.Error != nil {
			return fmt.Errorf("detach worker: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		before := models.JSONMap{"worker_id": workerID.String()}
		return outbox.AppendAudit(tx, sc, permit.ID, "permit.worker_detached", before, models.JSONMap{})
	})
}

// HazardRequest links a hazard-library entry to a permit.
type HazardRequest struct {
	HazardRef    string
	Description  string
	Controls     string
	ResidualRisk string
}

// AddHazard records a hazard with its controls and residual risk.
func (s *PermitService) AddHazard(sc scope.Scope, permitID uuid.UUID, req HazardRequest) (*models.PermitHazard, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if req.HazardRef == "" {
		return nil, &ValidationError{Message: "hazard_ref is required", Fields: map[string]string{"hazard_ref": "required"}}
	}

	var hazard *models.PermitHazard
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if !permitEditable(permit.Status) {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "hazards are frozen after activation"}
		}
		hazard = &models.PermitHazard{
			TenantID:     sc.TenantID,
			PermitID:     permit.ID,
			HazardRef:    req.HazardRef,
			Description:  req.Description,
			Controls:     req.Controls,
			ResidualRisk: req.ResidualRisk,
		}
		if err := tx.Create(hazard).Error; err != nil {
			return fmt.Errorf("add hazard: %w", err)
		}
		after := models.JSONMap{"hazard_ref": hazard.HazardRef, "residual_risk": hazard.ResidualRisk}
		return outbox.AppendAudit(tx, sc, permit.ID, "permit.hazard_added", models.JSONMap{}, after)
	})
	if err != nil {
		return nil, err
	}
	return hazard, nil
}

// ToolboxTalkRequest records a pre-work briefing and its attendees.
type ToolboxTalkRequest struct {
	Topic       string
	ConductedAt time.Time
	Notes       string
	Attendees   []uuid.UUID
}

// RecordToolboxTalk stores a briefing with one acknowledgment row per attendee.
func (s *PermitService) RecordToolboxTalk(sc scope.Scope, permitID uuid.UUID, req ToolboxTalkRequest) (*models.ToolboxTalk, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if req.Topic == "" {
		return nil, &ValidationError{Message: "topic is required", Fields: map[string]string{"topic": "required"}}
	}

	var talk *models.ToolboxTalk
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		if permit.Status.Terminal() {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: "briefings cannot be recorded on a closed permit"}
		}
		conductedAt := req.ConductedAt
		if conductedAt.IsZero() {
			conductedAt = time.Now().UTC()
		}
		talk = &models.ToolboxTalk{
			TenantID:    sc.TenantID,
			PermitID:    permit.ID,
			Topic:       req.Topic,
			ConductedBy: sc.ActorID,
			ConductedAt: conductedAt.UTC(),
			Notes:       req.Notes,
		}
		if err := tx.Create(talk).Error; err != nil {
			return fmt.Errorf("record toolbox talk: %w", err)
		}
		now := time.Now().UTC()
		for _, workerID := range req.Attendees {
			att := models.ToolboxAttendance{
				TenantID:       sc.TenantID,
				TalkID:         talk.ID,
				WorkerID:       workerID,
				Acknowledged:   true,
				AcknowledgedAt: &now,
			}
			if err := tx.Create(&att).Error; err != nil {
				return fmt.Errorf("record attendance: %w", err)
			}
		}
		after := models.JSONMap{"topic": talk.Topic, "attendees": len(req.Attendees)}
		return outbox.AppendAudit(tx, sc, permit.ID, "permit.toolbox_talk", models.JSONMap{}, after)
	})
	if err != nil {
		return nil, err
	}
	return talk, nil
}

// AuditTrail returns the permit's audit rows, oldest first.
func (s *PermitService) AuditTrail(sc scope.Scope, permitID uuid.UUID) ([]models.PermitAudit, error) {
	if _, err := s.Get(sc, permitID); err != nil {
		return nil, err
	}
	var rows []models.PermitAudit
	err := s.db.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permitID).
		Order("timestamp, id").Find(&rows).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	return rows, nil
}
