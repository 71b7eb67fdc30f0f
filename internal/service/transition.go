package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/metrics"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/rbac"
	"github.com/sitesafe/ptwcore/internal/requirements"
	"github.com/sitesafe/ptwcore/internal/scope"
	"github.com/sitesafe/ptwcore/internal/statemachine"
	"gorm.io/gorm"
)

// TransitionRequest carries a client's request to move a permit to a new status.
type TransitionRequest struct {
	PermitID uuid.UUID
	ToStatus string
	Comments string
	// DelegateID records an approval delegated to another identity.
	DelegateID *uuid.UUID
	// ExpectedVersion, when > 0, must match the stored permit version.
	ExpectedVersion int
}

// Transition moves a permit along one edge of the status graph. The pipeline
// is: scope check, edge legality, role capability and routing, requirements
// gate, then an optimistic write that bumps the version and records the audit
// and outbox rows in the same transaction.
func (s *PermitService) Transition(sc scope.Scope, req TransitionRequest) (*models.Permit, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	to, err := statemachine.Normalize(req.ToStatus)
	if err != nil {
		return nil, &ValidationError{Message: err.Error(), Fields: map[string]string{"to_status": "unknown"}}
	}

	var result *models.Permit
	err = s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, req.PermitID)
		if err != nil {
			return err
		}
		if req.ExpectedVersion > 0 && req.ExpectedVersion != permit.Version {
			return &VersionConflictError{ServerVersion: permit.Version, Fields: []string{"status"}}
		}

		action, err := statemachine.Resolve(permit.Status, to)
		if err != nil {
			return &TransitionError{From: permit.Status, To: to}
		}
		if permit.Status == models.StatusCancelled && to == models.StatusCancelled {
			// Idempotent replay: report success without a second audit row.
			result = permit
			return nil
		}

		if err := s.authorize(tx, sc, permit, action); err != nil {
			return err
		}

		if gate := statemachine.EvaluatorAction(action); gate != "" {
			in, err := s.snapshot(tx, sc, permit)
			if err != nil {
				return err
			}
			if unmet := requirements.Evaluate(in, gate); len(unmet) > 0 {
				for _, u := range unmet {
					metrics.RequirementFailures.WithLabelValues(u.Key).Inc()
				}
				return &RequirementsError{Action: gate, Unmet: unmet}
			}
		}

		return s.applyTransition(tx, sc, permit, to, action, req, &result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// authorize checks role capability for the action, then the routing table for
// chain actions: a contractor permit is verified by the EPC and approved by
// the client, so a different role performing those steps is rejected even when
// its rbac policy allows the action class.
func (s *PermitService) authorize(tx *gorm.DB, sc scope.Scope, permit *models.Permit, action statemachine.Action) error {
	if rbac.IsAdmin(sc.Role) {
		return nil
	}
	ok, err := rbac.Allowed(sc.Role, action)
	if err != nil {
		return fmt.Errorf("rbac check: %w", err)
	}
	if !ok {
		return &TransitionError{From: permit.Status, To: permit.Status,
			Reason: fmt.Sprintf("role %s may not %s", sc.Role, action)}
	}

	creatorRole, err := s.creatorRole(tx, sc, permit)
	if err != nil {
		return err
	}
	if routed := statemachine.RoleForAction(creatorRole, action); routed != "" && routed != sc.Role {
		return &TransitionError{From: permit.Status, To: permit.Status,
			Reason: fmt.Sprintf("action %s is routed to role %s", action, routed)}
	}
	route := statemachine.RouteFor(creatorRole)
	if route.RequiredGrade != "" && creatorRole == sc.Role && action == statemachine.ActionSubmit {
		if sc.Grade == "" || sc.Grade > route.RequiredGrade {
			return &TransitionError{From: permit.Status, To: permit.Status,
				Reason: fmt.Sprintf("grade %s or better required to submit", route.RequiredGrade)}
		}
	}
	return nil
}

func (s *PermitService) creatorRole(tx *gorm.DB, sc scope.Scope, permit *models.Permit) (string, error) {
	var creator models.Identity
	err := tx.Where("tenant_id = ? AND id = ?", sc.TenantID, permit.CreatedBy).First(&creator).Error
	if err != nil {
		// The creator may have been offboarded; route via the fallback row.
		return "", nil
	}
	return creator.Role, nil
}

// applyTransition performs the optimistic status write plus all side effects.
func (s *PermitService) applyTransition(tx *gorm.DB, sc scope.Scope, permit *models.Permit,
	to models.PermitStatus, action statemachine.Action, req TransitionRequest, result **models.Permit) error {

	now := time.Now().UTC()
	from := permit.Status
	updates := map[string]any{
		"status":  to,
		"version": permit.Version + 1,
	}

	switch action {
	case statemachine.ActionClaim, statemachine.ActionVerify:
		updates["verifier_id"] = sc.ActorID
	case statemachine.ActionReview:
		updates["current_approval_level"] = permit.CurrentApprovalLevel + 1
	case statemachine.ActionApprove:
		updates["approver_id"] = sc.ActorID
		updates["current_approval_level"] = permit.CurrentApprovalLevel + 1
	case statemachine.ActionIssue:
		updates["issuer_id"] = sc.ActorID
		updates["actual_start"] = now
	case statemachine.ActionComplete:
		updates["actual_end"] = now
	case statemachine.ActionReject:
		// Rework rejection resets the chain.
		updates["current_approval_level"] = 0
	}

	res := tx.Model(&models.Permit{}).
		Where("id = ? AND version = ?", permit.ID, permit.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update permit status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Permit
		if err := tx.First(&current, "id = ?", permit.ID).Error; err != nil {
			return fmt.Errorf("reload permit: %w", err)
		}
		return &VersionConflictError{ServerVersion: current.Version, Fields: []string{"status"}}
	}

	if decision := approvalDecision(action); decision != "" {
		row := models.PermitApproval{
			TenantID:   sc.TenantID,
			PermitID:   permit.ID,
			Level:      permit.CurrentApprovalLevel + 1,
			Decision:   decision,
			ActorID:    sc.ActorID,
			DelegateID: req.DelegateID,
			Comments:   req.Comments,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("record approval: %w", err)
		}
	}

	before := models.JSONMap{"status": string(from), "version": permit.Version}
	after := models.JSONMap{"status": string(to), "version": permit.Version + 1}
	auditAction := "permit." + string(action)
	if err := outbox.AppendAudit(tx, sc, permit.ID, auditAction, before, after); err != nil {
		return err
	}

	// Reload so the caller sees the side fields the update set.
	if err := tx.First(permit, "id = ?", permit.ID).Error; err != nil {
		return fmt.Errorf("reload permit: %w", err)
	}
	payload := outbox.Envelope(sc, permit, outbox.EventPermitTransitioned, map[string]any{
		"from_status": string(from),
		"to_status":   string(to),
		"action":      string(action),
	})
	if err := outbox.Enqueue(tx, sc, permit.ID, outbox.EventPermitTransitioned, payload); err != nil {
		return err
	}

	metrics.Transitions.WithLabelValues(string(to)).Inc()
	*result = permit
	return nil
}

// approvalDecision maps chain actions to the approval record they produce.
func approvalDecision(action statemachine.Action) models.ApprovalDecision {
	switch action {
	case statemachine.ActionVerify, statemachine.ActionReview, statemachine.ActionApprove:
		return models.DecisionApproved
	case statemachine.ActionReject, statemachine.ActionRejectFinal:
		return models.DecisionRejected
	}
	return ""
}
