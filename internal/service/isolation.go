package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/isolation"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// AssignIsolationPoint adds a point to a pre-approval permit.
func (s *PermitService) AssignIsolationPoint(sc scope.Scope, permitID uuid.UUID, req isolation.AssignRequest) (*models.PermitIsolationPoint, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	var point *models.PermitIsolationPoint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		point, err = isolation.Assign(tx, sc, permit, req)
		return mapIsolationError(err, permit)
	})
	if err != nil {
		return nil, err
	}
	return point, nil
}

// TransitionIsolationPoint advances a point's lifecycle. The independent
// verifier rule is resolved here: the project flag wins, falling back to the
// tenant-wide policy.
func (s *PermitService) TransitionIsolationPoint(sc scope.Scope, permitID, pointID uuid.UUID, req isolation.TransitionRequest) (*models.PermitIsolationPoint, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	var point models.PermitIsolationPoint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		permit, err := s.getForUpdate(tx, sc, permitID)
		if err != nil {
			return err
		}
		err = tx.Where("tenant_id = ? AND permit_id = ? AND id = ?",
			sc.TenantID, permit.ID, pointID).First(&point).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load isolation point: %w", err)
		}

		independent, err := s.independentVerifier(tx, sc)
		if err != nil {
			return err
		}
		req.IndependentVerifier = independent

		changed, err := isolation.Transition(tx, sc, permit, &point, req)
		if err != nil {
			return mapIsolationError(err, permit)
		}
		if !changed {
			return nil
		}
		// Reload so the caller sees the actor and timestamp fields.
		if err := tx.First(&point, "id = ?", point.ID).Error; err != nil {
			return fmt.Errorf("reload isolation point: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &point, nil
}

// IsolationStatus returns the permit's points plus their aggregate posture.
func (s *PermitService) IsolationStatus(sc scope.Scope, permitID uuid.UUID) ([]models.PermitIsolationPoint, isolation.Stats, error) {
	if _, err := s.Get(sc, permitID); err != nil {
		return nil, isolation.Stats{}, err
	}
	var points []models.PermitIsolationPoint
	err := s.db.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permitID).
		Order("tag").Find(&points).Error
	if err != nil {
		return nil, isolation.Stats{}, fmt.Errorf("load isolation points: %w", err)
	}
	return points, isolation.Aggregate(points), nil
}

// independentVerifier resolves the verifier policy: project flag first, then
// the tenant-wide policy row.
func (s *PermitService) independentVerifier(tx *gorm.DB, sc scope.Scope) (bool, error) {
	var project models.Project
	err := tx.Where("tenant_id = ? AND id = ?", sc.TenantID, sc.ProjectID).First(&project).Error
	if err == nil && project.IndependentVerifier {
		return true, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("load project: %w", err)
	}

	var policy models.TenantPolicy
	err = tx.Where("tenant_id = ?", sc.TenantID).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load tenant policy: %w", err)
	}
	return policy.IndependentVerifier, nil
}

// mapIsolationError lifts engine errors into the service taxonomy.
func mapIsolationError(err error, permit *models.Permit) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, isolation.ErrPointNotFound):
		return ErrNotFound
	case errors.Is(err, isolation.ErrPermitNotEditable):
		return &TransitionError{From: permit.Status, To: permit.Status,
			Reason: "permit is not accepting isolation changes"}
	case errors.Is(err, isolation.ErrLockRequired), errors.Is(err, isolation.ErrSameVerifier):
		return &ValidationError{Message: err.Error()}
	case errors.Is(err, isolation.ErrVersionConflict):
		return &VersionConflictError{Fields: []string{"status"}}
	default:
		var regression *isolation.StatusRegressionError
		if errors.As(err, &regression) {
			return &ValidationError{Message: regression.Error(),
				Fields: map[string]string{"status": "regression"}}
		}
		return err
	}
}
