// Package service orchestrates permit operations: it loads scoped state,
// consults the state machine, the requirements evaluator, and the isolation
// engine, and persists results together with their audit and outbox rows.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/outbox"
	"github.com/sitesafe/ptwcore/internal/registry"
	"github.com/sitesafe/ptwcore/internal/requirements"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
)

// PermitService is the write/read facade over the permit aggregate.
type PermitService struct {
	db       *gorm.DB
	registry *registry.Registry
}

// New creates a PermitService.
func New(db *gorm.DB, reg *registry.Registry) *PermitService {
	return &PermitService{db: db, registry: reg}
}

// DB exposes the handle for callers composing their own scoped reads.
func (s *PermitService) DB() *gorm.DB { return s.db }

// Registry exposes the permit-type registry.
func (s *PermitService) Registry() *registry.Registry { return s.registry }

// CreateRequest carries the fields accepted when opening a draft permit.
type CreateRequest struct {
	PermitTypeID     uuid.UUID
	Title            string
	Description      string
	Location         string
	Priority         string
	PlannedStart     time.Time
	PlannedEnd       time.Time
	Probability      int
	Severity         int
	PPERequirements  []string
	SafetyChecklist  models.JSONMap
	IsolationDetails string
	ComplianceStds   []string
}

// Create opens a new permit in draft, assigns its tenant-unique number, and
// publishes permit.created.
func (s *PermitService) Create(sc scope.Scope, req CreateRequest) (*models.Permit, error) {
	if err := sc.RequireWrite(); err != nil {
		return nil, scopeError(err)
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	pt, err := s.registry.Get(sc, req.PermitTypeID)
	if err != nil {
		if errors.Is(err, registry.ErrTypeNotFound) {
			return nil, &ValidationError{Message: "unknown permit type", Fields: map[string]string{"permit_type_id": "unknown"}}
		}
		return nil, err
	}

	permit := &models.Permit{
		TenantID:          sc.TenantID,
		ProjectID:         sc.ProjectID,
		PermitTypeID:      pt.ID,
		PermitTypeVersion: pt.Version,
		Title:             req.Title,
		Description:       req.Description,
		Location:          req.Location,
		Priority:          defaultString(req.Priority, "normal"),
		Status:            models.StatusDraft,
		PlannedStart:      req.PlannedStart.UTC(),
		PlannedEnd:        req.PlannedEnd.UTC(),
		RiskLevel:         pt.RiskLevel,
		Probability:       defaultInt(req.Probability, 1),
		Severity:          defaultInt(req.Severity, 1),
		CreatedBy:         sc.ActorID,
		PPERequirements:   req.PPERequirements,
		SafetyChecklist:   req.SafetyChecklist,
		IsolationDetails:  req.IsolationDetails,
		ComplianceStds:    req.ComplianceStds,
		Version:           1,
	}
	permit.RiskScore = permit.ComputeRiskScore(pt.RiskLevel)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		number, err := nextPermitNumber(tx, sc.TenantID, permit.PlannedStart.Year())
		if err != nil {
			return err
		}
		permit.PermitNumber = number

		if err := tx.Create(permit).Error; err != nil {
			return fmt.Errorf("create permit: %w", err)
		}

		after := models.JSONMap{
			"status":        string(permit.Status),
			"permit_number": permit.PermitNumber,
			"title":         permit.Title,
		}
		if err := outbox.AppendAudit(tx, sc, permit.ID, "permit.create", models.JSONMap{}, after); err != nil {
			return err
		}
		payload := outbox.Envelope(sc, permit, outbox.EventPermitCreated, nil)
		return outbox.Enqueue(tx, sc, permit.ID, outbox.EventPermitCreated, payload)
	})
	if err != nil {
		return nil, err
	}
	return permit, nil
}

func validateCreate(req CreateRequest) error {
	fields := map[string]string{}
	if req.PermitTypeID == uuid.Nil {
		fields["permit_type_id"] = "required"
	}
	if req.Title == "" {
		fields["title"] = "required"
	}
	if req.Location == "" {
		fields["location"] = "required"
	}
	if req.PlannedStart.IsZero() || req.PlannedEnd.IsZero() {
		fields["planned_window"] = "planned_start and planned_end are required"
	} else if !req.PlannedEnd.After(req.PlannedStart) {
		fields["planned_end"] = "must be after planned_start"
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid permit payload", Fields: fields}
	}
	return nil
}

// nextPermitNumber allocates the next PTW-{year}-{seq} for the tenant. The
// counter row is incremented inside the caller's transaction so two creates
// can never share a number.
func nextPermitNumber(tx *gorm.DB, tenantID uuid.UUID, year int) (string, error) {
	res := tx.Model(&models.PermitNumberCounter{}).
		Where("tenant_id = ? AND year = ?", tenantID, year).
		Update("seq", gorm.Expr("seq + 1"))
	if res.Error != nil {
		return "", fmt.Errorf("bump permit counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		counter := models.PermitNumberCounter{TenantID: tenantID, Year: year, Seq: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return "", fmt.Errorf("create permit counter: %w", err)
		}
		return fmt.Sprintf("PTW-%d-%04d", year, 1), nil
	}

	var counter models.PermitNumberCounter
	if err := tx.Where("tenant_id = ? AND year = ?", tenantID, year).First(&counter).Error; err != nil {
		return "", fmt.Errorf("read permit counter: %w", err)
	}
	return fmt.Sprintf("PTW-%d-%04d", year, counter.Seq), nil
}

// Get loads a permit with its owned collections.
func (s *PermitService) Get(sc scope.Scope, id uuid.UUID) (*models.Permit, error) {
	var permit models.Permit
	err := sc.TenantProject(s.db).
		Preload("PermitType").
		Preload("Approvals").
		Preload("Workers").
		Preload("Hazards").
		Preload("GasReadings").
		Preload("Photos").
		Preload("IsolationPoints").
		Preload("Extensions").
		First(&permit, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load permit: %w", err)
	}
	return &permit, nil
}

// getForUpdate loads the bare permit row inside a transaction.
func (s *PermitService) getForUpdate(tx *gorm.DB, sc scope.Scope, id uuid.UUID) (*models.Permit, error) {
	var permit models.Permit
	err := sc.TenantProject(tx).First(&permit, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load permit: %w", err)
	}
	return &permit, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status  models.PermitStatus
	TypeID  uuid.UUID
	Overdue bool
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// List returns permits in scope, newest first.
func (s *PermitService) List(sc scope.Scope, f ListFilter) ([]models.Permit, error) {
	q := sc.TenantProject(s.db).Model(&models.Permit{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.TypeID != uuid.Nil {
		q = q.Where("permit_type_id = ?", f.TypeID)
	}
	if f.Overdue {
		q = q.Where("status = ? AND planned_end < ?", models.StatusActive, time.Now().UTC())
	}
	if !f.From.IsZero() {
		q = q.Where("planned_start >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("planned_end <= ?", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var permits []models.Permit
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&permits).Error
	if err != nil {
		return nil, fmt.Errorf("list permits: %w", err)
	}
	return permits, nil
}

// snapshot loads everything the requirements evaluator needs about a permit.
func (s *PermitService) snapshot(tx *gorm.DB, sc scope.Scope, permit *models.Permit) (requirements.Input, error) {
	in := requirements.Input{Permit: *permit}

	pt, err := s.registry.WithTx(tx).GetVersion(sc, permit.PermitTypeID, permit.PermitTypeVersion)
	if err != nil {
		return in, err
	}
	in.Type = *pt

	var readings []models.GasReading
	err = tx.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).
		Order("measured_at").Find(&readings).Error
	if err != nil {
		return in, fmt.Errorf("load gas readings: %w", err)
	}
	in.LatestGas = map[string]models.GasReading{}
	for _, r := range readings {
		// Ascending order means the last write per gas wins.
		in.LatestGas[r.GasType] = r
	}

	err = tx.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).Find(&in.Points).Error
	if err != nil {
		return in, fmt.Errorf("load isolation points: %w", err)
	}

	err = tx.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).Find(&in.Workers).Error
	if err != nil {
		return in, fmt.Errorf("load workers: %w", err)
	}

	var closeout models.PermitCloseout
	err = tx.Where("tenant_id = ? AND permit_id = ?", sc.TenantID, permit.ID).First(&closeout).Error
	if err == nil {
		in.Closeout = &closeout
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return in, fmt.Errorf("load closeout: %w", err)
	}

	var count int64
	err = tx.Model(&models.PermitExtension{}).
		Where("tenant_id = ? AND permit_id = ? AND status IN ?", sc.TenantID, permit.ID,
			[]models.ExtensionStatus{models.ExtensionPending, models.ExtensionApproved}).
		Count(&count).Error
	if err != nil {
		return in, fmt.Errorf("count extensions: %w", err)
	}
	in.NonRejectedExtensions = int(count)

	return in, nil
}

func scopeError(err error) error {
	if errors.Is(err, scope.ErrCrossTenantWriteDenied) {
		return &CollaborationDeniedError{}
	}
	return &ScopeError{Reason: err.Error()}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
