package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/scope"
)

// KPIs summarizes the project's permit posture for dashboards.
type KPIs struct {
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"by_status"`
	Active           int64            `json:"active"`
	Overdue          int64            `json:"overdue"`
	ExpiringSoon     int64            `json:"expiring_soon"`
	HighRisk         int64            `json:"high_risk"`
	IsolationPending int64            `json:"isolation_pending"`
	CloseoutPending  int64            `json:"closeout_pending"`
	TopOverdue       []OverduePermit  `json:"top_overdue"`
}

// OverduePermit is one row of the top-overdue list, most overdue first.
type OverduePermit struct {
	ID           uuid.UUID `json:"id"`
	PermitNumber string    `json:"permit_number"`
	Title        string    `json:"title"`
	PlannedEnd   time.Time `json:"planned_end"`
	HoursOverdue float64   `json:"hours_overdue"`
}

// ComputeKPIs aggregates permit counts in scope. ExpiringSoon counts active
// permits whose planned end falls within the next 24 hours.
func (s *PermitService) ComputeKPIs(sc scope.Scope) (*KPIs, error) {
	k := &KPIs{ByStatus: map[string]int64{}}
	now := time.Now().UTC()

	type statusCount struct {
		Status models.PermitStatus
		N      int64
	}
	var counts []statusCount
	err := sc.TenantProject(s.db).Model(&models.Permit{}).
		Select("status, count(*) as n").Group("status").Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count permits by status: %w", err)
	}
	for _, c := range counts {
		k.ByStatus[string(c.Status)] = c.N
		k.Total += c.N
		if c.Status == models.StatusActive {
			k.Active = c.N
		}
	}

	err = sc.TenantProject(s.db).Model(&models.Permit{}).
		Where("status = ? AND planned_end < ?", models.StatusActive, now).
		Count(&k.Overdue).Error
	if err != nil {
		return nil, fmt.Errorf("count overdue permits: %w", err)
	}

	err = sc.TenantProject(s.db).Model(&models.Permit{}).
		Where("status = ? AND planned_end BETWEEN ? AND ?",
			models.StatusActive, now, now.Add(24*time.Hour)).
		Count(&k.ExpiringSoon).Error
	if err != nil {
		return nil, fmt.Errorf("count expiring permits: %w", err)
	}

	terminal := []models.PermitStatus{models.StatusCompleted, models.StatusCancelled,
		models.StatusExpired, models.StatusRejected}
	err = sc.TenantProject(s.db).Model(&models.Permit{}).
		Where("risk_level IN ? AND status NOT IN ?",
			[]models.RiskLevel{models.RiskHigh, models.RiskExtreme}, terminal).
		Count(&k.HighRisk).Error
	if err != nil {
		return nil, fmt.Errorf("count high-risk permits: %w", err)
	}

	// Open permits with a required isolation point not yet verified.
	awaiting := s.db.Model(&models.PermitIsolationPoint{}).
		Select("permit_id").
		Where("tenant_id = ? AND required = ? AND status IN ?", sc.TenantID, true,
			[]models.IsolationStatus{models.IsolationAssigned, models.IsolationIsolated})
	err = sc.TenantProject(s.db).Model(&models.Permit{}).
		Where("status NOT IN ? AND id IN (?)", terminal, awaiting).
		Count(&k.IsolationPending).Error
	if err != nil {
		return nil, fmt.Errorf("count isolation-pending permits: %w", err)
	}

	// Active or suspended permits whose closeout is not yet completed.
	closed := s.db.Model(&models.PermitCloseout{}).
		Select("permit_id").
		Where("tenant_id = ? AND status = ?", sc.TenantID, models.CloseoutCompleted)
	err = sc.TenantProject(s.db).Model(&models.Permit{}).
		Where("status IN ? AND id NOT IN (?)",
			[]models.PermitStatus{models.StatusActive, models.StatusSuspended}, closed).
		Count(&k.CloseoutPending).Error
	if err != nil {
		return nil, fmt.Errorf("count closeout-pending permits: %w", err)
	}

	var overdue []models.Permit
	err = sc.TenantProject(s.db).
		Where("status = ? AND planned_end < ?", models.StatusActive, now).
		Order("planned_end").Limit(5).Find(&overdue).Error
	if err != nil {
		return nil, fmt.Errorf("list top overdue permits: %w", err)
	}
	for _, p := range overdue {
		k.TopOverdue = append(k.TopOverdue, OverduePermit{
			ID:           p.ID,
			PermitNumber: p.PermitNumber,
			Title:        p.Title,
			PlannedEnd:   p.PlannedEnd,
			HoursOverdue: now.Sub(p.PlannedEnd).Hours(),
		})
	}

	return k, nil
}
