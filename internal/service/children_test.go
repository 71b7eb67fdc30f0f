package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
)

func TestCrewFreezesOnActivation(t *testing.T) {
	env := setupEnv(t)
	pt := env.seedType(t, nil)
	permit, sc := env.activePermit(t, pt)

	var te *TransitionError
	if _, err := env.svc.AttachWorker(sc, permit.ID, WorkerRequest{
		WorkerID: uuid.New(), TrainingValid: true, MedicalValid: true,
	}); !errors.As(err, &te) {
		t.Errorf("attach on active permit = %v", err)
	}

	var crew []models.PermitWorker
	if err := env.db.Where("permit_id = ?", permit.ID).Find(&crew).Error; err != nil {
		t.Fatalf("load crew: %v", err)
	}
	if len(crew) != 1 {
		t.Fatalf("crew size = %d", len(crew))
	}
	if err := env.svc.DetachWorker(sc, permit.ID, crew[0].WorkerID); !errors.As(err, &te) {
		t.Errorf("detach on active permit = %v", err)
	}
}

func TestAttachWorkerIsIdempotentPerWorker(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	permit := env.createPermit(t, sc, pt)

	workerID := uuid.New()
	if _, err := env.svc.AttachWorker(sc, permit.ID, WorkerRequest{
		WorkerID: workerID, TrainingValid: true, MedicalValid: true,
	}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	// Re-attaching updates the existing row instead of duplicating it.
	if _, err := env.svc.AttachWorker(sc, permit.ID, WorkerRequest{
		WorkerID: workerID, Role: "fire_watch", TrainingValid: true, MedicalValid: true,
	}); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	var n int64
	if err := env.db.Model(&models.PermitWorker{}).
		Where("permit_id = ? AND worker_id = ?", permit.ID, workerID).
		Count(&n).Error; err != nil {
		t.Fatalf("count crew rows: %v", err)
	}
	if n != 1 {
		t.Errorf("crew rows = %d, want 1", n)
	}
}

func TestGasReadingsStayOpenWhileActive(t *testing.T) {
	env := setupEnv(t)
	pt := env.seedType(t, nil)
	permit, sc := env.activePermit(t, pt)

	reading, err := env.svc.AddGasReading(sc, permit.ID, GasReadingRequest{
		GasType: "O2", Value: 20.9, Unit: "%",
	})
	if err != nil {
		t.Fatalf("AddGasReading on active permit: %v", err)
	}
	if reading.Status != models.GasSafe {
		t.Errorf("derived status = %s", reading.Status)
	}

	permit = env.transition(t, sc, permit, "completed")
	if _, err := env.svc.AddGasReading(sc, permit.ID, GasReadingRequest{
		GasType: "O2", Value: 20.9, Unit: "%",
	}); err == nil {
		t.Error("reading accepted on completed permit")
	}
}

func TestHazardAndToolboxTalk(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	permit := env.createPermit(t, sc, pt)

	hazard, err := env.svc.AddHazard(sc, permit.ID, HazardRequest{
		HazardRef:    "HZ-SPARKS",
		Description:  "Hot sparks near cable tray",
		Controls:     "Fire blanket, watch posted",
		ResidualRisk: "medium",
	})
	if err != nil {
		t.Fatalf("AddHazard: %v", err)
	}
	if hazard.HazardRef != "HZ-SPARKS" {
		t.Errorf("hazard = %+v", hazard)
	}
	var storedHazard models.PermitHazard
	if err := env.db.First(&storedHazard, "id = ?", hazard.ID).Error; err != nil {
		t.Fatalf("reload hazard: %v", err)
	}
	if storedHazard.ResidualRisk != "medium" {
		t.Errorf("residual risk = %q, want %q", storedHazard.ResidualRisk, "medium")
	}
	if _, err := env.svc.AddHazard(sc, permit.ID, HazardRequest{}); err == nil {
		t.Error("hazard without ref accepted")
	}

	attendees := []uuid.UUID{uuid.New(), uuid.New()}
	talk, err := env.svc.RecordToolboxTalk(sc, permit.ID, ToolboxTalkRequest{
		Topic:     "Pre-shift briefing",
		Attendees: attendees,
	})
	if err != nil {
		t.Fatalf("RecordToolboxTalk: %v", err)
	}
	var acks int64
	if err := env.db.Model(&models.ToolboxAttendance{}).
		Where("talk_id = ?", talk.ID).Count(&acks).Error; err != nil {
		t.Fatalf("count attendance: %v", err)
	}
	if acks != 2 {
		t.Errorf("attendance rows = %d", acks)
	}
}

func TestComputeKPIs(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	highRisk := env.seedType(t, func(p *models.PermitType) { p.RiskLevel = models.RiskHigh })

	// One draft, one active-overdue, one active expiring soon, one high-risk draft.
	draft := env.createPermit(t, sc, pt)
	env.createPermit(t, sc, highRisk)

	// The draft has a required breaker still waiting for verification.
	point := models.PermitIsolationPoint{
		TenantID: env.tenantID, PermitID: draft.ID,
		Tag: "CB-1", PointType: "breaker", EnergyType: "electrical",
		Status: models.IsolationAssigned, Required: true, Version: 1,
	}
	if err := env.db.Create(&point).Error; err != nil {
		t.Fatalf("seed isolation point: %v", err)
	}

	overdue, _ := env.activePermit(t, pt)
	if err := env.db.Model(&models.Permit{}).Where("id = ?", overdue.ID).
		Update("planned_end", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate permit: %v", err)
	}
	expiring, _ := env.activePermit(t, pt)
	if err := env.db.Model(&models.Permit{}).Where("id = ?", expiring.ID).
		Update("planned_end", time.Now().UTC().Add(2*time.Hour)).Error; err != nil {
		t.Fatalf("shorten permit: %v", err)
	}

	k, err := env.svc.ComputeKPIs(sc)
	if err != nil {
		t.Fatalf("ComputeKPIs: %v", err)
	}
	if k.Total != 4 || k.Active != 2 {
		t.Errorf("totals = %+v", k)
	}
	if k.ByStatus["draft"] != 2 || k.ByStatus["active"] != 2 {
		t.Errorf("by_status = %v", k.ByStatus)
	}
	if k.Overdue != 1 || k.ExpiringSoon != 1 || k.HighRisk != 1 {
		t.Errorf("overdue=%d expiring=%d high_risk=%d", k.Overdue, k.ExpiringSoon, k.HighRisk)
	}
	if k.IsolationPending != 1 {
		t.Errorf("isolation_pending = %d", k.IsolationPending)
	}
	// Neither active permit has a completed closeout yet.
	if k.CloseoutPending != 2 {
		t.Errorf("closeout_pending = %d", k.CloseoutPending)
	}
	if len(k.TopOverdue) != 1 || k.TopOverdue[0].ID != overdue.ID {
		t.Fatalf("top_overdue = %+v", k.TopOverdue)
	}
	if k.TopOverdue[0].HoursOverdue < 0.5 || k.TopOverdue[0].HoursOverdue > 2 {
		t.Errorf("hours_overdue = %f", k.TopOverdue[0].HoursOverdue)
	}

	// KPIs are project-scoped.
	foreign := sc
	foreign.ProjectID = uuid.New()
	empty, err := env.svc.ComputeKPIs(foreign)
	if err != nil {
		t.Fatalf("foreign ComputeKPIs: %v", err)
	}
	if empty.Total != 0 {
		t.Errorf("foreign total = %d", empty.Total)
	}
}
