package service

import (
	"errors"
	"testing"

	"github.com/sitesafe/ptwcore/internal/isolation"
	"github.com/sitesafe/ptwcore/internal/models"
)

func isolationType(pt *models.PermitType) {
	pt.RequiresStructuredIsolation = true
	pt.RequiresDeisolationOnCloseout = true
}

func TestIsolationPointLifecycle(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, isolationType)
	permit := env.createPermit(t, sc, pt)
	env.attachCrew(t, sc, permit)

	point, err := env.svc.AssignIsolationPoint(sc, permit.ID, isolation.AssignRequest{
		Tag:        "CB-101",
		PointType:  "breaker",
		EnergyType: "electrical",
	})
	if err != nil {
		t.Fatalf("AssignIsolationPoint: %v", err)
	}
	if point.Status != models.IsolationAssigned || !point.Required {
		t.Fatalf("assigned point = %+v", point)
	}

	// Activation is gated until the required point is verified.
	permit = env.transition(t, sc, permit, "submitted")
	permit = env.transition(t, sc, permit, "under_review")
	permit = env.transition(t, sc, permit, "pending_approval")
	permit = env.transition(t, sc, permit, "approved")
	_, err = env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "active"})
	var re *RequirementsError
	if !errors.As(err, &re) {
		t.Fatalf("expected activation blocked, got %v", err)
	}

	point, err = env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target:  models.IsolationIsolated,
		LockIDs: []string{"LOCK-7"},
	})
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}
	if !point.LockApplied || point.Status != models.IsolationIsolated {
		t.Fatalf("isolated point = %+v", point)
	}

	if _, err := env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationVerified,
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	permit = env.transition(t, sc, permit, "active")

	// Completion demands deisolation for this type.
	_, err = env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "completed"})
	if !errors.As(err, &re) {
		t.Fatalf("expected completion blocked on deisolation, got %v", err)
	}
	if _, err := env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationDeisolated,
	}); err != nil {
		t.Fatalf("deisolate: %v", err)
	}
	if _, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestIsolationStatusIsMonotonic(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, isolationType)
	permit := env.createPermit(t, sc, pt)

	point, err := env.svc.AssignIsolationPoint(sc, permit.ID, isolation.AssignRequest{
		Tag: "V-17", PointType: "valve", EnergyType: "mechanical",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	point, err = env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationIsolated, LockIDs: []string{"LOCK-1"},
	})
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}

	// Regression back to assigned is rejected.
	_, err = env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationAssigned,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected regression rejected, got %v", err)
	}

	// Repeating the current status is an idempotent no-op.
	same, err := env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationIsolated, LockIDs: []string{"LOCK-1"},
	})
	if err != nil {
		t.Fatalf("idempotent isolate: %v", err)
	}
	if same.Version != point.Version {
		t.Errorf("no-op bumped version %d -> %d", point.Version, same.Version)
	}
}

func TestIsolationLockRequired(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, isolationType)
	permit := env.createPermit(t, sc, pt)

	locks := 1
	point, err := env.svc.AssignIsolationPoint(sc, permit.ID, isolation.AssignRequest{
		Tag: "CB-7", PointType: "breaker", EnergyType: "electrical", LockCount: &locks,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Isolating without lock IDs while a lock is required fails.
	_, err = env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationIsolated,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected lock requirement, got %v", err)
	}
}

func TestIndependentVerifierPolicy(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	other := env.seedIdentity(t, models.RoleSafetyOfficer, "A")
	pt := env.seedType(t, isolationType)
	permit := env.createPermit(t, sc, pt)

	// Flip the project flag on: verifier must differ from isolator.
	if err := env.db.Model(&models.Project{}).Where("id = ?", env.projectID).
		Update("independent_verifier", true).Error; err != nil {
		t.Fatalf("set project flag: %v", err)
	}

	point, err := env.svc.AssignIsolationPoint(sc, permit.ID, isolation.AssignRequest{
		Tag: "CB-9", PointType: "breaker", EnergyType: "electrical",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationIsolated, LockIDs: []string{"LOCK-2"},
	}); err != nil {
		t.Fatalf("isolate: %v", err)
	}

	// The isolator cannot verify their own isolation.
	_, err = env.svc.TransitionIsolationPoint(sc, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationVerified,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected same-verifier rejection, got %v", err)
	}

	// A second pair of eyes can.
	if _, err := env.svc.TransitionIsolationPoint(other, permit.ID, point.ID, isolation.TransitionRequest{
		Target: models.IsolationVerified,
	}); err != nil {
		t.Fatalf("independent verify: %v", err)
	}
}

func TestIsolationAggregate(t *testing.T) {
	points := []models.PermitIsolationPoint{
		{Required: true, Status: models.IsolationAssigned},
		{Required: true, Status: models.IsolationIsolated},
		{Required: false, Status: models.IsolationVerified},
		{Required: true, Status: models.IsolationDeisolated},
	}
	stats := isolation.Aggregate(points)
	if stats.Total != 4 || stats.Required != 3 {
		t.Errorf("totals = %+v", stats)
	}
	if stats.Assigned != 1 || stats.Isolated != 1 || stats.Verified != 1 || stats.Deisolated != 1 {
		t.Errorf("per-status = %+v", stats)
	}
	if stats.PendingVerification != 1 {
		t.Errorf("pending verification = %d", stats.PendingVerification)
	}
}
