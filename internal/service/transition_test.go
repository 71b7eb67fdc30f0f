package service

import (
	"errors"
	"testing"

	"github.com/sitesafe/ptwcore/internal/models"
)

// TestRoutedLifecycleVersionAccounting walks a contractor permit through its
// whole life with the routed roles and checks that every transition bumps the
// version by exactly one while child appends leave it alone.
func TestRoutedLifecycleVersionAccounting(t *testing.T) {
	env := setupEnv(t)
	contractor := env.seedIdentity(t, models.RoleContractor, "B")
	epc := env.seedIdentity(t, models.RoleEPCEngineer, "A")
	client := env.seedIdentity(t, models.RoleClientEngineer, "A")
	officer := env.seedIdentity(t, models.RoleSafetyOfficer, "A")
	pt := env.seedType(t, nil)

	permit := env.createPermit(t, contractor, pt)
	if permit.Version != 1 {
		t.Fatalf("after create: version %d", permit.Version)
	}

	env.attachCrew(t, contractor, permit)
	reloaded, err := env.svc.Get(contractor, permit.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reloaded.Version != 1 {
		t.Fatalf("worker append bumped permit version to %d", reloaded.Version)
	}

	permit = env.transition(t, contractor, permit, "submitted")
	if permit.Version != 2 {
		t.Fatalf("after submit: version %d", permit.Version)
	}

	// Verification is routed to the EPC for contractor-created permits.
	permit = env.transition(t, epc, permit, "under_review")
	if permit.Version != 3 || permit.VerifierID == nil || *permit.VerifierID != epc.ActorID {
		t.Fatalf("after verify: version %d verifier %v", permit.Version, permit.VerifierID)
	}

	permit = env.transition(t, client, permit, "pending_approval")
	if permit.Version != 4 || permit.CurrentApprovalLevel != 1 {
		t.Fatalf("after review: version %d level %d", permit.Version, permit.CurrentApprovalLevel)
	}

	permit = env.transition(t, client, permit, "approved")
	if permit.Version != 5 || permit.ApproverID == nil || *permit.ApproverID != client.ActorID {
		t.Fatalf("after approve: version %d approver %v", permit.Version, permit.ApproverID)
	}

	permit = env.transition(t, officer, permit, "active")
	if permit.Version != 6 || permit.ActualStart == nil {
		t.Fatalf("after issue: version %d actual_start %v", permit.Version, permit.ActualStart)
	}

	// Gas readings recorded while active never bump the permit version.
	if _, err := env.svc.AddGasReading(officer, permit.ID, GasReadingRequest{GasType: "O2", Value: 20.9, Unit: "%"}); err != nil {
		t.Fatalf("AddGasReading: %v", err)
	}

	permit = env.transition(t, officer, permit, "completed")
	if permit.Version != 7 || permit.ActualEnd == nil {
		t.Fatalf("after complete: version %d actual_end %v", permit.Version, permit.ActualEnd)
	}

	// Every chain step left an approval record.
	var approvals []models.PermitApproval
	env.db.Where("permit_id = ?", permit.ID).Find(&approvals)
	if len(approvals) != 3 {
		t.Fatalf("approval rows = %d, want verify+review+approve", len(approvals))
	}
	for _, a := range approvals {
		if a.Decision != models.DecisionApproved {
			t.Errorf("approval decision = %s", a.Decision)
		}
	}
}

func TestSubmitGradeGate(t *testing.T) {
	env := setupEnv(t)
	pt := env.seedType(t, nil)

	// Contractors need competency grade C or better to submit.
	weak := env.seedIdentity(t, models.RoleContractor, "D")
	permit := env.createPermit(t, weak, pt)
	_, err := env.svc.Transition(weak, TransitionRequest{PermitID: permit.ID, ToStatus: "submitted"})
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected grade rejection, got %v", err)
	}

	strong := env.seedIdentity(t, models.RoleContractor, "C")
	permit2 := env.createPermit(t, strong, pt)
	if _, err := env.svc.Transition(strong, TransitionRequest{PermitID: permit2.ID, ToStatus: "submitted"}); err != nil {
		t.Fatalf("grade C submit: %v", err)
	}
}

func TestChainActionsFollowRouting(t *testing.T) {
	env := setupEnv(t)
	contractor := env.seedIdentity(t, models.RoleContractor, "B")
	client := env.seedIdentity(t, models.RoleClientEngineer, "A")
	pt := env.seedType(t, nil)

	permit := env.createPermit(t, contractor, pt)
	permit = env.transition(t, contractor, permit, "submitted")

	// The client engineer's rbac policy allows verification in general, but
	// contractor permits route verification to the EPC.
	_, err := env.svc.Transition(client, TransitionRequest{PermitID: permit.ID, ToStatus: "under_review"})
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected routing rejection, got %v", err)
	}

	// Admins bypass routing.
	admin := env.seedIdentity(t, models.RoleAdmin, "")
	if _, err := env.svc.Transition(admin, TransitionRequest{PermitID: permit.ID, ToStatus: "under_review"}); err != nil {
		t.Fatalf("admin verify: %v", err)
	}
}

func TestIllegalEdgeRejected(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	permit := env.createPermit(t, sc, pt)

	_, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "active"})
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != models.StatusDraft || te.To != models.StatusActive {
		t.Errorf("error edge = %s -> %s", te.From, te.To)
	}
}

func TestExpectedVersionGuard(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	permit := env.createPermit(t, sc, pt)

	_, err := env.svc.Transition(sc, TransitionRequest{
		PermitID: permit.ID, ToStatus: "submitted", ExpectedVersion: 99,
	})
	var vc *VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if vc.ServerVersion != 1 {
		t.Errorf("server version = %d, want 1", vc.ServerVersion)
	}

	if _, err := env.svc.Transition(sc, TransitionRequest{
		PermitID: permit.ID, ToStatus: "submitted", ExpectedVersion: 1,
	}); err != nil {
		t.Fatalf("matching expected version: %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)
	permit := env.createPermit(t, sc, pt)

	cancelled := env.transition(t, sc, permit, "cancelled")
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	audits := env.auditCount(t, permit.ID)

	// A replayed cancel succeeds without a second audit row or version bump.
	again, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "cancelled"})
	if err != nil {
		t.Fatalf("replayed cancel: %v", err)
	}
	if again.Version != cancelled.Version {
		t.Errorf("replay bumped version: %d -> %d", cancelled.Version, again.Version)
	}
	if n := env.auditCount(t, permit.ID); n != audits {
		t.Errorf("replay wrote audit rows: %d -> %d", audits, n)
	}
}

func TestGasReadingsGateReview(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, func(pt *models.PermitType) {
		pt.RequiresGasTesting = true
		pt.RequiredGases = models.StringList{"O2", "LEL"}
	})

	permit := env.createPermit(t, sc, pt)
	env.attachCrew(t, sc, permit)
	permit = env.transition(t, sc, permit, "submitted")
	permit = env.transition(t, sc, permit, "under_review")

	// Review is gated on fresh safe readings for every required gas.
	_, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "pending_approval"})
	var re *RequirementsError
	if !errors.As(err, &re) {
		t.Fatalf("expected RequirementsError, got %v", err)
	}
	if re.Unmet[0].Key != "gas_readings" {
		t.Fatalf("unmet key = %s", re.Unmet[0].Key)
	}

	if _, err := env.svc.AddGasReading(sc, permit.ID, GasReadingRequest{GasType: "O2", Value: 20.9, Unit: "%"}); err != nil {
		t.Fatalf("AddGasReading O2: %v", err)
	}
	if _, err := env.svc.AddGasReading(sc, permit.ID, GasReadingRequest{GasType: "LEL", Value: 12, Unit: "%LEL"}); err != nil {
		t.Fatalf("AddGasReading LEL: %v", err)
	}

	// The latest LEL reading is unsafe, so the gate still fails.
	if _, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "pending_approval"}); !errors.As(err, &re) {
		t.Fatalf("expected unsafe LEL to block, got %v", err)
	}

	// A newer safe reading supersedes it.
	if _, err := env.svc.AddGasReading(sc, permit.ID, GasReadingRequest{GasType: "LEL", Value: 2, Unit: "%LEL"}); err != nil {
		t.Fatalf("AddGasReading LEL retest: %v", err)
	}
	if _, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "pending_approval"}); err != nil {
		t.Fatalf("review after retest: %v", err)
	}
}

func TestReworkRejectionResetsChain(t *testing.T) {
	env := setupEnv(t)
	sc := env.seedIdentity(t, models.RoleAdmin, "")
	pt := env.seedType(t, nil)

	permit := env.createPermit(t, sc, pt)
	env.attachCrew(t, sc, permit)
	for _, to := range []string{"submitted", "under_review", "pending_approval"} {
		permit = env.transition(t, sc, permit, to)
	}
	if permit.CurrentApprovalLevel != 1 {
		t.Fatalf("level before rejection = %d", permit.CurrentApprovalLevel)
	}

	permit = env.transition(t, sc, permit, "draft")
	if permit.Status != models.StatusDraft {
		t.Fatalf("status = %s", permit.Status)
	}
	reloaded, _ := env.svc.Get(sc, permit.ID)
	if reloaded.CurrentApprovalLevel != 0 {
		t.Errorf("rework rejection kept level %d", reloaded.CurrentApprovalLevel)
	}

	// The permit can run the chain again after rework.
	permit = env.transition(t, sc, reloaded, "submitted")
	permit = env.transition(t, sc, permit, "under_review")
	permit = env.transition(t, sc, permit, "pending_approval")

	// A final rejection is terminal.
	permit = env.transition(t, sc, permit, "rejected")
	if !permit.Status.Terminal() {
		t.Fatalf("rejected should be terminal")
	}
	if _, err := env.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: "submitted"}); err == nil {
		t.Fatal("expected terminal permit to refuse transitions")
	}
}
