package requirements

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
)

func hasKey(unmet []Unmet, key string) bool {
	for _, u := range unmet {
		if u.Key == key {
			return true
		}
	}
	return false
}

func baseInput() Input {
	return Input{
		Permit: models.Permit{Status: models.StatusPendingApproval},
		Type: models.PermitType{
			MinPersonnelRequired: 1,
		},
		Workers: []models.PermitWorker{{WorkerID: uuid.New(), TrainingValid: true}},
	}
}

func TestEvaluatePasses(t *testing.T) {
	if unmet := Evaluate(baseInput(), ActionApproval); len(unmet) != 0 {
		t.Fatalf("expected clean pass, got %+v", unmet)
	}
}

func TestGasGate(t *testing.T) {
	in := baseInput()
	in.Type.RequiresGasTesting = true
	in.Type.RequiredGases = models.StringList{"O2", "LEL", "H2S"}

	// No readings at all: every required gas is reported.
	unmet := Evaluate(in, ActionActivation)
	if !hasKey(unmet, KeyGasReadings) {
		t.Fatalf("expected gas_readings unmet, got %+v", unmet)
	}
	if got := len(unmet[0].Items); got != 3 {
		t.Fatalf("expected 3 missing gases, got %d", got)
	}

	// Latest reading per gas decides: an unsafe latest blocks even if an
	// earlier reading was safe.
	in.LatestGas = map[string]models.GasReading{
		"O2":  {GasType: "O2", Status: models.GasSafe},
		"LEL": {GasType: "LEL", Status: models.GasUnsafe},
		"H2S": {GasType: "H2S", Status: models.GasSafe},
	}
	unmet = Evaluate(in, ActionActivation)
	if !hasKey(unmet, KeyGasReadings) {
		t.Fatalf("expected gas gate to fail on unsafe LEL, got %+v", unmet)
	}
	if len(unmet[0].Items) != 1 || unmet[0].Items[0] != "LEL" {
		t.Fatalf("expected only LEL flagged, got %v", unmet[0].Items)
	}

	in.LatestGas["LEL"] = models.GasReading{GasType: "LEL", Status: models.GasSafe}
	if unmet := Evaluate(in, ActionActivation); hasKey(unmet, KeyGasReadings) {
		t.Fatalf("expected gas gate to pass, got %+v", unmet)
	}
}

func TestGasGateDefaultGases(t *testing.T) {
	in := baseInput()
	in.Type.RequiresGasTesting = true

	unmet := Evaluate(in, ActionActivation)
	if !hasKey(unmet, KeyGasReadings) {
		t.Fatalf("expected default O2/LEL gate, got %+v", unmet)
	}
	if got := len(unmet[0].Items); got != 2 {
		t.Fatalf("expected 2 default gases, got %v", unmet[0].Items)
	}
}

func TestFreeTextIsolation(t *testing.T) {
	in := baseInput()
	in.Type.RequiresIsolation = true

	if unmet := Evaluate(in, ActionApproval); !hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected isolation unmet, got %+v", unmet)
	}

	in.Permit.IsolationDetails = "breaker B-12 locked out"
	if unmet := Evaluate(in, ActionApproval); hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected isolation pass, got %+v", unmet)
	}
}

func TestStructuredIsolationPrecedence(t *testing.T) {
	// When both flags are set, structured isolation decides: free-text
	// details alone do not satisfy the gate.
	in := baseInput()
	in.Type.RequiresIsolation = true
	in.Type.RequiresStructuredIsolation = true
	in.Permit.IsolationDetails = "see attached sketch"

	unmet := Evaluate(in, ActionApproval)
	if !hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected structured isolation to demand points, got %+v", unmet)
	}
}

func TestStructuredIsolationActivation(t *testing.T) {
	in := baseInput()
	in.Type.RequiresStructuredIsolation = true
	in.Points = []models.PermitIsolationPoint{
		{Tag: "CB-101", Required: true, Status: models.IsolationVerified},
		{Tag: "V-17", Required: true, Status: models.IsolationIsolated},
		{Tag: "V-18", Required: false, Status: models.IsolationAssigned},
	}

	// Approval only needs required points assigned.
	if unmet := Evaluate(in, ActionApproval); hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected approval pass, got %+v", unmet)
	}

	// Activation needs every required point verified; optional points are
	// not counted.
	unmet := Evaluate(in, ActionActivation)
	if !hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected activation blocked, got %+v", unmet)
	}

	in.Points[1].Status = models.IsolationVerified
	if unmet := Evaluate(in, ActionActivation); hasKey(unmet, KeyIsolation) {
		t.Fatalf("expected activation pass, got %+v", unmet)
	}
}

func TestDeisolationOnCompletion(t *testing.T) {
	in := baseInput()
	in.Type.RequiresStructuredIsolation = true
	in.Type.RequiresDeisolationOnCloseout = true
	in.Points = []models.PermitIsolationPoint{
		{Tag: "CB-101", Required: true, Status: models.IsolationVerified},
	}

	unmet := Evaluate(in, ActionCompletion)
	if !hasKey(unmet, KeyDeisolation) {
		t.Fatalf("expected deisolation unmet, got %+v", unmet)
	}

	in.Points[0].Status = models.IsolationDeisolated
	if unmet := Evaluate(in, ActionCompletion); hasKey(unmet, KeyDeisolation) {
		t.Fatalf("expected deisolation pass, got %+v", unmet)
	}
}

func TestPPEGate(t *testing.T) {
	in := baseInput()
	in.Type.MandatoryPPE = models.StringList{"helmet", "gloves", "harness"}
	in.Permit.PPERequirements = models.StringList{"helmet"}

	unmet := Evaluate(in, ActionApproval)
	if !hasKey(unmet, KeyPPE) {
		t.Fatalf("expected ppe unmet, got %+v", unmet)
	}
	for _, u := range unmet {
		if u.Key == KeyPPE && len(u.Items) != 2 {
			t.Fatalf("expected 2 missing PPE items, got %v", u.Items)
		}
	}
}

func TestSafetyChecklistGate(t *testing.T) {
	in := baseInput()
	in.Type.SafetyChecklist = models.JSONMap{
		"area_barricaded": map[string]interface{}{"label": "Area barricaded", "required": true},
		"msds_reviewed":   map[string]interface{}{"label": "MSDS reviewed", "required": false},
	}
	in.Permit.SafetyChecklist = models.JSONMap{}

	unmet := Evaluate(in, ActionApproval)
	if !hasKey(unmet, KeySafetyChecklist) {
		t.Fatalf("expected checklist unmet, got %+v", unmet)
	}

	// Optional items never block; checking the required one clears the gate.
	in.Permit.SafetyChecklist = models.JSONMap{"area_barricaded": true}
	if unmet := Evaluate(in, ActionApproval); hasKey(unmet, KeySafetyChecklist) {
		t.Fatalf("expected checklist pass, got %+v", unmet)
	}
}

func TestTrainingAndPersonnelGates(t *testing.T) {
	in := baseInput()
	in.Type.RequiresTrainingVerification = true
	in.Type.MinPersonnelRequired = 2
	in.Workers = []models.PermitWorker{
		{WorkerID: uuid.New(), TrainingValid: false},
	}

	unmet := Evaluate(in, ActionApproval)
	if !hasKey(unmet, KeyTraining) {
		t.Errorf("expected training unmet, got %+v", unmet)
	}
	if !hasKey(unmet, KeyPersonnel) {
		t.Errorf("expected personnel unmet, got %+v", unmet)
	}

	in.Workers = []models.PermitWorker{
		{WorkerID: uuid.New(), TrainingValid: true},
		{WorkerID: uuid.New(), TrainingValid: true},
	}
	if unmet := Evaluate(in, ActionApproval); len(unmet) != 0 {
		t.Fatalf("expected pass, got %+v", unmet)
	}
}

func TestCloseoutGate(t *testing.T) {
	in := baseInput()
	in.Type.CloseoutChecklist = models.JSONMap{
		"tools_removed": map[string]interface{}{"label": "Tools removed", "required": true},
	}

	// Completion without a closeout record fails.
	unmet := Evaluate(in, ActionCompletion)
	if !hasKey(unmet, KeyCloseout) {
		t.Fatalf("expected closeout unmet, got %+v", unmet)
	}

	in.Closeout = &models.PermitCloseout{Items: models.JSONMap{"tools_removed": false}}
	if unmet := Evaluate(in, ActionCompletion); !hasKey(unmet, KeyCloseout) {
		t.Fatalf("expected undone item to block, got %+v", unmet)
	}

	in.Closeout.Items = models.JSONMap{"tools_removed": true}
	if unmet := Evaluate(in, ActionCompletion); hasKey(unmet, KeyCloseout) {
		t.Fatalf("expected closeout pass, got %+v", unmet)
	}

	// Closeout is only checked on completion.
	in.Closeout = nil
	if unmet := Evaluate(in, ActionApproval); hasKey(unmet, KeyCloseout) {
		t.Fatalf("closeout should not gate approval, got %+v", unmet)
	}
}

func TestExtensionLimit(t *testing.T) {
	in := baseInput()
	in.Type.MaxValidityExtensions = 2

	in.NonRejectedExtensions = 1
	if unmet := Evaluate(in, ActionExtension); len(unmet) != 0 {
		t.Fatalf("expected extension allowed, got %+v", unmet)
	}

	in.NonRejectedExtensions = 2
	unmet := Evaluate(in, ActionExtension)
	if !hasKey(unmet, KeyExtensions) {
		t.Fatalf("expected extension limit reached, got %+v", unmet)
	}

	// Rejected extensions do not count toward the limit, which the caller
	// expresses by excluding them from the count.
	in.NonRejectedExtensions = 0
	if unmet := Evaluate(in, ActionExtension); len(unmet) != 0 {
		t.Fatalf("expected extension allowed after rejections, got %+v", unmet)
	}
}
