// Package requirements evaluates the preconditions a permit must satisfy
// before approval, activation, completion, or extension. Evaluate is a pure
// function over a snapshot of the permit's state: it never reads storage and
// never writes, so both the state machine and the write APIs can call it.
package requirements

import (
	"fmt"
	"sort"

	"github.com/sitesafe/ptwcore/internal/models"
)

// Actions the evaluator understands.
const (
	ActionApproval   = "approval"
	ActionActivation = "activation"
	ActionCompletion = "completion"
	ActionExtension  = "extension"
)

// Requirement keys, in the order they are checked and reported.
const (
	KeyGasReadings     = "gas_readings"
	KeyIsolation       = "isolation"
	KeyPPE             = "ppe_requirements"
	KeySafetyChecklist = "safety_checklist"
	KeyTraining        = "training"
	KeyPersonnel       = "personnel"
	KeyCloseout        = "closeout"
	KeyDeisolation     = "deisolation"
	KeyExtensions      = "extensions"
)

// Unmet describes one failed precondition.
type Unmet struct {
	Key     string   `json:"key"`
	Message string   `json:"message"`
	Items   []string `json:"items,omitempty"`
}

// Input is the snapshot Evaluate works over. LatestGas holds the most recent
// reading per gas type; older readings never count toward the gate.
type Input struct {
	Permit    models.Permit
	Type      models.PermitType
	LatestGas map[string]models.GasReading
	Points    []models.PermitIsolationPoint
	Workers   []models.PermitWorker
	Closeout  *models.PermitCloseout
	// NonRejectedExtensions counts extensions with status pending or approved.
	NonRejectedExtensions int
}

// Evaluate returns the ordered list of unmet preconditions for the action.
// An empty result means the gate passes.
func Evaluate(in Input, action string) []Unmet {
	if action == ActionExtension {
		return checkExtensionLimit(in)
	}

	var unmet []Unmet
	unmet = append(unmet, checkGasTesting(in)...)
	unmet = append(unmet, checkIsolation(in, action)...)
	unmet = append(unmet, checkPPE(in)...)
	unmet = append(unmet, checkSafetyChecklist(in)...)
	unmet = append(unmet, checkTraining(in)...)
	unmet = append(unmet, checkPersonnel(in)...)
	if action == ActionCompletion {
		unmet = append(unmet, checkCloseout(in)...)
	}
	return unmet
}

func checkGasTesting(in Input) []Unmet {
	if !in.Type.RequiresGasTesting {
		return nil
	}
	gases := in.Type.RequiredGases
	if len(gases) == 0 {
		gases = models.StringList{"O2", "LEL"}
	}
	var missing, unsafe []string
	for _, gas := range gases {
		reading, ok := in.LatestGas[gas]
		if !ok {
			missing = append(missing, gas)
			continue
		}
		if reading.Status != models.GasSafe {
			unsafe = append(unsafe, gas)
		}
	}
	if len(missing) == 0 && len(unsafe) == 0 {
		return nil
	}
	items := append(missing, unsafe...)
	sort.Strings(items)
	msg := "gas readings missing or unsafe"
	return []Unmet{{Key: KeyGasReadings, Message: msg, Items: items}}
}

func checkIsolation(in Input, action string) []Unmet {
	// Structured isolation takes precedence over free-text details when the
	// type carries both flags.
	if in.Type.RequiresStructuredIsolation {
		return checkStructuredIsolation(in, action)
	}
	if in.Type.RequiresIsolation && in.Permit.IsolationDetails == "" {
		return []Unmet{{Key: KeyIsolation, Message: "isolation details are required"}}
	}
	return nil
}

func checkStructuredIsolation(in Input, action string) []Unmet {
	var required []models.PermitIsolationPoint
	for _, p := range in.Points {
		if p.Required {
			required = append(required, p)
		}
	}
	if len(required) == 0 {
		return []Unmet{{Key: KeyIsolation, Message: "at least one required isolation point must be assigned"}}
	}

	if action == ActionActivation {
		var unverified []string
		for _, p := range required {
			if p.Status.Rank() < models.IsolationVerified.Rank() {
				unverified = append(unverified, fmt.Sprintf("%s not verified", p.Tag))
			}
		}
		if len(unverified) > 0 {
			sort.Strings(unverified)
			return []Unmet{{Key: KeyIsolation, Message: "required isolation points not verified", Items: unverified}}
		}
	}

	if action == ActionCompletion && in.Type.RequiresDeisolationOnCloseout {
		var notDeisolated []string
		for _, p := range required {
			if p.Status != models.IsolationDeisolated {
				notDeisolated = append(notDeisolated, fmt.Sprintf("%s not deisolated", p.Tag))
			}
		}
		if len(notDeisolated) > 0 {
			sort.Strings(notDeisolated)
			return []Unmet{{Key: KeyDeisolation, Message: "required isolation points not deisolated", Items: notDeisolated}}
		}
	}
	return nil
}

func checkPPE(in Input) []Unmet {
	var missing []string
	for _, ppe := range in.Type.MandatoryPPE {
		if !in.Permit.PPERequirements.Contains(ppe) {
			missing = append(missing, ppe)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return []Unmet{{Key: KeyPPE, Message: "mandatory PPE not assigned", Items: missing}}
}

func checkSafetyChecklist(in Input) []Unmet {
	var unchecked []string
	for _, item := range in.Type.SafetyChecklistItems() {
		if item.Required && !in.Permit.SafetyChecklist.Truthy(item.Key) {
			unchecked = append(unchecked, item.Key)
		}
	}
	if len(unchecked) == 0 {
		return nil
	}
	sort.Strings(unchecked)
	return []Unmet{{Key: KeySafetyChecklist, Message: "required checklist items incomplete", Items: unchecked}}
}

func checkTraining(in Input) []Unmet {
	if !in.Type.RequiresTrainingVerification {
		return nil
	}
	var invalid []string
	for _, w := range in.Workers {
		if !w.TrainingValid {
			invalid = append(invalid, w.WorkerID.String())
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return []Unmet{{Key: KeyTraining, Message: "workers without valid training", Items: invalid}}
}

func checkPersonnel(in Input) []Unmet {
	if len(in.Workers) >= in.Type.MinPersonnelRequired {
		return nil
	}
	msg := fmt.Sprintf("at least %d workers required, %d assigned",
		in.Type.MinPersonnelRequired, len(in.Workers))
	return []Unmet{{Key: KeyPersonnel, Message: msg}}
}

func checkCloseout(in Input) []Unmet {
	items := in.Type.CloseoutChecklistItems()
	if len(items) == 0 {
		return nil
	}
	if in.Closeout == nil {
		return []Unmet{{Key: KeyCloseout, Message: "closeout record not started"}}
	}
	var undone []string
	for _, item := range items {
		if item.Required && !in.Closeout.Items.Truthy(item.Key) {
			undone = append(undone, item.Key)
		}
	}
	if len(undone) == 0 {
		return nil
	}
	sort.Strings(undone)
	return []Unmet{{Key: KeyCloseout, Message: "required closeout items incomplete", Items: undone}}
}

func checkExtensionLimit(in Input) []Unmet {
	if in.NonRejectedExtensions < in.Type.MaxValidityExtensions {
		return nil
	}
	msg := fmt.Sprintf("extension limit of %d reached", in.Type.MaxValidityExtensions)
	return []Unmet{{Key: KeyExtensions, Message: msg}}
}
