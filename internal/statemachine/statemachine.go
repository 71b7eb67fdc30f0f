// Package statemachine owns the permit status graph. It answers exactly one
// question: is (from -> to) legal, and which action does it represent. Role
// capability is enforced separately by rbac, and preconditions by the
// requirements evaluator; this package stays pure and table-driven.
package statemachine

import (
	"fmt"

	"github.com/sitesafe/ptwcore/internal/models"
)

// Action names the operation a transition represents. Actions are also the
// objects of rbac policies (role -> action).
type Action string

const (
	ActionSubmit      Action = "submit"
	ActionClaim       Action = "claim"
	ActionVerify      Action = "verify"
	ActionReject      Action = "reject"
	ActionRejectFinal Action = "reject_final"
	ActionReview      Action = "review"
	ActionApprove     Action = "approve"
	ActionIssue       Action = "issue"
	ActionSuspend     Action = "suspend"
	ActionResume      Action = "resume"
	ActionComplete    Action = "complete"
	ActionCancel      Action = "cancel"
	ActionExpire      Action = "expire"
)

// transitionKey identifies one edge of the status graph.
type transitionKey struct {
	From models.PermitStatus
	To   models.PermitStatus
}

// transitions is the legal-transition matrix. Rejection comes in two forms:
// a rework rejection returns the permit to draft with a rejection record,
// while a final rejection terminates it in the rejected state.
var transitions = map[transitionKey]Action{
	{models.StatusDraft, models.StatusSubmitted}:                      ActionSubmit,
	{models.StatusSubmitted, models.StatusPendingVerification}:        ActionClaim,
	{models.StatusSubmitted, models.StatusUnderReview}:                ActionVerify,
	{models.StatusPendingVerification, models.StatusUnderReview}:      ActionVerify,
	{models.StatusPendingVerification, models.StatusDraft}:            ActionReject,
	{models.StatusPendingVerification, models.StatusRejected}:         ActionRejectFinal,
	{models.StatusUnderReview, models.StatusPendingApproval}:          ActionReview,
	{models.StatusPendingApproval, models.StatusApproved}:             ActionApprove,
	{models.StatusPendingApproval, models.StatusDraft}:                ActionReject,
	{models.StatusPendingApproval, models.StatusRejected}:             ActionRejectFinal,
	{models.StatusApproved, models.StatusActive}:                      ActionIssue,
	{models.StatusActive, models.StatusSuspended}:                     ActionSuspend,
	{models.StatusSuspended, models.StatusActive}:                     ActionResume,
	{models.StatusActive, models.StatusCompleted}:                     ActionComplete,
	{models.StatusActive, models.StatusExpired}:                       ActionExpire,
	{models.StatusApproved, models.StatusExpired}:                     ActionExpire,
}

// TransitionError reports an illegal edge of the status graph.
type TransitionError struct {
	From models.PermitStatus
	To   models.PermitStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Resolve returns the action a transition represents, or a TransitionError.
// Cancellation is legal from every non-terminal state; cancelled -> cancelled
// is an idempotent no-op reported as the cancel action.
func Resolve(from, to models.PermitStatus) (Action, error) {
	if to == models.StatusCancelled {
		if from == models.StatusCancelled {
			return ActionCancel, nil
		}
		if from.Terminal() {
			return "", &TransitionError{From: from, To: to}
		}
		return ActionCancel, nil
	}
	if from.Terminal() {
		return "", &TransitionError{From: from, To: to}
	}
	if action, ok := transitions[transitionKey{from, to}]; ok {
		return action, nil
	}
	return "", &TransitionError{From: from, To: to}
}

// EvaluatorAction maps a transition action to the requirements-evaluator
// action that must pass before it, or "" when no gate applies.
func EvaluatorAction(a Action) string {
	switch a {
	case ActionReview, ActionApprove:
		return "approval"
	case ActionIssue:
		return "activation"
	case ActionComplete:
		return "completion"
	}
	return ""
}

// statusAliases maps legacy status spellings onto the closed enumeration.
var statusAliases = map[string]models.PermitStatus{
	"in_progress":    models.StatusActive,
	"pending":        models.StatusSubmitted,
	"pending_review": models.StatusUnderReview,
	"closed":         models.StatusCompleted,
	"revoked":        models.StatusCancelled,
}

// Normalize parses a status string, accepting legacy aliases. Unknown values
// are rejected at the boundary.
func Normalize(raw string) (models.PermitStatus, error) {
	s := models.PermitStatus(raw)
	switch s {
	case models.StatusDraft, models.StatusSubmitted, models.StatusPendingVerification,
		models.StatusUnderReview, models.StatusPendingApproval, models.StatusApproved,
		models.StatusActive, models.StatusSuspended, models.StatusCompleted,
		models.StatusCancelled, models.StatusExpired, models.StatusRejected:
		return s, nil
	}
	if alias, ok := statusAliases[raw]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("unknown permit status %q", raw)
}
