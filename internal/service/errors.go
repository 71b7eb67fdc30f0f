package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/requirements"
)

// ErrNotFound indicates the requested resource was not found in the caller's scope.
var ErrNotFound = errors.New("not found")

// ValidationError represents a malformed payload (HTTP 400). Fields maps
// field names to messages.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

// ScopeError represents a missing or violated tenant/project scope. It never
// carries details about out-of-scope objects.
type ScopeError struct {
	Reason string // "missing_tenant", "missing_project", "out_of_scope"
}

func (e *ScopeError) Error() string { return e.Reason }

// TransitionError represents an illegal state transition for the current
// state and actor role.
type TransitionError struct {
	From   models.PermitStatus
	To     models.PermitStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// RequirementsError carries the ordered list of unmet preconditions.
type RequirementsError struct {
	Action string
	Unmet  []requirements.Unmet
}

func (e *RequirementsError) Error() string {
	keys := make([]string, len(e.Unmet))
	for i, u := range e.Unmet {
		keys[i] = u.Key
	}
	return fmt.Sprintf("requirements unmet for %s: %s", e.Action, strings.Join(keys, ", "))
}

// VersionConflictError reports an optimistic-concurrency conflict and the
// current server version so the client can refetch and retry.
type VersionConflictError struct {
	ServerVersion int
	Fields        []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict, server version %d", e.ServerVersion)
}

// ExtensionLimitError reports that max_validity_extensions is reached.
type ExtensionLimitError struct {
	Max int
}

func (e *ExtensionLimitError) Error() string {
	return fmt.Sprintf("extension limit of %d reached", e.Max)
}

// CollaborationDeniedError reports a cross-tenant write attempt or a missing
// share policy.
type CollaborationDeniedError struct{}

func (e *CollaborationDeniedError) Error() string { return "cross_tenant_write_denied" }
