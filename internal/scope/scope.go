package scope

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sentinel errors surfaced as scope_error / collaboration_denied at the API boundary.
var (
	ErrMissingTenant          = errors.New("missing_tenant")
	ErrMissingProject         = errors.New("missing_project")
	ErrCrossTenantWriteDenied = errors.New("cross_tenant_write_denied")
)

// Scope is the resolved request context: acting identity, its tenant/project
// binding, and the correlation ID threaded into audits and outbox events.
// It is built once per request by the middleware and passed down explicitly.
type Scope struct {
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	ActorID   uuid.UUID
	Role      string
	Grade     string

	CorrelationID uuid.UUID
	IP            string
	UserAgent     string

	// Collaboration marks a cross-tenant read grant. The scope then points at
	// the owning tenant/project of the shared data; writes are rejected.
	Collaboration bool
}

// RequireWrite validates that the scope permits mutations.
func (s Scope) RequireWrite() error {
	if s.Collaboration {
		return ErrCrossTenantWriteDenied
	}
	if s.TenantID == uuid.Nil {
		return ErrMissingTenant
	}
	if s.ProjectID == uuid.Nil {
		return ErrMissingProject
	}
	return nil
}

// Tenant composes the tenant predicate. Applied at the lowest repository
// layer so cross-tenant reads are structurally impossible.
func (s Scope) Tenant(db *gorm.DB) *gorm.DB {
	return db.Where("tenant_id = ?", s.TenantID)
}

// TenantProject composes tenant and project predicates.
func (s Scope) TenantProject(db *gorm.DB) *gorm.DB {
	return db.Where("tenant_id = ? AND project_id = ?", s.TenantID, s.ProjectID)
}
