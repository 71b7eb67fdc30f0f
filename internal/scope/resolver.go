package scope

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"gorm.io/gorm"
)

// ShareDomainPermit is the share-policy domain covering the PTW core.
const ShareDomainPermit = "permit"

// Resolver builds request scopes from authenticated identities.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a scope resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve derives the scope from the identity's bound attributes. The tenant
// and project always come from the identity row, never from the request.
func (r *Resolver) Resolve(identity *models.Identity) (Scope, error) {
	s := Scope{
		ActorID:       identity.ID,
		TenantID:      identity.TenantID,
		Role:          identity.Role,
		Grade:         identity.Grade,
		CorrelationID: uuid.New(),
	}
	if identity.ProjectID != nil {
		s.ProjectID = *identity.ProjectID
	}
	return s, nil
}

// ResolveCollaboration switches the scope onto another tenant's shared
// project for reading. It succeeds only when the acting tenant is an active
// member of the collaboration project and the owning tenant has granted READ
// for the permit domain. The caller must restrict this path to safe methods.
func (r *Resolver) ResolveCollaboration(s Scope, projectID uuid.UUID) (Scope, error) {
	var project models.Project
	if err := r.db.First(&project, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Scope{}, ErrCrossTenantWriteDenied
		}
		return Scope{}, fmt.Errorf("resolve collaboration project: %w", err)
	}

	if project.TenantID == s.TenantID {
		// Own project: no collaboration needed.
		out := s
		out.ProjectID = project.ID
		return out, nil
	}

	var member models.CollaborationMember
	err := r.db.Where("project_id = ? AND tenant_id = ? AND active = ?", projectID, s.TenantID, true).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Scope{}, ErrCrossTenantWriteDenied
		}
		return Scope{}, fmt.Errorf("resolve collaboration membership: %w", err)
	}

	// The grant row lives in the owning tenant's scope; it is never read from
	// caller-supplied data.
	var policy models.SharePolicy
	err = r.db.Where("tenant_id = ? AND project_id = ? AND domain = ? AND access = ?",
		project.TenantID, projectID, ShareDomainPermit, "READ").
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Scope{}, ErrCrossTenantWriteDenied
		}
		return Scope{}, fmt.Errorf("resolve share policy: %w", err)
	}

	out := s
	out.TenantID = project.TenantID
	out.ProjectID = project.ID
	out.Collaboration = true
	return out, nil
}
