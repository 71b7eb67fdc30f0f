package scope

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupScopeDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gdb
}

func TestRequireWrite(t *testing.T) {
	full := Scope{TenantID: uuid.New(), ProjectID: uuid.New(), ActorID: uuid.New()}
	if err := full.RequireWrite(); err != nil {
		t.Errorf("full scope rejected: %v", err)
	}

	collab := full
	collab.Collaboration = true
	if err := collab.RequireWrite(); !errors.Is(err, ErrCrossTenantWriteDenied) {
		t.Errorf("collaboration write = %v", err)
	}

	noTenant := full
	noTenant.TenantID = uuid.Nil
	if err := noTenant.RequireWrite(); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("missing tenant = %v", err)
	}

	noProject := full
	noProject.ProjectID = uuid.Nil
	if err := noProject.RequireWrite(); !errors.Is(err, ErrMissingProject) {
		t.Errorf("missing project = %v", err)
	}
}

func TestResolveBindsIdentityAttributes(t *testing.T) {
	gdb := setupScopeDB(t)
	r := NewResolver(gdb)

	projectID := uuid.New()
	identity := &models.Identity{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		ProjectID: &projectID,
		Role:      models.RoleEPCEngineer,
		Grade:     "B",
	}
	s, err := r.Resolve(identity)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.TenantID != identity.TenantID || s.ProjectID != projectID || s.ActorID != identity.ID {
		t.Errorf("scope binding = %+v", s)
	}
	if s.Role != models.RoleEPCEngineer || s.Grade != "B" {
		t.Errorf("role/grade = %s/%s", s.Role, s.Grade)
	}
	if s.CorrelationID == uuid.Nil {
		t.Error("no correlation id assigned")
	}
	if s.Collaboration {
		t.Error("own scope flagged as collaboration")
	}
}

func TestResolveCollaboration(t *testing.T) {
	gdb := setupScopeDB(t)
	r := NewResolver(gdb)

	ownerTenant := uuid.New()
	guestTenant := uuid.New()
	project := models.Project{ID: uuid.New(), TenantID: ownerTenant, Name: "Shared Unit", Code: "SU", Active: true}
	if err := gdb.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}

	guest := Scope{TenantID: guestTenant, ProjectID: uuid.New(), ActorID: uuid.New()}

	// No membership yet.
	if _, err := r.ResolveCollaboration(guest, project.ID); !errors.Is(err, ErrCrossTenantWriteDenied) {
		t.Errorf("without membership = %v", err)
	}

	member := models.CollaborationMember{
		ProjectID: project.ID, TenantID: guestTenant, Active: true,
	}
	if err := gdb.Create(&member).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}

	// Membership without an owner-side grant is still denied.
	if _, err := r.ResolveCollaboration(guest, project.ID); !errors.Is(err, ErrCrossTenantWriteDenied) {
		t.Errorf("without share policy = %v", err)
	}

	policy := models.SharePolicy{
		TenantID: ownerTenant, ProjectID: project.ID,
		Domain: ShareDomainPermit, Access: "READ",
	}
	if err := gdb.Create(&policy).Error; err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	shared, err := r.ResolveCollaboration(guest, project.ID)
	if err != nil {
		t.Fatalf("ResolveCollaboration: %v", err)
	}
	if shared.TenantID != ownerTenant || shared.ProjectID != project.ID {
		t.Errorf("shared scope points at %s/%s", shared.TenantID, shared.ProjectID)
	}
	if !shared.Collaboration {
		t.Error("shared scope not flagged read-only")
	}
	if err := shared.RequireWrite(); !errors.Is(err, ErrCrossTenantWriteDenied) {
		t.Errorf("shared scope write = %v", err)
	}
}

func TestResolveCollaborationOwnProject(t *testing.T) {
	gdb := setupScopeDB(t)
	r := NewResolver(gdb)

	tenant := uuid.New()
	project := models.Project{ID: uuid.New(), TenantID: tenant, Name: "Unit 1", Code: "U1", Active: true}
	if err := gdb.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}

	own := Scope{TenantID: tenant, ProjectID: uuid.New(), ActorID: uuid.New()}
	resolved, err := r.ResolveCollaboration(own, project.ID)
	if err != nil {
		t.Fatalf("ResolveCollaboration: %v", err)
	}
	if resolved.Collaboration {
		t.Error("own project flagged as collaboration")
	}
	if resolved.ProjectID != project.ID {
		t.Errorf("project = %s", resolved.ProjectID)
	}
}
