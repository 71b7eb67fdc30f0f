package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/rbac"
	"github.com/sitesafe/ptwcore/internal/registry"
	"github.com/sitesafe/ptwcore/internal/scope"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	// In-memory SQLite: every connection gets its own database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := rbac.InitEnforcer(gdb, quiet); err != nil {
		t.Fatalf("failed to init rbac: %v", err)
	}
	return gdb
}

// testEnv bundles the service with one seeded tenant and project.
type testEnv struct {
	db  *gorm.DB
	svc *PermitService

	tenantID  uuid.UUID
	projectID uuid.UUID
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := setupTestDB(t)
	env := &testEnv{
		db:        gdb,
		svc:       New(gdb, registry.New(gdb)),
		tenantID:  uuid.New(),
		projectID: uuid.New(),
	}
	tenant := models.Tenant{ID: env.tenantID, Name: "tenant-" + env.tenantID.String()[:8], Active: true}
	if err := gdb.Create(&tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	project := models.Project{ID: env.projectID, TenantID: env.tenantID, Name: "Unit 4", Code: "U4", Active: true}
	if err := gdb.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return env
}

// seedIdentity creates an identity and returns a scope acting as it.
func (e *testEnv) seedIdentity(t *testing.T, role, grade string) scope.Scope {
	t.Helper()
	id := models.Identity{
		ID:        uuid.New(),
		TenantID:  e.tenantID,
		ProjectID: &e.projectID,
		Username:  role + "-" + uuid.NewString()[:8],
		Role:      role,
		Grade:     grade,
		Active:    true,
	}
	if err := e.db.Create(&id).Error; err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return scope.Scope{
		TenantID:      e.tenantID,
		ProjectID:     e.projectID,
		ActorID:       id.ID,
		Role:          role,
		Grade:         grade,
		CorrelationID: uuid.New(),
	}
}

// seedType creates an active permit type; mutate adjusts the defaults.
func (e *testEnv) seedType(t *testing.T, mutate func(*models.PermitType)) *models.PermitType {
	t.Helper()
	pt := models.PermitType{
		ID:                     uuid.New(),
		TenantID:               e.tenantID,
		Name:                   "general-work-" + uuid.NewString()[:8],
		Version:                1,
		Category:               "general",
		RiskLevel:              models.RiskMedium,
		DefaultValidityHours:   8,
		RequiredApprovalLevels: 1,
		MinPersonnelRequired:   1,
		Active:                 true,
	}
	if mutate != nil {
		mutate(&pt)
	}
	if err := e.db.Create(&pt).Error; err != nil {
		t.Fatalf("seed permit type: %v", err)
	}
	return &pt
}

// createPermit opens a draft permit against the type with a one-day window.
func (e *testEnv) createPermit(t *testing.T, sc scope.Scope, pt *models.PermitType) *models.Permit {
	t.Helper()
	start := time.Now().UTC().Add(time.Hour)
	permit, err := e.svc.Create(sc, CreateRequest{
		PermitTypeID: pt.ID,
		Title:        "Grinding on line 2",
		Location:     "Unit 4, line 2",
		PlannedStart: start,
		PlannedEnd:   start.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return permit
}

// transition applies one status transition or fails the test.
func (e *testEnv) transition(t *testing.T, sc scope.Scope, permit *models.Permit, to string) *models.Permit {
	t.Helper()
	updated, err := e.svc.Transition(sc, TransitionRequest{PermitID: permit.ID, ToStatus: to})
	if err != nil {
		t.Fatalf("Transition(%s -> %s): %v", permit.Status, to, err)
	}
	return updated
}

// attachCrew satisfies the minimum-personnel gate.
func (e *testEnv) attachCrew(t *testing.T, sc scope.Scope, permit *models.Permit) {
	t.Helper()
	_, err := e.svc.AttachWorker(sc, permit.ID, WorkerRequest{
		WorkerID:      uuid.New(),
		TrainingValid: true,
		MedicalValid:  true,
	})
	if err != nil {
		t.Fatalf("AttachWorker: %v", err)
	}
}

// activePermit walks a fresh permit to active using an admin scope.
func (e *testEnv) activePermit(t *testing.T, pt *models.PermitType) (*models.Permit, scope.Scope) {
	t.Helper()
	admin := e.seedIdentity(t, models.RoleAdmin, "")
	permit := e.createPermit(t, admin, pt)
	e.attachCrew(t, admin, permit)
	for _, to := range []string{"submitted", "under_review", "pending_approval", "approved", "active"} {
		permit = e.transition(t, admin, permit, to)
	}
	return permit, admin
}

func (e *testEnv) auditCount(t *testing.T, permitID uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&models.PermitAudit{}).Where("permit_id = ?", permitID).Count(&n).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	return n
}
