package rbac

import (
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/statemachine"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupRBAC initializes the enforcer against a pool clamped to one
// connection, the same shape the sqlite deployment mode runs with.
func setupRBAC(t *testing.T) *gorm.DB {
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

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := InitEnforcer(gdb, quiet); err != nil {
		t.Fatalf("InitEnforcer: %v", err)
	}
	return gdb
}

func TestInitSeedsDefaultPolicies(t *testing.T) {
	gdb := setupRBAC(t)

	cases := []struct {
		role   string
		action statemachine.Action
		want   bool
	}{
		{models.RoleContractor, statemachine.ActionSubmit, true},
		{models.RoleContractor, statemachine.ActionApprove, false},
		{models.RoleClientEngineer, statemachine.ActionApprove, true},
		{models.RoleSafetyOfficer, statemachine.ActionIssue, true},
		{models.RoleSafetyOfficer, statemachine.ActionApprove, false},
		{models.RoleAdmin, statemachine.ActionApprove, true},
		{models.RoleAdmin, statemachine.ActionSuspend, true},
	}
	for _, tc := range cases {
		got, err := Allowed(tc.role, tc.action)
		if err != nil {
			t.Fatalf("Allowed(%s, %s): %v", tc.role, tc.action, err)
		}
		if got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}

	// Re-initializing against the same store must not duplicate rules or
	// block on the single connection.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := InitEnforcer(gdb, quiet); err != nil {
		t.Fatalf("second InitEnforcer: %v", err)
	}
	ok, err := Allowed(models.RoleContractor, statemachine.ActionSubmit)
	if err != nil || !ok {
		t.Fatalf("Allowed after re-init = %v, %v", ok, err)
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(models.RoleAdmin) {
		t.Error("admin role not recognized")
	}
	if IsAdmin(models.RoleContractor) {
		t.Error("contractor treated as admin")
	}
}
