// Package rbac answers whether a role may perform a permit action. The state
// machine decides what transitions are legal from a status; this package
// decides who may request them. Policies are stored via the gorm adapter so
// deployments can extend the defaults without a rebuild.
package rbac

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/sitesafe/ptwcore/internal/models"
	"github.com/sitesafe/ptwcore/internal/statemachine"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelConf string

// ObjectPermit is the policy object covering permit lifecycle actions.
const ObjectPermit = "permit"

var enforcer *casbin.Enforcer

// InitEnforcer initializes the Casbin enforcer and seeds the default
// role -> action policies when the policy store is empty.
func InitEnforcer(db *gorm.DB, logger *slog.Logger) error {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return fmt.Errorf("failed to create casbin adapter: %w", err)
	}

	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return fmt.Errorf("failed to parse casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := e.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	enforcer = e
	if err := seedDefaultPolicies(); err != nil {
		return fmt.Errorf("failed to seed default policies: %w", err)
	}

	logger.Info("RBAC enforcer initialized")
	return nil
}

// defaultPolicies maps each role to its permit actions.
var defaultPolicies = map[string][]statemachine.Action{
	models.RoleContractor: {
		statemachine.ActionSubmit, statemachine.ActionCancel,
	},
	models.RoleEPCEngineer: {
		statemachine.ActionSubmit, statemachine.ActionClaim, statemachine.ActionVerify,
		statemachine.ActionReject, statemachine.ActionRejectFinal, statemachine.ActionCancel,
	},
	models.RoleClientEngineer: {
		statemachine.ActionSubmit, statemachine.ActionClaim, statemachine.ActionVerify,
		statemachine.ActionReview, statemachine.ActionApprove,
		statemachine.ActionReject, statemachine.ActionRejectFinal, statemachine.ActionCancel,
	},
	models.RoleSafetyOfficer: {
		statemachine.ActionIssue, statemachine.ActionSuspend, statemachine.ActionResume,
		statemachine.ActionComplete, statemachine.ActionCancel,
		statemachine.ActionClaim, statemachine.ActionVerify,
	},
	models.RoleAreaIncharge: {
		statemachine.ActionReview, statemachine.ActionApprove, statemachine.ActionIssue,
		statemachine.ActionSuspend, statemachine.ActionResume, statemachine.ActionComplete,
		statemachine.ActionCancel,
	},
}

// seedDefaultPolicies inserts missing defaults one rule at a time. AddPolicy
// persists through the adapter's auto-save, which needs no extra database
// connection, so seeding works on pools clamped to a single connection.
func seedDefaultPolicies() error {
	for role, actions := range defaultPolicies {
		for _, action := range actions {
			if _, err := enforcer.AddPolicy(role, ObjectPermit, string(action)); err != nil {
				return err
			}
		}
	}
	_, err := enforcer.AddPolicy(models.RoleAdmin, ObjectPermit, "*")
	return err
}

// Allowed reports whether the role may perform the given permit action.
func Allowed(role string, action statemachine.Action) (bool, error) {
	if enforcer == nil {
		return false, fmt.Errorf("rbac enforcer not initialized")
	}
	return enforcer.Enforce(role, ObjectPermit, string(action))
}

// IsAdmin reports whether the role carries the wildcard grant.
func IsAdmin(role string) bool {
	return role == models.RoleAdmin
}
