package statemachine

import (
	"github.com/sitesafe/ptwcore/internal/models"
)

// Route decides who handles verification and approval for permits created by
// a given role. Routes are data, not code: the defaults below can be replaced
// per tenant by loading override rows at startup.
type Route struct {
	CreatorRole   string
	VerifierRole  string
	ApproverRole  string
	RequiredGrade string // minimum competency grade, "" = any
}

// defaultRoutes is the built-in routing table. Contractor-created permits are
// verified by the EPC and approved by the client; internally created permits
// route through the safety officer.
var defaultRoutes = map[string]Route{
	models.RoleContractor: {
		CreatorRole:   models.RoleContractor,
		VerifierRole:  models.RoleEPCEngineer,
		ApproverRole:  models.RoleClientEngineer,
		RequiredGrade: "C",
	},
	models.RoleEPCEngineer: {
		CreatorRole:  models.RoleEPCEngineer,
		VerifierRole: models.RoleClientEngineer,
		ApproverRole: models.RoleClientEngineer,
	},
	models.RoleClientEngineer: {
		CreatorRole:  models.RoleClientEngineer,
		VerifierRole: models.RoleSafetyOfficer,
		ApproverRole: models.RoleClientEngineer,
	},
}

// fallbackRoute applies when the creator role has no dedicated row.
var fallbackRoute = Route{
	VerifierRole: models.RoleSafetyOfficer,
	ApproverRole: models.RoleAreaIncharge,
}

// RouteFor returns the routing row for a creator role.
func RouteFor(creatorRole string) Route {
	if r, ok := defaultRoutes[creatorRole]; ok {
		return r
	}
	r := fallbackRoute
	r.CreatorRole = creatorRole
	return r
}

// RoleForAction returns the routed role expected to perform a chain action on
// a permit created by creatorRole, or "" when the action is not role-routed.
func RoleForAction(creatorRole string, action Action) string {
	route := RouteFor(creatorRole)
	switch action {
	case ActionClaim, ActionVerify:
		return route.VerifierRole
	case ActionReview, ActionApprove:
		return route.ApproverRole
	}
	return ""
}
