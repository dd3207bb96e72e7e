package rbac

import "github.com/google/uuid"

// Role constants
const (
	RoleAdmin    = "admin"
	RoleAgent    = "agent"
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
)

// Permission constants
const (
	PermCreateEscrow       = "create_escrow"
	PermAdvanceMilestone   = "advance_milestone"
	PermViewAnyEscrow      = "view_any_escrow"
	PermSubmitVerification = "submit_verification"
	PermReviewVerification = "review_verification"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermCreateEscrow, PermAdvanceMilestone, PermViewAnyEscrow, PermReviewVerification,
	},
	RoleAgent: {
		PermAdvanceMilestone, PermSubmitVerification,
		// Agent advances milestones only on properties assigned to them
	},
	RoleLandlord: {
		PermCreateEscrow,
	},
	RoleTenant: {
		PermCreateEscrow,
	},
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CanAdvanceMilestone allows admins on any transaction and agents on the
// transactions of properties they are assigned to.
func CanAdvanceMilestone(role string, actorID uuid.UUID, assignedAgent *uuid.UUID) bool {
	if !HasPermission(role, PermAdvanceMilestone) {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	return assignedAgent != nil && *assignedAgent == actorID
}
