// Package rbac provides role-based access control checks for moderation.
package rbac

import "github.com/RomaniukOleksii/SpeakV/pkg/model"

// permissionMatrix maps roles to their allowed moderation actions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermKickUser: true,
		model.PermBanUser:  true,
		model.PermMuteUser: true,
	},
	model.RoleUser: {
		// No moderation permissions; regular member access only
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}
