package auth

import "slices"

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceCommand Permission = "device:command"
	PermBridgeRefresh Permission = "bridge:refresh"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermDeviceRead, PermDeviceCommand, PermBridgeRefresh},
	RoleViewer: {PermDeviceRead},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
