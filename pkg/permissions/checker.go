// Package permissions checks the permission claims carried by access tokens
// against the permission a route requires.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "stock.*")
//   - "resource.action" - Specific action (e.g., "stock.read")
//   - "resource.subresource.action" - Nested permission (e.g., "prestations.stock.write")
package permissions

import (
	"net/http"
	"strings"
)

// Known resources
const (
	ResourceStock       = "stock"
	ResourcePrestations = "prestations"
	ResourcePricing     = "pricing"
)

// Actions
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "stock.*" matches "stock.read", "stock.write", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// ForRequest returns the permission a request on resource needs: reads for
// safe methods, writes for everything else.
func ForRequest(resource, method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return resource + "." + ActionRead
	default:
		return resource + "." + ActionWrite
	}
}

// RolePermissions are granted to tokens that carry a role but no explicit
// permission list.
var RolePermissions = map[string][]string{
	"admin":      {"*"},
	"pharmacist": {"stock.*", "prestations.read", "pricing.read"},
	"doctor":     {"stock.read", "prestations.*", "pricing.read"},
	"nurse":      {"stock.read", "prestations.*", "pricing.read"},
	"billing":    {"prestations.read", "pricing.read"},
}

// Effective returns explicit when set, otherwise the role's defaults.
func Effective(role string, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return RolePermissions[strings.ToLower(role)]
}
