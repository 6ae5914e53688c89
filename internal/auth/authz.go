package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/wolfeidau/platform-gateway/internal/apperror"
)

// Permission is a permission code carried in the identity provider's
// permission_codes claim.
type Permission string

const (
	PermUsersRead          Permission = "users:read"
	PermUsersWrite         Permission = "users:write"
	PermOrganisationsRead  Permission = "organisations:read"
	PermOrganisationsWrite Permission = "organisations:write"
	PermRolesRead          Permission = "roles:read"
	PermRolesWrite         Permission = "roles:write"
	PermSalesPlansRead     Permission = "sales-plans:read"
	PermSalesPlansWrite    Permission = "sales-plans:write"
	PermPricingRead        Permission = "pricing:read"
	PermBookingsRead       Permission = "bookings:read"
	PermBookingsWrite      Permission = "bookings:write"
	PermCustomersRead      Permission = "customers:read"
	PermCustomersWrite     Permission = "customers:write"
	PermProductsRead       Permission = "products:read"
	PermProductsWrite      Permission = "products:write"
	PermReportsRead        Permission = "reports:read"
	PermFilesRead          Permission = "files:read"
	PermFilesWrite         Permission = "files:write"
	PermSettingsWrite      Permission = "settings:write"
)

// AllPermissions lists every permission code the gateway checks.
var AllPermissions = []Permission{
	PermUsersRead,
	PermUsersWrite,
	PermOrganisationsRead,
	PermOrganisationsWrite,
	PermRolesRead,
	PermRolesWrite,
	PermSalesPlansRead,
	PermSalesPlansWrite,
	PermPricingRead,
	PermBookingsRead,
	PermBookingsWrite,
	PermCustomersRead,
	PermCustomersWrite,
	PermProductsRead,
	PermProductsWrite,
	PermReportsRead,
	PermFilesRead,
	PermFilesWrite,
	PermSettingsWrite,
}

// HasPermission checks if a principal holds a specific permission code.
func HasPermission(principal *Principal, perm Permission) bool {
	if principal == nil {
		return false
	}
	return slices.Contains(principal.Permissions, string(perm))
}

// RequirePermission checks that the principal in ctx holds every permission
// in perms.
func RequirePermission(ctx context.Context, perms ...Permission) error {
	principal := PrincipalFromContext(ctx)
	if principal == nil {
		return apperror.Unauthenticated("not authenticated")
	}

	for _, perm := range perms {
		if !HasPermission(principal, perm) {
			return apperror.Forbidden(fmt.Sprintf("permission denied: requires %s", perm))
		}
	}

	return nil
}
