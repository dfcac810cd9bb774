package shared

import (
	"slices"

	"github.com/google/uuid"
)

// Actor roles understood by the core. The identity boundary resolves them;
// the core only reads them.
const (
	RolePlatformAdmin    = "platform_admin"
	RolePlatformReviewer = "platform_reviewer"
	RoleTenantAdmin      = "tenant_admin"
	RoleOperator         = "operator"
	RoleSystem           = "system"
)

// Actor is the (tenant, user, role) triple every call carries.
// UserID is nil for system actions such as the governance backfill.
type Actor struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	Role     string
}

// NewActor creates an actor for a user acting inside a tenant
func NewActor(tenantID, userID uuid.UUID, role string) Actor {
	return Actor{TenantID: tenantID, UserID: &userID, Role: role}
}

// SystemActor returns the actor used for unattended platform operations
func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

// IsSystem reports whether no user is behind the action
func (a Actor) IsSystem() bool {
	return a.UserID == nil
}

// IsPlatform reports whether the actor may read platform-wide data
func (a Actor) IsPlatform() bool {
	return slices.Contains([]string{RolePlatformAdmin, RolePlatformReviewer, RoleSystem}, a.Role)
}

// HasRole reports whether the actor's role is one of roles
func (a Actor) HasRole(roles ...string) bool {
	return slices.Contains(roles, a.Role)
}

// TenantRef returns a pointer to the tenant id, or nil for a zero tenant
func (a Actor) TenantRef() *uuid.UUID {
	if a.TenantID == uuid.Nil {
		return nil
	}
	id := a.TenantID
	return &id
}
