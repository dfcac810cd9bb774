// Package middleware provides HTTP middleware for the posting engine API.
package middleware

import (
	"net/http"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Actor headers set by the identity gateway in front of the service
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderActorRole = "X-Actor-Role"
)

const actorContextKey = "actor"

var knownRoles = []string{
	shared.RolePlatformAdmin,
	shared.RolePlatformReviewer,
	shared.RoleTenantAdmin,
	shared.RoleOperator,
}

// Actor resolves the calling actor from the gateway headers. Tenant roles
// need a tenant; platform roles may omit it.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, msg := parseActor(c)
		if msg != "" {
			abort(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, msg)
			return
		}
		c.Set(actorContextKey, actor)
		c.Request = c.Request.WithContext(logger.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func parseActor(c *gin.Context) (shared.Actor, string) {
	role := c.GetHeader(HeaderActorRole)
	if !(shared.Actor{Role: role}).HasRole(knownRoles...) {
		return shared.Actor{}, "Missing or unknown " + HeaderActorRole
	}
	actor := shared.Actor{Role: role}

	if raw := c.GetHeader(HeaderTenantID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return shared.Actor{}, "Invalid " + HeaderTenantID
		}
		actor.TenantID = id
	} else if !actor.IsPlatform() {
		return shared.Actor{}, HeaderTenantID + " is required for role " + role
	}

	raw := c.GetHeader(HeaderUserID)
	if raw == "" {
		return shared.Actor{}, HeaderUserID + " is required"
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return shared.Actor{}, "Invalid " + HeaderUserID
	}
	actor.UserID = &userID
	return actor, ""
}

// GetActor returns the actor resolved by Actor
func GetActor(c *gin.Context) (shared.Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return shared.Actor{}, false
	}
	a, ok := v.(shared.Actor)
	return a, ok
}

// RequireRole rejects actors whose role is not listed
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok || !actor.HasRole(roles...) {
			abort(c, http.StatusForbidden, dto.ErrCodeForbidden, "Role not allowed for this operation")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(dto.ErrorInfo{
		Code:      code,
		Message:   message,
		RequestID: logger.GetRequestID(c.Request.Context()),
	}))
}
