package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RoleSuperAdmin   = "super_admin"
	RoleAdmin        = "admin"
	RoleNutritionist = "nutritionist"
	RolePatient      = "patient"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether granted satisfies any of required. The admin role
// satisfies everything.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, want := range required {
			if has == want {
				return true
			}
		}
	}
	return false
}

// IsStaff reports whether roles belong to an admin or nutritionist.
func IsStaff(roles []string) bool {
	return HasRole(roles, RoleNutritionist)
}

// Actor is the authenticated caller handed to domain services.
type Actor struct {
	ID    uuid.UUID
	Roles []string
}

func (a Actor) IsAdmin() bool { return HasRole(a.Roles, RoleAdmin) }

// IsNutritionist is true for nutritionists and admins.
func (a Actor) IsNutritionist() bool { return HasRole(a.Roles, RoleNutritionist) }

// ActorFromContext returns the caller attached by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: id, Roles: RolesFromContext(ctx)}, true
}
