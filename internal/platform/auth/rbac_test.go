package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRoles(e *echo.Echo, roles ...string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	claims := &Claims{Roles: roles}
	claims.Subject = uuid.NewString()
	req = req.WithContext(WithClaims(req.Context(), claims))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRoles(echo.New(), RoleNutritionist)
	if err := RequireRole(RoleNutritionist)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminPassesEverything(t *testing.T) {
	c := contextWithRoles(echo.New(), RoleSuperAdmin, RoleAdmin)
	if err := RequireRole(RoleNutritionist)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c := contextWithRoles(echo.New(), RolePatient)
	err := RequireRole(RoleNutritionist, RoleSuperAdmin)(okHandler)(c)
	expectHTTPCode(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(RolePatient)(okHandler)(c)
	expectHTTPCode(t, err, http.StatusForbidden)
}

func TestIsStaff(t *testing.T) {
	if !IsStaff([]string{RoleNutritionist}) {
		t.Error("nutritionist should be staff")
	}
	if !IsStaff([]string{RoleAdmin}) {
		t.Error("admin should be staff")
	}
	if IsStaff([]string{RolePatient}) {
		t.Error("patient should not be staff")
	}
}

func TestActorFromContext(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("expected no actor on an empty context")
	}

	id := uuid.New()
	claims := &Claims{Roles: []string{RoleNutritionist}}
	claims.Subject = id.String()
	actor, ok := ActorFromContext(WithClaims(context.Background(), claims))
	if !ok || actor.ID != id {
		t.Fatalf("expected actor %s, got %+v", id, actor)
	}
	if !actor.IsNutritionist() || actor.IsAdmin() {
		t.Errorf("unexpected role checks for %v", actor.Roles)
	}
	if !(Actor{Roles: []string{RoleSuperAdmin, RoleAdmin}}).IsNutritionist() {
		t.Error("admins satisfy nutritionist checks")
	}
}
