package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/config"
	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
)

// ---------------------------------------------------------------------------
// resolveSigningKey tests
// ---------------------------------------------------------------------------

func TestResolveSigningKey_UsesSecret(t *testing.T) {
	key, generated, err := resolveSigningKey("configured-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generated {
		t.Error("expected configured secret to be used")
	}
	if string(key) != "configured-secret" {
		t.Errorf("key = %q, want configured-secret", key)
	}
}

func TestResolveSigningKey_GeneratesRandom(t *testing.T) {
	a, generated, err := resolveSigningKey("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !generated {
		t.Error("expected a generated key")
	}
	if len(a) != 32 {
		t.Fatalf("key length = %d, want 32", len(a))
	}
	b, _, _ := resolveSigningKey("")
	if string(a) == string(b) {
		t.Error("expected two generated keys to differ")
	}
}

// ---------------------------------------------------------------------------
// server wiring tests
// ---------------------------------------------------------------------------

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:              "8000",
		Env:               env,
		CORSOrigins:       []string{"http://localhost:5173"},
		RateLimitRPS:      100,
		RateLimitBurst:    100,
		RequestTimeout:    5 * time.Second,
		JWTSecret:         "0123456789abcdef0123456789abcdef",
		JWTIssuer:         "nutri",
		JWTTokenTTL:       time.Hour,
		StorageDriver:     "memory",
		EmailProvider:     "log",
		PushProvider:      "log",
		OutboxMaxAttempts: 5,
		AuditQueueSize:    8,
		DefaultSlotTimes:  []string{"08:00", "09:00"},
		PriceFirstVisit:   200,
		PriceFollowUp:     150,
		ReminderLeadTime:  24 * time.Hour,
	}
}

func newTestServer(t *testing.T, env string) (*services, http.Handler) {
	t.Helper()
	cfg := testConfig(env)
	svcs, err := newServices(context.Background(), cfg, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	t.Cleanup(func() { svcs.close(context.Background()) })
	return svcs, newEcho(cfg, nil, svcs, zerolog.Nop())
}

func TestServer_Health(t *testing.T) {
	_, e := newTestServer(t, "production")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestServer_ProtectedRouteRequiresToken(t *testing.T) {
	_, e := newTestServer(t, "production")

	for _, path := range []string{"/api/v1/profile", "/api/v1/meal-plans", "/api/v1/admin/users"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestServer_AdminRouteRejectsPatientToken(t *testing.T) {
	svcs, e := newTestServer(t, "production")

	token, _, err := svcs.issuer.Issue(uuid.New(), "pat@example.com", []string{auth.RolePatient}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestServer_DevServesMemoryFiles(t *testing.T) {
	svcs, e := newTestServer(t, "development")
	if svcs.memStore == nil {
		t.Fatal("expected the memory store in development")
	}

	obj, err := svcs.memStore.Put(context.Background(), blobstore.BucketMealPlanImages,
		"plan/cover.png", "image/png", strings.NewReader("png-bytes"), 9)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(obj.URL, "http://localhost:8000/files/") {
		t.Errorf("unexpected URL %q", obj.URL)
	}

	req := httptest.NewRequest(http.MethodGet, "/files/meal_plan_images/plan/cover.png", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
