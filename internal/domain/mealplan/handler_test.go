package mealplan

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/notification"
)

func withActor(req *http.Request, a auth.Actor) *http.Request {
	claims := &auth.Claims{Roles: a.Roles}
	claims.Subject = a.ID.String()
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func jsonRequest(method, path, body string, a auth.Actor) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return withActor(req, a)
}

const planBody = `{"title":"Week 1","category":"breakfast","selected_groups":["all_patients"],
	"meals":[{"time":"08:00","name":"Breakfast","foods":[{"name":"Eggs","portion":"2","calories":140,"protein":12,"carbs":1,"fats":10}]}]}`

func TestHandler_CreateAndPublish(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(jsonRequest(http.MethodPost, "/api/v1/meal-plans", planBody, f.nutritionist), rec)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created MealPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Totals.Calories != 140 || created.Status != StatusDraft {
		t.Errorf("unexpected plan: %+v", created)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", "", f.nutritionist), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Publish(c); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := f.notifier.recipients(); len(got) != 1 || got[0] != notification.GroupAllPatients {
		t.Errorf("unexpected recipients: %v", got)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body := strings.Replace(planBody, `"breakfast"`, `"brunch"`, 1)
	err := h.Create(e.NewContext(jsonRequest(http.MethodPost, "/", body, f.nutritionist), httptest.NewRecorder()))
	if got := httpCode(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_GetDraftHiddenFromPatient(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	p := f.draft(t)

	c := e.NewContext(jsonRequest(http.MethodGet, "/", "", f.patient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if got := httpCode(t, h.Get(c)); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}

	c = e.NewContext(jsonRequest(http.MethodGet, "/", "", f.patient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if got := httpCode(t, h.Get(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_UploadImage(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="salad.png"`)
	hdr.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(hdr)
	part.Write([]byte("\x89PNG\r\n\x1a\nimage-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/meal-plans/images", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	if err := h.UploadImage(e.NewContext(withActor(req, f.nutritionist), rec)); err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"bucket":"meal_plan_images"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_RouteRoles(t *testing.T) {
	f := newFixture()
	e := echo.New()
	api := e.Group("/api/v1")
	NewHandler(f.svc).RegisterRoutes(api)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/v1/meal-plans", planBody, f.patient))
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient create: expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodGet, "/api/v1/meal-plans", "", f.patient))
	if rec.Code != http.StatusOK {
		t.Errorf("patient list: expected 200, got %d", rec.Code)
	}
}
