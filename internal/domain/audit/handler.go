package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger *Logger
}

// NewHandler serves the audit log search. logger may be nil, in which case
// the stats endpoint reports zeros.
func NewHandler(svc *Service, logger *Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/audit-logs", h.Search)
	admin.GET("/audit-logs/stats", h.Stats)
}

func (h *Handler) Search(c echo.Context) error {
	var params SearchParams
	params.Action = c.QueryParam("action")

	if v := c.QueryParam("actor"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid actor")
		}
		params.Actor = &id
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		v := c.QueryParam(f.name)
		if v == "" {
			continue
		}
		t, err := parseDateOrTime(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+f.name+": use YYYY-MM-DD or RFC3339")
		}
		*f.dst = &t
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Stats(c echo.Context) error {
	var st Stats
	if h.logger != nil {
		st = h.logger.Stats()
	}
	return c.JSON(http.StatusOK, st)
}

func parseDateOrTime(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
