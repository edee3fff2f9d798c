package access

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nutri/nutri/internal/platform/auth"
)

type Handler struct {
	router *Router
	issuer *auth.TokenIssuer
}

func NewHandler(router *Router, issuer *auth.TokenIssuer) *Handler {
	return &Handler{router: router, issuer: issuer}
}

// RegisterRoutes mounts the routing endpoints. The guard is public and reads
// an optional token itself.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me/destination", h.Destination)
	api.GET("/routes/guard", h.Guard, auth.JWTMiddleware(auth.JWTConfig{Issuer: h.issuer, Optional: true}))
}

func (h *Handler) Destination(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	res, err := h.router.Route(ctx, id, auth.EmailFromContext(ctx), "")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create user profile").SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Guard(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	_, authenticated := auth.IdentityFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, Guard(path, authenticated))
}
