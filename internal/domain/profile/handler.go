package profile

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profile", h.Get)
	api.PUT("/profile", h.Customize)
	api.POST("/profile/avatar", h.UploadAvatar)
	api.POST("/profile/cover", h.UploadCover)
}

func identity(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	case errors.Is(err, ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrFullNameRequired), errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrTooManyInterests), errors.Is(err, ErrInvalidBirthDate),
		errors.Is(err, ErrInvalidTheme):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "profile operation failed").SetInternal(err)
	}
}

func (h *Handler) Get(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Customize(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req CustomizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Customize(c.Request().Context(), id, &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UploadAvatar(c echo.Context) error {
	return h.upload(c, h.svc.UploadAvatar)
}

func (h *Handler) UploadCover(c echo.Context) error {
	return h.upload(c, h.svc.UploadCover)
}

type uploadFunc func(ctx context.Context, id uuid.UUID, u *blobstore.Upload) (*Profile, error)

func (h *Handler) upload(c echo.Context, fn uploadFunc) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	u, closeFn, err := blobstore.FromMultipart(fh)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer closeFn()

	p, err := fn(c.Request().Context(), id, u)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return httpError(err)
		}
		return blobstore.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}
