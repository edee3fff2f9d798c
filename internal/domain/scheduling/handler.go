package scheduling

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
	"github.com/nutri/nutri/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/slots", h.AvailableSlots)

	api.POST("/appointments", h.Book)
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.POST("/appointments/:id/files", h.AttachFiles)
	api.PUT("/appointments/:id/status", h.ChangeStatus)

	staff := api.Group("/slot-templates", auth.RequireRole(auth.RoleNutritionist))
	staff.GET("", h.ListTemplates)
	staff.POST("", h.CreateTemplate)
	staff.DELETE("/:id", h.DeactivateTemplate)

	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/appointments", h.Search)
	admin.GET("/appointments/export", h.Export)
	admin.POST("/appointments/:id/notify", h.Notify)
}

func actorFrom(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrUnknownNutritionist):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrTemplateExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoRecipient):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrPastDate), errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidTime), errors.Is(err, ErrSlotCrossesMidnight), errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidModality), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidDayOfWeek),
		errors.Is(err, ErrNutritionistRequired), errors.Is(err, ErrInvalidNotifyType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge), errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrEmptyFile), errors.Is(err, blobstore.ErrObjectExists):
		return blobstore.HTTPError(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "appointment operation failed").SetInternal(err)
	}
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	nid, err := uuid.Parse(c.QueryParam("nutritionist_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nutritionist_id is required")
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), nid, c.QueryParam("date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots})
}

// openUploads opens every file sent as "files[]" or "files". The returned
// function closes them.
func openUploads(c echo.Context) ([]*blobstore.Upload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	headers := append(form.File["files[]"], form.File["files"]...)

	var uploads []*blobstore.Upload
	var closers []func() error
	closeAll := func() {
		for _, fn := range closers {
			_ = fn()
		}
	}
	for _, fh := range headers {
		u, closeFn, err := blobstore.FromMultipart(fh)
		if err != nil {
			closeAll()
			return nil, func() {}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		uploads = append(uploads, u)
		closers = append(closers, closeFn)
	}
	return uploads, closeAll, nil
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

func bookRequestFromForm(c echo.Context) (*BookRequest, error) {
	req := &BookRequest{
		Date:      c.FormValue("date"),
		StartTime: c.FormValue("start_time"),
		Type:      AppointmentType(c.FormValue("type")),
		Modality:  Modality(c.FormValue("modality")),
		Notes:     c.FormValue("notes"),
	}
	if v := c.FormValue("nutritionist_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid nutritionist_id")
		}
		req.NutritionistID = id
	}
	if v := c.FormValue("price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid price")
		}
		req.Price = &p
	}
	return req, nil
}

// Book accepts JSON, or multipart with the booking fields plus files[].
// A failed attachment still answers 201 with attachment_error set, since the
// appointment exists.
func (h *Handler) Book(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	var req *BookRequest
	var uploads []*blobstore.Upload
	if isMultipart(c) {
		if req, err = bookRequestFromForm(c); err != nil {
			return err
		}
		var closeAll func()
		uploads, closeAll, err = openUploads(c)
		if err != nil {
			return err
		}
		defer closeAll()
	} else {
		req = &BookRequest{}
		if err := c.Bind(req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	res, err := h.svc.Book(c.Request().Context(), actor, req, uploads)
	if res == nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

// AttachFiles answers 201 with the stored files. When some were stored before
// a failure the error is reported alongside them.
func (h *Handler) AttachFiles(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	uploads, closeAll, err := openUploads(c)
	if err != nil {
		return err
	}
	defer closeAll()
	if len(uploads) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided")
	}

	files, err := h.svc.AttachFiles(c.Request().Context(), actor, id, uploads)
	if err != nil && len(files) == 0 {
		return httpError(err)
	}
	body := map[string]interface{}{"files": files}
	if err != nil {
		body["attachment_error"] = err.Error()
	}
	return c.JSON(http.StatusCreated, body)
}

// List returns the caller's own appointments, or with view=agenda the
// nutritionist's upcoming agenda.
func (h *Handler) List(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var items []*Appointment
	var total int
	if c.QueryParam("view") == "agenda" {
		if !actor.IsNutritionist() {
			return echo.NewHTTPError(http.StatusForbidden, "required role: "+auth.RoleNutritionist)
		}
		items, total, err = h.svc.Agenda(ctx, actor.ID, c.QueryParam("from"), pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListForPatient(ctx, actor.ID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.ChangeStatus(c.Request().Context(), actor, id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	nid := actor.ID
	if v := c.QueryParam("nutritionist_id"); v != "" {
		if nid, err = uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid nutritionist_id")
		}
	}
	items, err := h.svc.ListTemplates(c.Request().Context(), nid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req TemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), actor, &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) DeactivateTemplate(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateTemplate(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func searchParams(c echo.Context) (SearchParams, error) {
	params := SearchParams{
		Date:   c.QueryParam("date"),
		Status: Status(c.QueryParam("status")),
	}
	if params.Date != "" {
		if _, err := parseDate(params.Date); err != nil {
			return params, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if params.Status != "" && !params.Status.Valid() {
		return params, echo.NewHTTPError(http.StatusBadRequest, ErrInvalidStatus.Error())
	}
	for _, f := range []struct {
		name string
		dst  **uuid.UUID
	}{{"nutritionist_id", &params.NutritionistID}, {"patient_id", &params.PatientID}} {
		v := c.QueryParam(f.name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return params, echo.NewHTTPError(http.StatusBadRequest, "invalid "+f.name)
		}
		*f.dst = &id
	}
	return params, nil
}

func (h *Handler) Search(c echo.Context) error {
	params, err := searchParams(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Export(c echo.Context) error {
	params, err := searchParams(c)
	if err != nil {
		return err
	}
	name := "appointments.csv"
	if params.Date != "" {
		name = "appointments-" + params.Date + ".csv"
	}
	var buf bytes.Buffer
	if _, err := h.svc.Export(c.Request().Context(), params, &buf); err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) Notify(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req NotifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.Notify(c.Request().Context(), id, req.Type)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, n)
}
