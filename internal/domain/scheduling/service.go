package scheduling

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/domain/audit"
	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
	"github.com/nutri/nutri/internal/platform/notification"
)

type Config struct {
	DefaultSlotTimes []string
	PriceFirstVisit  float64
	PriceFollowUp    float64
	// ReminderLeadTime is how long before the start the reminder is sent.
	ReminderLeadTime time.Duration
	// Location interprets appointment dates and times. Defaults to time.Local.
	Location *time.Location
}

// NutritionistDirectory confirms that an identity practises as a
// nutritionist.
type NutritionistDirectory interface {
	IsNutritionist(ctx context.Context, id uuid.UUID) (bool, error)
}

// Deps groups the collaborators of Service. Store, Notifier and Audit are
// optional.
type Deps struct {
	Templates     TemplateRepository
	Appointments  AppointmentRepository
	Nutritionists NutritionistDirectory
	Store         blobstore.Store
	Notifier      notification.Enqueuer
	Audit         audit.Recorder
}

type Service struct {
	Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ReminderLeadTime <= 0 {
		cfg.ReminderLeadTime = 24 * time.Hour
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	return &Service{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "scheduling").Logger(),
		now:    time.Now,
	}
}

func (s *Service) today() string {
	return s.now().In(s.cfg.Location).Format(dateLayout)
}

func parseDate(date string) (time.Time, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// -- Availability --

func (s *Service) requireNutritionist(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNutritionistRequired
	}
	ok, err := s.Nutritionists.IsNutritionist(ctx, id)
	if err != nil {
		return fmt.Errorf("check nutritionist: %w", err)
	}
	if !ok {
		return ErrUnknownNutritionist
	}
	return nil
}

// dayPlan loads the start times a nutritionist offers on date and the ones
// already held by live appointments.
func (s *Service) dayPlan(ctx context.Context, nutritionistID uuid.UUID, date string, d time.Time) (offered, booked []string, err error) {
	templates, err := s.Templates.ListActive(ctx, nutritionistID)
	if err != nil {
		return nil, nil, fmt.Errorf("load slot templates: %w", err)
	}
	booked, err = s.Appointments.BookedStartTimes(ctx, nutritionistID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("load booked slots: %w", err)
	}
	return templateTimes(templates, d.Weekday(), s.cfg.DefaultSlotTimes), booked, nil
}

// AvailableSlots returns the free slots of a nutritionist on date.
func (s *Service) AvailableSlots(ctx context.Context, nutritionistID uuid.UUID, date string) ([]Slot, error) {
	if nutritionistID == uuid.Nil {
		return nil, ErrNutritionistRequired
	}
	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	if date < s.today() {
		return nil, ErrPastDate
	}
	if err := s.requireNutritionist(ctx, nutritionistID); err != nil {
		return nil, err
	}

	offered, booked, err := s.dayPlan(ctx, nutritionistID, date, d)
	if err != nil {
		return nil, err
	}
	return AvailableSlots(date, offered, booked), nil
}

// -- Booking --

func (s *Service) priceFor(t AppointmentType) float64 {
	if t == TypeFirstVisit {
		return s.cfg.PriceFirstVisit
	}
	return s.cfg.PriceFollowUp
}

func (s *Service) validateBooking(req *BookRequest) (string, error) {
	if req.NutritionistID == uuid.Nil {
		return "", ErrNutritionistRequired
	}
	if _, err := parseDate(req.Date); err != nil {
		return "", err
	}
	if req.Date < s.today() {
		return "", ErrPastDate
	}
	if !req.Type.Valid() {
		return "", ErrInvalidType
	}
	if !req.Modality.Valid() {
		return "", ErrInvalidModality
	}
	return EndTime(req.StartTime)
}

// Book reserves a slot for the calling patient and stores any attachments.
// When an attachment fails, the appointment and the files stored before it
// are kept and returned together with an error wrapping
// ErrAttachmentsIncomplete.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req *BookRequest, uploads []*blobstore.Upload) (*BookingResult, error) {
	end, err := s.validateBooking(req)
	if err != nil {
		return nil, err
	}
	if err := s.requireNutritionist(ctx, req.NutritionistID); err != nil {
		return nil, err
	}

	d, _ := parseDate(req.Date)
	offered, booked, err := s.dayPlan(ctx, req.NutritionistID, req.Date, d)
	if err != nil {
		return nil, err
	}
	start, _ := ParseTimeOfDay(req.StartTime)
	if !containsTime(offered, start) {
		return nil, ErrSlotUnavailable
	}
	if containsTime(booked, start) {
		return nil, ErrSlotConflict
	}

	price := s.priceFor(req.Type)
	if req.Price != nil && *req.Price >= 0 {
		price = *req.Price
	}
	a := &Appointment{
		PatientID:       actor.ID,
		NutritionistID:  req.NutritionistID,
		AppointmentDate: req.Date,
		StartTime:       req.StartTime,
		EndTime:         end,
		Type:            req.Type,
		Modality:        req.Modality,
		Status:          StatusScheduled,
		Price:           price,
		Notes:           req.Notes,
	}
	if err := s.Appointments.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("date", a.AppointmentDate).
		Str("start_time", a.StartTime).Msg("appointment booked")

	res := &BookingResult{Appointment: a, Files: []*AppointmentFile{}}
	files, attachErr := s.storeFiles(ctx, a, actor.ID, uploads)
	res.Files = append(res.Files, files...)

	s.notifyBooked(ctx, a)

	if attachErr != nil {
		res.AttachmentError = attachErr.Error()
		return res, attachErr
	}
	return res, nil
}

func containsTime(times []string, t TimeOfDay) bool {
	for _, raw := range times {
		if v, err := ParseTimeOfDay(raw); err == nil && v == t {
			return true
		}
	}
	return false
}

// AttachFiles stores additional files on an existing appointment.
func (s *Service) AttachFiles(ctx context.Context, actor auth.Actor, id uuid.UUID, uploads []*blobstore.Upload) ([]*AppointmentFile, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrForbidden
	}
	return s.storeFiles(ctx, a, actor.ID, uploads)
}

// storeFiles uploads sequentially and stops at the first failure.
func (s *Service) storeFiles(ctx context.Context, a *Appointment, uploader uuid.UUID, uploads []*blobstore.Upload) ([]*AppointmentFile, error) {
	files := []*AppointmentFile{}
	if len(uploads) == 0 {
		return files, nil
	}
	if s.Store == nil {
		return files, fmt.Errorf("%w: file storage is not configured", ErrAttachmentsIncomplete)
	}
	for i, u := range uploads {
		obj, err := blobstore.PutValidated(ctx, s.Store, blobstore.BucketAppointmentFiles,
			blobstore.AttachmentRule, a.PatientID.String(), uuid.NewString(), u)
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Int("stored", i).
				Int("total", len(uploads)).Msg("attachment upload aborted")
			return files, fmt.Errorf("%w: %s: %w", ErrAttachmentsIncomplete, u.FileName, err)
		}
		f := &AppointmentFile{
			AppointmentID: a.ID,
			FileName:      u.FileName,
			FilePath:      obj.Key,
			ContentType:   obj.ContentType,
			Size:          obj.Size,
			UploadedBy:    uploader,
			URL:           obj.URL,
		}
		if err := s.Appointments.CreateFile(ctx, f); err != nil {
			return files, fmt.Errorf("%w: %s: %w", ErrAttachmentsIncomplete, u.FileName, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// -- Queries --

func canView(actor auth.Actor, a *Appointment) bool {
	return actor.ID == a.PatientID || actor.ID == a.NutritionistID || actor.IsAdmin()
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Detail, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrForbidden
	}
	files, err := s.Appointments.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []*AppointmentFile{}
	}
	return &Detail{Appointment: a, Files: files}, nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.Appointments.ListByPatient(ctx, patientID, limit, offset)
}

// Agenda lists a nutritionist's appointments from fromDate onwards. An empty
// fromDate means today.
func (s *Service) Agenda(ctx context.Context, nutritionistID uuid.UUID, fromDate string, limit, offset int) ([]*Appointment, int, error) {
	if fromDate == "" {
		fromDate = s.today()
	} else if _, err := parseDate(fromDate); err != nil {
		return nil, 0, err
	}
	return s.Appointments.ListByNutritionist(ctx, nutritionistID, fromDate, limit, offset)
}

func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Record, int, error) {
	return s.Appointments.Search(ctx, params, limit, offset)
}

var exportHeader = []string{
	"date", "time", "patient", "email", "phone", "nutritionist",
	"type", "modality", "status", "price", "notes",
}

// Export writes every appointment matching params as CSV.
func (s *Service) Export(ctx context.Context, params SearchParams, w io.Writer) (int, error) {
	records, _, err := s.Appointments.Search(ctx, params, 0, 0)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, r := range records {
		row := []string{
			r.AppointmentDate,
			r.StartTime + "-" + r.EndTime,
			r.PatientName,
			r.PatientEmail,
			r.PatientPhone,
			r.NutritionistName,
			string(r.Type),
			string(r.Modality),
			string(r.Status),
			fmt.Sprintf("%.2f", r.Price),
			r.Notes,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(records), cw.Error()
}

// -- Status --

// ChangeStatus moves an appointment along the status machine. Staff may
// apply any allowed transition; the patient may only cancel.
func (s *Service) ChangeStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	staff := actor.IsAdmin() || (actor.ID == a.NutritionistID && actor.IsNutritionist())
	switch {
	case staff:
	case actor.ID == a.PatientID && to == StatusCancelled:
	default:
		return nil, ErrForbidden
	}
	if !a.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, a.Status, to)
	}

	updated, err := s.Appointments.UpdateStatus(ctx, id, a.Status, to)
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, audit.ActionAppointmentStatusChanged,
		fmt.Sprintf("Appointment %s status changed to %s", id, to), actor.ID)
	if to == StatusCancelled {
		s.notify(ctx, updated, notification.KindAppointmentCancellation, time.Time{})
	}
	return updated, nil
}

// -- Notifications --

var notifyKinds = map[NotifyType]notification.Kind{
	NotifyConfirmation: notification.KindAppointmentConfirmation,
	NotifyReminder:     notification.KindAppointmentReminder,
	NotifyCancellation: notification.KindAppointmentCancellation,
}

func (s *Service) notifyBooked(ctx context.Context, a *Appointment) {
	s.notify(ctx, a, notification.KindAppointmentConfirmation, time.Time{})

	start, err := a.StartsAt(s.cfg.Location)
	if err != nil {
		return
	}
	if remindAt := start.Add(-s.cfg.ReminderLeadTime); remindAt.After(s.now()) {
		s.notify(ctx, a, notification.KindAppointmentReminder, remindAt)
	}
}

// notify enqueues a best-effort email. Failures are logged.
func (s *Service) notify(ctx context.Context, a *Appointment, kind notification.Kind, sendAfter time.Time) {
	if s.Notifier == nil {
		return
	}
	if _, err := s.enqueue(ctx, a.ID, kind, sendAfter); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Str("kind", string(kind)).
			Msg("appointment notification not enqueued")
	}
}

func (s *Service) enqueue(ctx context.Context, id uuid.UUID, kind notification.Kind, sendAfter time.Time) (*notification.Notification, error) {
	rec, err := s.Appointments.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PatientEmail == "" {
		return nil, ErrNoRecipient
	}
	return s.Notifier.Enqueue(ctx, notification.Request{
		Kind:      kind,
		Recipient: rec.PatientEmail,
		Data: map[string]string{
			"patient_name": rec.PatientName,
			"type":         string(rec.Type),
			"date":         rec.AppointmentDate,
			"start_time":   rec.StartTime,
			"end_time":     rec.EndTime,
			"modality":     string(rec.Modality),
		},
		SendAfter:     sendAfter,
		ReferenceType: "appointment",
		ReferenceID:   &rec.ID,
	})
}

// Notify sends an appointment email immediately on an admin's request.
func (s *Service) Notify(ctx context.Context, id uuid.UUID, typ NotifyType) (*notification.Notification, error) {
	kind, ok := notifyKinds[typ]
	if !ok {
		return nil, ErrInvalidNotifyType
	}
	if s.Notifier == nil {
		return nil, errors.New("notifications are not configured")
	}
	return s.enqueue(ctx, id, kind, time.Time{})
}

// -- Slot templates --

func (s *Service) CreateTemplate(ctx context.Context, actor auth.Actor, req *TemplateRequest) (*SlotTemplate, error) {
	owner := actor.ID
	if req.NutritionistID != nil && *req.NutritionistID != actor.ID {
		if !actor.IsAdmin() {
			return nil, ErrForbidden
		}
		owner = *req.NutritionistID
	}
	if err := s.requireNutritionist(ctx, owner); err != nil {
		return nil, err
	}
	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		return nil, ErrInvalidDayOfWeek
	}
	if _, err := EndTime(req.StartTime); err != nil {
		return nil, err
	}
	t := &SlotTemplate{NutritionistID: owner, DayOfWeek: req.DayOfWeek, StartTime: req.StartTime}
	if err := s.Templates.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, nutritionistID uuid.UUID) ([]*SlotTemplate, error) {
	items, err := s.Templates.ListActive(ctx, nutritionistID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*SlotTemplate{}
	}
	return items, nil
}

func (s *Service) DeactivateTemplate(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	t, err := s.Templates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.NutritionistID != actor.ID && !actor.IsAdmin() {
		return ErrForbidden
	}
	return s.Templates.Deactivate(ctx, id)
}
