package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("appointment not found")
	ErrTemplateNotFound      = errors.New("slot template not found")
	ErrTemplateExists        = errors.New("an active slot template already exists for that day and time")
	ErrSlotConflict          = errors.New("slot is already booked")
	ErrSlotUnavailable       = errors.New("slot is not available on that date")
	ErrPastDate              = errors.New("appointments cannot be booked in the past")
	ErrInvalidDate           = errors.New("date must be YYYY-MM-DD")
	ErrInvalidType           = errors.New("type must be first_visit or follow_up")
	ErrInvalidModality       = errors.New("modality must be online or in_person")
	ErrInvalidStatus         = errors.New("unknown appointment status")
	ErrInvalidTransition     = errors.New("status transition not allowed")
	ErrInvalidDayOfWeek      = errors.New("day_of_week must be between 0 and 6")
	ErrNutritionistRequired  = errors.New("nutritionist_id is required")
	ErrUnknownNutritionist   = errors.New("nutritionist not found")
	ErrForbidden             = errors.New("not allowed to access this appointment")
	ErrInvalidNotifyType     = errors.New("type must be confirmation, reminder or cancellation")
	ErrAttachmentsIncomplete = errors.New("some attachments were not uploaded")
	ErrNoRecipient           = errors.New("patient has no email address")
)

const dateLayout = "2006-01-02"

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// transitions lists the statuses reachable from each state. Terminal states
// have no entry.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusRescheduled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether an appointment in this status occupies its slot.
func (s Status) HoldsSlot() bool {
	return s != StatusCancelled && s != StatusRescheduled
}

type AppointmentType string

const (
	TypeFirstVisit AppointmentType = "first_visit"
	TypeFollowUp   AppointmentType = "follow_up"
)

func (t AppointmentType) Valid() bool {
	return t == TypeFirstVisit || t == TypeFollowUp
}

type Modality string

const (
	ModalityOnline   Modality = "online"
	ModalityInPerson Modality = "in_person"
)

func (m Modality) Valid() bool {
	return m == ModalityOnline || m == ModalityInPerson
}

// SlotTemplate is a weekly operating slot. DayOfWeek follows time.Weekday.
type SlotTemplate struct {
	ID             uuid.UUID `db:"id" json:"id"`
	NutritionistID uuid.UUID `db:"nutritionist_id" json:"nutritionist_id"`
	DayOfWeek      int       `db:"day_of_week" json:"day_of_week"`
	StartTime      string    `db:"start_time" json:"start_time"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Slot is a bookable start time on a specific date.
type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Appointment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	NutritionistID  uuid.UUID       `db:"nutritionist_id" json:"nutritionist_id"`
	AppointmentDate string          `db:"appointment_date" json:"appointment_date"`
	StartTime       string          `db:"start_time" json:"start_time"`
	EndTime         string          `db:"end_time" json:"end_time"`
	Type            AppointmentType `db:"type" json:"type"`
	Modality        Modality        `db:"modality" json:"modality"`
	Status          Status          `db:"status" json:"status"`
	Price           float64         `db:"price" json:"price"`
	Notes           string          `db:"notes" json:"notes"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// StartsAt returns the appointment start in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" 15:04", a.AppointmentDate+" "+a.StartTime, loc)
}

type AppointmentFile struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	FileName      string    `db:"file_name" json:"file_name"`
	FilePath      string    `db:"file_path" json:"file_path"`
	ContentType   string    `db:"content_type" json:"content_type"`
	Size          int64     `db:"size" json:"size"`
	UploadedBy    uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	URL           string    `json:"url,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Record is an appointment joined with patient and nutritionist profile
// details for the admin views and notifications.
type Record struct {
	Appointment
	PatientName      string `json:"patient_name"`
	PatientEmail     string `json:"patient_email"`
	PatientPhone     string `json:"patient_phone"`
	NutritionistName string `json:"nutritionist_name"`
}

// Detail is a single appointment with its attachments.
type Detail struct {
	*Appointment
	Files []*AppointmentFile `json:"files"`
}

type BookRequest struct {
	NutritionistID uuid.UUID       `json:"nutritionist_id"`
	Date           string          `json:"date"`
	StartTime      string          `json:"start_time"`
	Type           AppointmentType `json:"type"`
	Modality       Modality        `json:"modality"`
	Price          *float64        `json:"price,omitempty"`
	Notes          string          `json:"notes"`
}

// BookingResult reports the appointment and the attachments stored with it.
// AttachmentError is set when an upload failed part way.
type BookingResult struct {
	Appointment     *Appointment       `json:"appointment"`
	Files           []*AppointmentFile `json:"files"`
	AttachmentError string             `json:"attachment_error,omitempty"`
}

type StatusRequest struct {
	Status Status `json:"status"`
}

type TemplateRequest struct {
	NutritionistID *uuid.UUID `json:"nutritionist_id,omitempty"`
	DayOfWeek      int        `json:"day_of_week"`
	StartTime      string     `json:"start_time"`
}

// SearchParams filters the admin appointment search. Zero values are ignored.
type SearchParams struct {
	Date           string
	Status         Status
	NutritionistID *uuid.UUID
	PatientID      *uuid.UUID
}

// NotifyType selects the template for a manual notification.
type NotifyType string

const (
	NotifyConfirmation NotifyType = "confirmation"
	NotifyReminder     NotifyType = "reminder"
	NotifyCancellation NotifyType = "cancellation"
)

type NotifyRequest struct {
	Type NotifyType `json:"type"`
}
