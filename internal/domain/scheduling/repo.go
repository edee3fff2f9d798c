package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *SlotTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*SlotTemplate, error)
	ListActive(ctx context.Context, nutritionistID uuid.UUID) ([]*SlotTemplate, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	BookedStartTimes(ctx context.Context, nutritionistID uuid.UUID, date string) ([]string, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByNutritionist(ctx context.Context, nutritionistID uuid.UUID, fromDate string, limit, offset int) ([]*Appointment, int, error)
	// Search with limit <= 0 returns every match.
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Record, int, error)

	CreateFile(ctx context.Context, f *AppointmentFile) error
	ListFiles(ctx context.Context, appointmentID uuid.UUID) ([]*AppointmentFile, error)
}
