package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/platform/notification"
)

type mockTemplateRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*SlotTemplate
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{items: make(map[uuid.UUID]*SlotTemplate)}
}

func (m *mockTemplateRepo) Create(_ context.Context, t *SlotTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Active && existing.NutritionistID == t.NutritionistID &&
			existing.DayOfWeek == t.DayOfWeek && existing.StartTime == t.StartTime {
			return ErrTemplateExists
		}
	}
	t.ID = uuid.New()
	t.Active = true
	t.CreatedAt = time.Now()
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*SlotTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTemplateRepo) ListActive(_ context.Context, nutritionistID uuid.UUID) ([]*SlotTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SlotTemplate
	for _, t := range m.items {
		if t.Active && t.NutritionistID == nutritionistID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTemplateRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return ErrTemplateNotFound
	}
	t.Active = false
	return nil
}

// mockAppointmentRepo enforces the live-slot uniqueness the database index
// provides.
type mockAppointmentRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*Appointment
	files    map[uuid.UUID][]*AppointmentFile
	contacts map[uuid.UUID][2]string // patient id -> name, email
	names    map[uuid.UUID]string
	fileErr  error
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{
		items:    make(map[uuid.UUID]*Appointment),
		files:    make(map[uuid.UUID][]*AppointmentFile),
		contacts: make(map[uuid.UUID][2]string),
		names:    make(map[uuid.UUID]string),
	}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Status.HoldsSlot() && existing.NutritionistID == a.NutritionistID &&
			existing.AppointmentDate == a.AppointmentDate && existing.StartTime == a.StartTime {
			return ErrSlotConflict
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) record(a *Appointment) *Record {
	c := m.contacts[a.PatientID]
	return &Record{Appointment: *a, PatientName: c[0], PatientEmail: c[1], NutritionistName: m.names[a.NutritionistID]}
}

func (m *mockAppointmentRepo) GetRecord(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.record(a), nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != from {
		return nil, ErrInvalidTransition
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) BookedStartTimes(_ context.Context, nutritionistID uuid.UUID, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.items {
		if a.NutritionistID == nutritionistID && a.AppointmentDate == date && a.Status.HoldsSlot() {
			out = append(out, a.StartTime)
		}
	}
	return out, nil
}

func (m *mockAppointmentRepo) filter(keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDate != out[j].AppointmentDate {
			return out[i].AppointmentDate < out[j].AppointmentDate
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	return page(all, limit, offset), len(all), nil
}

func (m *mockAppointmentRepo) ListByNutritionist(_ context.Context, nutritionistID uuid.UUID, fromDate string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(a *Appointment) bool {
		return a.NutritionistID == nutritionistID && a.AppointmentDate >= fromDate
	})
	return page(all, limit, offset), len(all), nil
}

func (m *mockAppointmentRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(func(a *Appointment) bool {
		switch {
		case params.Date != "" && a.AppointmentDate != params.Date:
			return false
		case params.Status != "" && a.Status != params.Status:
			return false
		case params.NutritionistID != nil && a.NutritionistID != *params.NutritionistID:
			return false
		case params.PatientID != nil && a.PatientID != *params.PatientID:
			return false
		}
		return true
	})
	selected := all
	if limit > 0 {
		selected = page(all, limit, offset)
	}
	out := make([]*Record, len(selected))
	for i, a := range selected {
		out[i] = m.record(a)
	}
	return out, len(all), nil
}

func (m *mockAppointmentRepo) CreateFile(_ context.Context, f *AppointmentFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fileErr != nil {
		return m.fileErr
	}
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	m.files[f.AppointmentID] = append(m.files[f.AppointmentID], f)
	return nil
}

func (m *mockAppointmentRepo) ListFiles(_ context.Context, appointmentID uuid.UUID) ([]*AppointmentFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[appointmentID], nil
}

type mockEnqueuer struct {
	mu       sync.Mutex
	requests []notification.Request
	err      error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, req notification.Request) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &notification.Notification{ID: uuid.New(), Kind: req.Kind, Recipient: req.Recipient, SendAfter: req.SendAfter}, nil
}

func (m *mockEnqueuer) kinds() []notification.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notification.Kind, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Kind
	}
	return out
}

type auditCall struct {
	action, details string
	actor           uuid.UUID
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (r *recordingAudit) Record(_ context.Context, action, details string, actor uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, auditCall{action, details, actor})
}

var errBoom = errors.New("boom")

// stubDirectory knows a fixed set of nutritionists.
type stubDirectory struct {
	mu  sync.Mutex
	ids map[uuid.UUID]bool
	err error
}

func (d *stubDirectory) add(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = true
}

func (d *stubDirectory) IsNutritionist(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.ids[id], nil
}
