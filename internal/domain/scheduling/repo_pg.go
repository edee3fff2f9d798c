package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

// =========== Slot Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const templateCols = `id, nutritionist_id, day_of_week, start_time, active, created_at`

func scanTemplate(row pgx.Row) (*SlotTemplate, error) {
	var t SlotTemplate
	err := row.Scan(&t.ID, &t.NutritionistID, &t.DayOfWeek, &t.StartTime, &t.Active, &t.CreatedAt)
	if db.IsNotFound(err) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *SlotTemplate) error {
	t.ID = uuid.New()
	t.Active = true
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_slots (id, nutritionist_id, day_of_week, start_time, active)
		VALUES ($1,$2,$3,$4,TRUE)
		RETURNING created_at`,
		t.ID, t.NutritionistID, t.DayOfWeek, t.StartTime).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err, "appointment_slots_template_key") {
		return ErrTemplateExists
	}
	return err
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SlotTemplate, error) {
	return scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM appointment_slots WHERE id = $1`, id))
}

func (r *templateRepoPG) ListActive(ctx context.Context, nutritionistID uuid.UUID) ([]*SlotTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM appointment_slots
		WHERE nutritionist_id = $1 AND active
		ORDER BY day_of_week, start_time`, nutritionistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*SlotTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *templateRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointment_slots SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `a.id, a.patient_id, a.nutritionist_id, a.appointment_date::text, a.start_time,
	a.end_time, a.type, a.modality, a.status, a.price::float8, a.notes, a.created_at, a.updated_at`

const recordCols = apptCols + `, COALESCE(p.full_name, ''), COALESCE(p.email, ''),
	COALESCE(p.phone, ''), COALESCE(n.full_name, '')`

const recordFrom = ` FROM appointments a
	LEFT JOIN profiles p ON p.id = a.patient_id
	LEFT JOIN profiles n ON n.id = a.nutritionist_id`

func apptDest(a *Appointment) []interface{} {
	return []interface{}{&a.ID, &a.PatientID, &a.NutritionistID, &a.AppointmentDate, &a.StartTime,
		&a.EndTime, &a.Type, &a.Modality, &a.Status, &a.Price, &a.Notes, &a.CreatedAt, &a.UpdatedAt}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(apptDest(&a)...)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	dest := append(apptDest(&rec.Appointment), &rec.PatientName, &rec.PatientEmail,
		&rec.PatientPhone, &rec.NutritionistName)
	err := row.Scan(dest...)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, nutritionist_id, appointment_date, start_time,
			end_time, type, modality, status, price, notes)
		VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.NutritionistID, a.AppointmentDate, a.StartTime,
		a.EndTime, a.Type, a.Modality, a.Status, a.Price, a.Notes).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "appointments_slot_unique") {
		return ErrSlotConflict
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+recordFrom+` WHERE a.id = $1`, id))
}

// UpdateStatus changes the status only while it still equals from, so two
// concurrent transitions cannot both succeed.
func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments a SET status = $3, updated_at = NOW()
		WHERE a.id = $1 AND a.status = $2
		RETURNING `+apptCols, id, from, to))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidTransition
	}
	return a, err
}

func (r *appointmentRepoPG) BookedStartTimes(ctx context.Context, nutritionistID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time FROM appointments
		WHERE nutritionist_id = $1 AND appointment_date = $2::date
			AND status NOT IN ('cancelled', 'rescheduled')`, nutritionistID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) list(ctx context.Context, where string, args []interface{}, order string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	idx := len(args) + 1
	query := `SELECT ` + apptCols + ` FROM appointments a` + where + ` ORDER BY ` + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, ` WHERE a.patient_id = $1`, []interface{}{patientID},
		`a.appointment_date DESC, a.start_time DESC`, limit, offset)
}

func (r *appointmentRepoPG) ListByNutritionist(ctx context.Context, nutritionistID uuid.UUID, fromDate string, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE a.nutritionist_id = $1`
	args := []interface{}{nutritionistID}
	if fromDate != "" {
		where += ` AND a.appointment_date >= $2::date`
		args = append(args, fromDate)
	}
	return r.list(ctx, where, args, `a.appointment_date, a.start_time`, limit, offset)
}

func (r *appointmentRepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Record, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if params.Date != "" {
		where += fmt.Sprintf(` AND a.appointment_date = $%d::date`, idx)
		args = append(args, params.Date)
		idx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(` AND a.status = $%d`, idx)
		args = append(args, params.Status)
		idx++
	}
	if params.NutritionistID != nil {
		where += fmt.Sprintf(` AND a.nutritionist_id = $%d`, idx)
		args = append(args, *params.NutritionistID)
		idx++
	}
	if params.PatientID != nil {
		where += fmt.Sprintf(` AND a.patient_id = $%d`, idx)
		args = append(args, *params.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordCols + recordFrom + where + ` ORDER BY a.appointment_date DESC, a.start_time`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, limit, offset)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CreateFile(ctx context.Context, f *AppointmentFile) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_files (id, appointment_id, file_name, file_path, content_type, size, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		f.ID, f.AppointmentID, f.FileName, f.FilePath, f.ContentType, f.Size, f.UploadedBy).Scan(&f.CreatedAt)
}

func (r *appointmentRepoPG) ListFiles(ctx context.Context, appointmentID uuid.UUID) ([]*AppointmentFile, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, file_name, file_path, content_type, size, uploaded_by, created_at
		FROM appointment_files WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []*AppointmentFile
	for rows.Next() {
		var f AppointmentFile
		if err := rows.Scan(&f.ID, &f.AppointmentID, &f.FileName, &f.FilePath, &f.ContentType,
			&f.Size, &f.UploadedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}
