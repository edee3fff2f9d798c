package mealplan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutri/nutri/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const planCols = `id, nutritionist_id, patient_id, title, category, content, meals,
	total_calories, total_protein, total_carbs, total_fats,
	scheduled_date::text, scheduled_time, selected_groups, image_url, status,
	published_at, viewed_at, created_at, updated_at`

func scanPlan(row pgx.Row) (*MealPlan, error) {
	var p MealPlan
	var content, meals []byte
	err := row.Scan(&p.ID, &p.NutritionistID, &p.PatientID, &p.Title, &p.Category, &content, &meals,
		&p.Totals.Calories, &p.Totals.Protein, &p.Totals.Carbs, &p.Totals.Fats,
		&p.ScheduledDate, &p.ScheduledTime, &p.SelectedGroups, &p.ImageURL, &p.Status,
		&p.PublishedAt, &p.ViewedAt, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Content = json.RawMessage(content)
	if err := json.Unmarshal(meals, &p.Meals); err != nil {
		return nil, fmt.Errorf("decode meals of %s: %w", p.ID, err)
	}
	if p.Meals == nil {
		p.Meals = []Meal{}
	}
	if p.SelectedGroups == nil {
		p.SelectedGroups = []string{}
	}
	return &p, nil
}

func encode(p *MealPlan) (content, meals []byte, err error) {
	content = p.Content
	if len(content) == 0 {
		content = []byte(`{}`)
	}
	if p.Meals == nil {
		p.Meals = []Meal{}
	}
	meals, err = json.Marshal(p.Meals)
	return content, meals, err
}

func (r *repoPG) Create(ctx context.Context, p *MealPlan) error {
	p.ID = uuid.New()
	content, meals, err := encode(p)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO meal_plans (id, nutritionist_id, patient_id, title, category, content, meals,
			total_calories, total_protein, total_carbs, total_fats,
			scheduled_date, scheduled_time, selected_groups, image_url, status, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::date,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		p.ID, p.NutritionistID, p.PatientID, p.Title, p.Category, content, meals,
		p.Totals.Calories, p.Totals.Protein, p.Totals.Carbs, p.Totals.Fats,
		p.ScheduledDate, p.ScheduledTime, p.SelectedGroups, p.ImageURL, p.Status, p.PublishedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MealPlan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM meal_plans WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *MealPlan, from Status) error {
	content, meals, err := encode(p)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE meal_plans SET patient_id=$2, title=$3, category=$4, content=$5, meals=$6,
			total_calories=$7, total_protein=$8, total_carbs=$9, total_fats=$10,
			scheduled_date=$11::date, scheduled_time=$12, selected_groups=$13, image_url=$14,
			status=$15, published_at=$16, updated_at=NOW()
		WHERE id = $1 AND status = $17
		RETURNING updated_at`,
		p.ID, p.PatientID, p.Title, p.Category, content, meals,
		p.Totals.Calories, p.Totals.Protein, p.Totals.Carbs, p.Totals.Fats,
		p.ScheduledDate, p.ScheduledTime, p.SelectedGroups, p.ImageURL,
		p.Status, p.PublishedAt, from,
	).Scan(&p.UpdatedAt)
	if db.IsNotFound(err) {
		// Plans are never deleted, so a miss after a successful read means
		// another writer moved the status first.
		return ErrStatusChanged
	}
	return err
}

func (r *repoPG) MarkViewed(ctx context.Context, id uuid.UUID) (*MealPlan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `
		UPDATE meal_plans SET viewed_at = COALESCE(viewed_at, NOW())
		WHERE id = $1
		RETURNING `+planCols, id))
}

func (r *repoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*MealPlan, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM meal_plans WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf(`SELECT %s FROM meal_plans WHERE %s
		ORDER BY COALESCE(published_at, created_at) DESC
		LIMIT $%d OFFSET $%d`, planCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*MealPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) List(ctx context.Context, params ListParams, limit, offset int) ([]*MealPlan, int, error) {
	where := "1=1"
	var args []interface{}
	idx := 1
	if params.NutritionistID != nil {
		where += fmt.Sprintf(" AND nutritionist_id = $%d", idx)
		args = append(args, *params.NutritionistID)
		idx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, params.Status)
	}
	return r.list(ctx, where, args, limit, offset)
}

func (r *repoPG) ListPublishedFor(ctx context.Context, patientID uuid.UUID, groups []string, limit, offset int) ([]*MealPlan, int, error) {
	return r.list(ctx, `status = 'published' AND (patient_id = $1 OR selected_groups && $2::text[])`,
		[]interface{}{patientID, groups}, limit, offset)
}
