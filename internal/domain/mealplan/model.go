package mealplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/platform/notification"
)

var (
	ErrNotFound        = errors.New("meal plan not found")
	ErrForbidden       = errors.New("not allowed to access this meal plan")
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidCategory = errors.New("category must be breakfast, lunch, snack or dinner")
	ErrInvalidStatus   = errors.New("status must be draft or published")
	ErrInvalidFood     = errors.New("invalid food item")
	ErrInvalidTime     = errors.New("time must be HH:MM")
	ErrInvalidDate     = errors.New("scheduled_date must be YYYY-MM-DD")
	ErrInvalidGroup    = errors.New("recipient groups must be all_patients or identity ids")
	ErrNotPublished    = errors.New("meal plan is not published")
	ErrStatusChanged   = errors.New("meal plan status changed, reload and retry")
	ErrStorageDisabled = errors.New("image storage is not configured")
)

type Category string

const (
	CategoryBreakfast Category = "breakfast"
	CategoryLunch     Category = "lunch"
	CategorySnack     Category = "snack"
	CategoryDinner    Category = "dinner"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBreakfast, CategoryLunch, CategorySnack, CategoryDinner:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

func (s Status) Valid() bool { return s == StatusDraft || s == StatusPublished }

type FoodItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Portion  string  `json:"portion"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
	Notes    string  `json:"notes,omitempty"`
}

type Meal struct {
	ID       string     `json:"id"`
	Time     string     `json:"time"`
	Name     string     `json:"name"`
	Notes    string     `json:"notes,omitempty"`
	ImageURL string     `json:"image_url,omitempty"`
	Foods    []FoodItem `json:"foods"`
}

// Totals is the macro sum of a plan.
type Totals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// ComputeTotals sums the macros of every food item of every meal.
func ComputeTotals(meals []Meal) Totals {
	var t Totals
	for _, m := range meals {
		for _, f := range m.Foods {
			t.Calories += f.Calories
			t.Protein += f.Protein
			t.Carbs += f.Carbs
			t.Fats += f.Fats
		}
	}
	return t
}

// MealPlan maps to the meal_plans table. Meals are stored as jsonb and Totals
// is recomputed from them on every save.
type MealPlan struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	NutritionistID uuid.UUID       `db:"nutritionist_id" json:"nutritionist_id"`
	PatientID      *uuid.UUID      `db:"patient_id" json:"patient_id,omitempty"`
	Title          string          `db:"title" json:"title"`
	Category       Category        `db:"category" json:"category"`
	Content        json.RawMessage `db:"content" json:"content"`
	Meals          []Meal          `db:"meals" json:"meals"`
	Totals         Totals          `json:"totals"`
	ScheduledDate  *string         `db:"scheduled_date" json:"scheduled_date,omitempty"`
	ScheduledTime  *string         `db:"scheduled_time" json:"scheduled_time,omitempty"`
	SelectedGroups []string        `db:"selected_groups" json:"selected_groups"`
	ImageURL       *string         `db:"image_url" json:"image_url,omitempty"`
	Status         Status          `db:"status" json:"status"`
	PublishedAt    *time.Time      `db:"published_at" json:"published_at,omitempty"`
	ViewedAt       *time.Time      `db:"viewed_at" json:"viewed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Recipients returns the groups notified on publish: the selected groups plus
// the target patient when not already listed.
func (p *MealPlan) Recipients() []string {
	out := make([]string, 0, len(p.SelectedGroups)+1)
	seen := make(map[string]bool)
	for _, g := range p.SelectedGroups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	if p.PatientID != nil && !seen[p.PatientID.String()] {
		out = append(out, p.PatientID.String())
	}
	return out
}

// TargetsPatient reports whether a published plan is addressed to id.
func (p *MealPlan) TargetsPatient(id uuid.UUID) bool {
	if p.PatientID != nil && *p.PatientID == id {
		return true
	}
	for _, g := range p.SelectedGroups {
		if g == notification.GroupAllPatients || g == id.String() {
			return true
		}
	}
	return false
}

// PlanRequest is the body of create and update. An empty Status keeps the
// current one, or draft on create.
type PlanRequest struct {
	Title          string          `json:"title"`
	Category       Category        `json:"category"`
	Content        json.RawMessage `json:"content,omitempty"`
	Meals          []Meal          `json:"meals"`
	PatientID      *uuid.UUID      `json:"patient_id,omitempty"`
	ScheduledDate  *string         `json:"scheduled_date,omitempty"`
	ScheduledTime  *string         `json:"scheduled_time,omitempty"`
	SelectedGroups []string        `json:"selected_groups"`
	ImageURL       *string         `json:"image_url,omitempty"`
	Status         Status          `json:"status,omitempty"`
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

// Validate checks the request and normalizes blank optional fields.
func (r *PlanRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return ErrTitleRequired
	}
	if !r.Category.Valid() {
		return ErrInvalidCategory
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidStatus
	}
	if r.ScheduledDate != nil && *r.ScheduledDate == "" {
		r.ScheduledDate = nil
	}
	if r.ScheduledDate != nil {
		if _, err := time.Parse("2006-01-02", *r.ScheduledDate); err != nil {
			return ErrInvalidDate
		}
	}
	if r.ScheduledTime != nil && *r.ScheduledTime == "" {
		r.ScheduledTime = nil
	}
	if r.ScheduledTime != nil && !validClock(*r.ScheduledTime) {
		return ErrInvalidTime
	}
	for _, g := range r.SelectedGroups {
		if g == notification.GroupAllPatients {
			continue
		}
		if _, err := uuid.Parse(g); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidGroup, g)
		}
	}
	for i := range r.Meals {
		m := &r.Meals[i]
		if m.Time != "" && !validClock(m.Time) {
			return fmt.Errorf("%w: meal %d", ErrInvalidTime, i+1)
		}
		for j, f := range m.Foods {
			if strings.TrimSpace(f.Name) == "" {
				return fmt.Errorf("%w: meal %d item %d needs a name", ErrInvalidFood, i+1, j+1)
			}
			if f.Calories < 0 || f.Protein < 0 || f.Carbs < 0 || f.Fats < 0 {
				return fmt.Errorf("%w: %s has negative macros", ErrInvalidFood, f.Name)
			}
		}
	}
	return nil
}

// Apply copies the request onto p, assigns ids to new meals and food items
// and recomputes the totals.
func (r *PlanRequest) Apply(p *MealPlan) {
	p.Title = r.Title
	p.Category = r.Category
	if len(r.Content) > 0 {
		p.Content = r.Content
	}
	if p.Content == nil {
		p.Content = json.RawMessage(`{}`)
	}
	p.Meals = make([]Meal, len(r.Meals))
	for i, m := range r.Meals {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		foods := make([]FoodItem, len(m.Foods))
		for j, f := range m.Foods {
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
			f.Name = strings.TrimSpace(f.Name)
			foods[j] = f
		}
		m.Foods = foods
		p.Meals[i] = m
	}
	p.Totals = ComputeTotals(p.Meals)
	p.PatientID = r.PatientID
	p.ScheduledDate = r.ScheduledDate
	p.ScheduledTime = r.ScheduledTime
	p.SelectedGroups = r.SelectedGroups
	if p.SelectedGroups == nil {
		p.SelectedGroups = []string{}
	}
	if r.ImageURL != nil {
		p.ImageURL = r.ImageURL
	}
}

// ListParams filters authored plans. Zero values are ignored.
type ListParams struct {
	NutritionistID *uuid.UUID
	Status         Status
}
