package mealplan

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *MealPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*MealPlan, error)
	// Update writes p only while the stored status still equals from and
	// returns ErrStatusChanged otherwise.
	Update(ctx context.Context, p *MealPlan, from Status) error
	MarkViewed(ctx context.Context, id uuid.UUID) (*MealPlan, error)
	List(ctx context.Context, params ListParams, limit, offset int) ([]*MealPlan, int, error)
	// ListPublishedFor returns published plans targeted at patientID directly
	// or through any of groups.
	ListPublishedFor(ctx context.Context, patientID uuid.UUID, groups []string, limit, offset int) ([]*MealPlan, int, error)
}
