package mealplan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
	"github.com/nutri/nutri/internal/platform/notification"
)

// Deps groups the collaborators of Service. Store and Notifier are optional.
type Deps struct {
	Plans    Repository
	Store    blobstore.Store
	Notifier notification.Enqueuer
}

type Service struct {
	Deps
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		Deps:   deps,
		logger: logger.With().Str("component", "mealplan").Logger(),
		now:    time.Now,
	}
}

// canEdit reports whether actor authored p or is an admin.
func canEdit(actor auth.Actor, p *MealPlan) bool {
	return actor.IsAdmin() || p.NutritionistID == actor.ID
}

// Create stores a new plan authored by actor. A plan created as published is
// announced right after the write.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req *PlanRequest) (*MealPlan, error) {
	if !actor.IsNutritionist() {
		return nil, ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &MealPlan{NutritionistID: actor.ID, Status: StatusDraft}
	req.Apply(p)
	if req.Status == StatusPublished {
		s.markPublished(p)
	}
	if err := s.Plans.Create(ctx, p); err != nil {
		return nil, err
	}
	if p.Status == StatusPublished {
		s.announce(ctx, p)
	}
	return p, nil
}

// Update replaces the content of a plan. Moving a draft to published
// announces it; a published plan cannot go back to draft. A plan whose status
// changed since it was read fails with ErrStatusChanged.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req *PlanRequest) (*MealPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.Plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(actor, p) {
		return nil, ErrForbidden
	}
	from := p.Status
	wasPublished := from == StatusPublished
	if wasPublished && req.Status == StatusDraft {
		return nil, ErrInvalidStatus
	}
	req.Apply(p)
	if !wasPublished && req.Status == StatusPublished {
		s.markPublished(p)
	}
	if err := s.Plans.Update(ctx, p, from); err != nil {
		return nil, err
	}
	if !wasPublished && p.Status == StatusPublished {
		s.announce(ctx, p)
	}
	return p, nil
}

// Publish marks a plan published and notifies its recipients. Publishing an
// already published plan is a no-op, including when a concurrent caller wins
// the draft to published write.
func (s *Service) Publish(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MealPlan, error) {
	p, err := s.Plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(actor, p) {
		return nil, ErrForbidden
	}
	if p.Status == StatusPublished {
		return p, nil
	}
	s.markPublished(p)
	if err := s.Plans.Update(ctx, p, StatusDraft); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return s.Plans.GetByID(ctx, id)
		}
		return nil, err
	}
	s.announce(ctx, p)
	return p, nil
}

func (s *Service) markPublished(p *MealPlan) {
	now := s.now().UTC()
	p.Status = StatusPublished
	p.PublishedAt = &now
}

// announce enqueues one push per recipient group. It runs after the plan
// write has committed and never fails it.
func (s *Service) announce(ctx context.Context, p *MealPlan) {
	if s.Notifier == nil {
		return
	}
	id := p.ID
	for _, group := range p.Recipients() {
		_, err := s.Notifier.Enqueue(ctx, notification.Request{
			Kind:          notification.KindNewMealPlan,
			Recipient:     group,
			Data:          map[string]string{"title": p.Title},
			ReferenceType: "meal_plan",
			ReferenceID:   &id,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("meal_plan_id", p.ID.String()).Str("group", group).
				Msg("failed to enqueue meal plan notification")
		}
	}
}

// Get returns a plan visible to actor. Drafts are hidden from everyone but
// their author and admins.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MealPlan, error) {
	p, err := s.Plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if canEdit(actor, p) {
		return p, nil
	}
	if p.Status != StatusPublished {
		return nil, ErrNotFound
	}
	if actor.IsNutritionist() || p.TargetsPatient(actor.ID) {
		return p, nil
	}
	return nil, ErrForbidden
}

// PatientGroups are the recipient groups a patient belongs to.
func PatientGroups(patientID uuid.UUID) []string {
	return []string{notification.GroupAllPatients, patientID.String()}
}

// List returns authored plans for nutritionists and admins and the
// published plans addressed to everyone else. Admins see every author unless
// params narrows it.
func (s *Service) List(ctx context.Context, actor auth.Actor, params ListParams, limit, offset int) ([]*MealPlan, int, error) {
	if !actor.IsNutritionist() {
		return s.Plans.ListPublishedFor(ctx, actor.ID, PatientGroups(actor.ID), limit, offset)
	}
	if params.Status != "" && !params.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	if !actor.IsAdmin() {
		id := actor.ID
		params.NutritionistID = &id
	}
	return s.Plans.List(ctx, params, limit, offset)
}

// MarkViewed records the first time a patient opened a published plan.
func (s *Service) MarkViewed(ctx context.Context, actor auth.Actor, id uuid.UUID) (*MealPlan, error) {
	if actor.IsNutritionist() {
		return nil, ErrForbidden
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPublished {
		return nil, ErrNotPublished
	}
	if !p.TargetsPatient(actor.ID) {
		return nil, ErrForbidden
	}
	if p.ViewedAt != nil {
		return p, nil
	}
	return s.Plans.MarkViewed(ctx, id)
}

// UploadImage stores a plan or meal image under the uploader's prefix and
// returns its public location.
func (s *Service) UploadImage(ctx context.Context, actor auth.Actor, u *blobstore.Upload) (*blobstore.Object, error) {
	if !actor.IsNutritionist() {
		return nil, ErrForbidden
	}
	if s.Store == nil {
		return nil, ErrStorageDisabled
	}
	return blobstore.PutValidated(ctx, s.Store, blobstore.BucketMealPlanImages,
		blobstore.MealPlanImageRule, actor.ID.String(), uuid.NewString(), u)
}
