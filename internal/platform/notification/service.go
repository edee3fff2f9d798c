package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service writes outbox rows and serves the admin views over them.
type Service struct {
	repo      Repository
	templates *TemplateEngine
}

func NewService(repo Repository, templates *TemplateEngine) *Service {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Service{repo: repo, templates: templates}
}

// Enqueue renders req and stores it as a pending row.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Notification, error) {
	n, err := s.templates.Build(req.Kind, req.Recipient, req.Data, req.SendAfter)
	if err != nil {
		return nil, err
	}
	n.ReferenceType = req.ReferenceType
	n.ReferenceID = req.ReferenceID
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("enqueue %s notification: %w", req.Kind, err)
	}
	return n, nil
}

func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	return s.repo.ResetFailed(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// ListForRecipients returns notifications addressed to any of recipients.
func (s *Service) ListForRecipients(ctx context.Context, recipients []string, limit, offset int) ([]*Notification, int, error) {
	if len(recipients) == 0 {
		return nil, 0, nil
	}
	return s.repo.ListByRecipients(ctx, recipients, limit, offset)
}
