package profile

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	SetAvatarURL(ctx context.Context, id uuid.UUID, url string) error
	SetCoverURL(ctx context.Context, id uuid.UUID, url string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
