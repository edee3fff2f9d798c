package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/platform/blobstore"
)

type Service struct {
	repo  Repository
	store blobstore.Store
	now   func() time.Time
}

func NewService(repo Repository, store blobstore.Store) *Service {
	return &Service{repo: repo, store: store, now: time.Now}
}

// Ensure reads the profile for id and creates a default one when absent. It
// reports whether the profile has been customized. A failed insert wraps
// ErrProfileBootstrap.
func (s *Service) Ensure(ctx context.Context, id uuid.UUID, email, displayName string) (bool, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return p.IsProfileCompleted, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("read profile: %w", err)
	}

	p = NewDefault(id, email, displayName, s.now())
	if err := s.repo.Create(ctx, p); err != nil {
		// A concurrent login created it first.
		if errors.Is(err, ErrAlreadyExists) {
			existing, gerr := s.repo.GetByID(ctx, id)
			if gerr == nil {
				return existing.IsProfileCompleted, nil
			}
		}
		return false, fmt.Errorf("%w: %w", ErrProfileBootstrap, err)
	}
	return false, nil
}

// Create stores a profile built by registration.
func (s *Service) Create(ctx context.Context, p *Profile) error {
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrProfileBootstrap, err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// Customize validates and applies req, marking the profile completed.
func (s *Service) Customize(ctx context.Context, id uuid.UUID, req *CustomizeRequest) (*Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(p)
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetActive toggles whether the identity may sign in.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// UploadAvatar stores an avatar under "<id>/<unix-nanos>.<ext>" and points the
// profile at it.
func (s *Service) UploadAvatar(ctx context.Context, id uuid.UUID, u *blobstore.Upload) (*Profile, error) {
	return s.uploadImage(ctx, id, u, s.repo.SetAvatarURL)
}

// UploadCover stores a cover image the same way as an avatar.
func (s *Service) UploadCover(ctx context.Context, id uuid.UUID, u *blobstore.Upload) (*Profile, error) {
	return s.uploadImage(ctx, id, u, s.repo.SetCoverURL)
}

func (s *Service) uploadImage(ctx context.Context, id uuid.UUID, u *blobstore.Upload, set func(context.Context, uuid.UUID, string) error) (*Profile, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	name := strconv.FormatInt(s.now().UnixNano(), 10)
	obj, err := blobstore.PutValidated(ctx, s.store, blobstore.BucketAvatars, blobstore.AvatarRule, id.String(), name, u)
	if err != nil {
		return nil, err
	}
	if err := set(ctx, id, obj.URL); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}
