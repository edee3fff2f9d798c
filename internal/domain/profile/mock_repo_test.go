package profile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]*Profile
	createErr error
	getErr    error
	creates   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{profiles: make(map[uuid.UUID]*Profile)}
}

func (m *mockRepo) Create(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.profiles[p.ID]; ok {
		return ErrAlreadyExists
	}
	m.creates++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		return ErrNotFound
	}
	if p.Username != nil {
		for id, other := range m.profiles {
			if id != p.ID && other.Username != nil && strings.EqualFold(*other.Username, *p.Username) {
				return ErrUsernameTaken
			}
		}
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *mockRepo) update(id uuid.UUID, fn func(p *Profile)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	return nil
}

func (m *mockRepo) SetAvatarURL(_ context.Context, id uuid.UUID, url string) error {
	return m.update(id, func(p *Profile) { p.AvatarURL = &url })
}

func (m *mockRepo) SetCoverURL(_ context.Context, id uuid.UUID, url string) error {
	return m.update(id, func(p *Profile) { p.CoverImageURL = &url })
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return m.update(id, func(p *Profile) { p.IsActive = active })
}
