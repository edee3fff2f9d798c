package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/domain/access"
	"github.com/nutri/nutri/internal/domain/profile"
	"github.com/nutri/nutri/internal/platform/notification"
	"github.com/nutri/nutri/internal/platform/session"
)

type mockIdentityRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Identity
	touched map[uuid.UUID]time.Time
}

func newMockIdentityRepo() *mockIdentityRepo {
	return &mockIdentityRepo{byID: make(map[uuid.UUID]*Identity), touched: make(map[uuid.UUID]time.Time)}
}

func (m *mockIdentityRepo) Create(_ context.Context, i *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i.Email = strings.ToLower(i.Email)
	for _, existing := range m.byID {
		if existing.Email == i.Email {
			return ErrEmailTaken
		}
	}
	i.ID = uuid.New()
	i.CreatedAt = time.Now()
	cp := *i
	m.byID[i.ID] = &cp
	return nil
}

func (m *mockIdentityRepo) GetByID(_ context.Context, id uuid.UUID) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *mockIdentityRepo) GetByEmail(_ context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.Email == strings.ToLower(email) {
			cp := *i
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockIdentityRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	i.PasswordHash = hash
	return nil
}

func (m *mockIdentityRepo) TouchSignIn(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
	return nil
}

type mockResetRepo struct {
	mu     sync.Mutex
	tokens map[string]*ResetToken
}

func newMockResetRepo() *mockResetRepo {
	return &mockResetRepo{tokens: make(map[string]*ResetToken)}
}

func (m *mockResetRepo) Create(_ context.Context, t *ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.TokenHash] = &cp
	return nil
}

func (m *mockResetRepo) Consume(_ context.Context, hash string, now time.Time) (*ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return nil, ErrInvalidResetToken
	}
	t.UsedAt = &now
	cp := *t
	return &cp, nil
}

type stubProfiles struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]*profile.Profile
	createErr error
}

func newStubProfiles() *stubProfiles {
	return &stubProfiles{profiles: make(map[uuid.UUID]*profile.Profile)}
}

func (s *stubProfiles) Create(_ context.Context, p *profile.Profile) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}

func (s *stubProfiles) Get(_ context.Context, id uuid.UUID) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}

// stubRouter routes every identity to the configured destination.
type stubRouter struct {
	res *access.Resolution
	err error
}

func (s *stubRouter) Route(context.Context, uuid.UUID, string, string) (*access.Resolution, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []session.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev session.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []session.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]session.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type mockEnqueuer struct {
	mu       sync.Mutex
	requests []notification.Request
}

func (m *mockEnqueuer) Enqueue(_ context.Context, req notification.Request) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return &notification.Notification{ID: uuid.New(), Kind: req.Kind, Recipient: req.Recipient}, nil
}

type fixedTimeout time.Duration

func (f fixedTimeout) SessionTimeout(context.Context) (time.Duration, error) {
	return time.Duration(f), nil
}
