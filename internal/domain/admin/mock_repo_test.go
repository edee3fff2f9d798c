package admin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/domain/access"
	"github.com/nutri/nutri/internal/domain/account"
	"github.com/nutri/nutri/internal/domain/profile"
)

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func (m *mockUserRepo) add(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
	return u
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) List(_ context.Context, filter UserFilter, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*User{}
	for _, u := range m.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Active != nil && u.IsActive != *filter.Active {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type mockSettingsRepo struct {
	current SecuritySettings
	err     error
}

func (m *mockSettingsRepo) Get(context.Context) (*SecuritySettings, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := m.current
	return &cp, nil
}

func (m *mockSettingsRepo) Update(_ context.Context, s *SecuritySettings) error {
	s.UpdatedAt = time.Now()
	m.current = *s
	return nil
}

type mockRoleRepo struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*access.AdminRole
	memberships map[uuid.UUID]*access.Membership
	usernames   map[string]uuid.UUID
	deleteErr   error
}

func newMockRoleRepo() *mockRoleRepo {
	return &mockRoleRepo{
		rows:        make(map[uuid.UUID]*access.AdminRole),
		memberships: make(map[uuid.UUID]*access.Membership),
		usernames:   make(map[string]uuid.UUID),
	}
}

func (m *mockRoleRepo) GetAdminRole(_ context.Context, id uuid.UUID) (*access.AdminRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRoleRepo) GetMembership(_ context.Context, id uuid.UUID) (*access.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.memberships[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *mb
	return &cp, nil
}

func (m *mockRoleRepo) DeleteMembership(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.memberships, id)
	return nil
}

func (m *mockRoleRepo) UpsertAdminRole(_ context.Context, r *access.AdminRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Username != nil {
		if owner, ok := m.usernames[*r.Username]; ok && owner != r.ID {
			return access.ErrUsernameTaken
		}
		m.usernames[*r.Username] = r.ID
	}
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *mockRoleRepo) DeleteAdminRole(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type mockAccounts struct {
	emails    map[string]bool
	passwords map[uuid.UUID]string
	setErr    error
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{emails: make(map[string]bool), passwords: make(map[uuid.UUID]string)}
}

func (m *mockAccounts) CreateIdentity(_ context.Context, email, password string, policy func(string) error, metadata map[string]string) (*account.Identity, error) {
	if err := policy(password); err != nil {
		return nil, err
	}
	if m.emails[email] {
		return nil, account.ErrEmailTaken
	}
	m.emails[email] = true
	return &account.Identity{ID: uuid.New(), Email: email, Metadata: metadata}, nil
}

func (m *mockAccounts) SetPassword(_ context.Context, id uuid.UUID, password string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.passwords[id] = password
	return nil
}

type mockProfiles struct {
	created map[uuid.UUID]*profile.Profile
	active  map[uuid.UUID]bool
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{created: make(map[uuid.UUID]*profile.Profile), active: make(map[uuid.UUID]bool)}
}

func (m *mockProfiles) Create(_ context.Context, p *profile.Profile) error {
	m.created[p.ID] = p
	return nil
}

func (m *mockProfiles) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.active[id] = active
	return nil
}

type auditCall struct {
	action, details string
	actor           uuid.UUID
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (r *recordingAudit) Record(_ context.Context, action, details string, actor uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, auditCall{action, details, actor})
}

func (r *recordingAudit) last() auditCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return auditCall{}
	}
	return r.calls[len(r.calls)-1]
}
