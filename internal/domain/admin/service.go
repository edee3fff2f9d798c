package admin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/domain/access"
	"github.com/nutri/nutri/internal/domain/account"
	"github.com/nutri/nutri/internal/domain/audit"
	"github.com/nutri/nutri/internal/domain/profile"
	"github.com/nutri/nutri/internal/platform/auth"
)

// Accounts is the part of the account service the console drives.
type Accounts interface {
	CreateIdentity(ctx context.Context, email, password string, policy func(string) error, metadata map[string]string) (*account.Identity, error)
	SetPassword(ctx context.Context, id uuid.UUID, password string) error
}

// Profiles toggles activation and creates the profile of a new admin.
type Profiles interface {
	Create(ctx context.Context, p *profile.Profile) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type Deps struct {
	Users    UserRepository
	Settings SettingsRepository
	Roles    access.RoleRepository
	Accounts Accounts
	Profiles Profiles
	Audit    audit.Recorder
	Tx       account.TxFunc
}

type Service struct {
	Deps
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(deps Deps, logger zerolog.Logger) *Service {
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Tx == nil {
		deps.Tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		Deps:   deps,
		logger: logger.With().Str("component", "admin").Logger(),
		now:    time.Now,
	}
}

func isSuperAdmin(roles []string) bool {
	return slices.Contains(roles, auth.RoleSuperAdmin)
}

// -- Users --

func (s *Service) ListUsers(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error) {
	return s.Users.List(ctx, filter, limit, offset)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.Users.GetByID(ctx, id)
}

// target loads a user the actor may modify. Super admins can only be changed
// by another super admin, and nobody changes their own status or role.
func (s *Service) target(ctx context.Context, actor auth.Actor, id uuid.UUID) (*User, error) {
	if id == actor.ID {
		return nil, ErrSelfChange
	}
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == auth.RoleSuperAdmin && !isSuperAdmin(actor.Roles) {
		return nil, ErrForbidden
	}
	return u, nil
}

// SetUserStatus activates or deactivates a user. Deactivated users cannot
// sign in.
func (s *Service) SetUserStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, active bool) (*User, error) {
	u, err := s.target(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.Profiles.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.IsActive = active

	action, verb := audit.ActionUserDeactivated, "deactivated"
	if active {
		action, verb = audit.ActionUserActivated, "activated"
	}
	s.Audit.Record(ctx, action, fmt.Sprintf("User %s %s", id, verb), actor.ID)
	return u, nil
}

// ChangeRole sets the staff role of a user. Demoting to patient removes both
// the admin_users row and any nutritionists membership in one transaction.
func (s *Service) ChangeRole(ctx context.Context, actor auth.Actor, id uuid.UUID, role string) (*User, error) {
	switch role {
	case auth.RolePatient, auth.RoleNutritionist, auth.RoleAdmin:
	default:
		return nil, ErrInvalidRole
	}
	u, err := s.target(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if role == auth.RolePatient {
		err = s.Tx(ctx, func(ctx context.Context) error {
			if err := s.Roles.DeleteAdminRole(ctx, id); err != nil {
				return err
			}
			return s.Roles.DeleteMembership(ctx, id)
		})
	} else {
		err = s.Roles.UpsertAdminRole(ctx, &access.AdminRole{
			ID:          id,
			Role:        role,
			Permissions: access.PermissionsFor(role),
		})
	}
	if err != nil {
		return nil, err
	}
	u.Role = role

	s.Audit.Record(ctx, audit.ActionRoleChange, fmt.Sprintf("Role changed to %s for user %s", role, id), actor.ID)
	return u, nil
}

// ResetPassword sets a new password for a user under the admin policy.
func (s *Service) ResetPassword(ctx context.Context, actor auth.Actor, id uuid.UUID, password string) error {
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == auth.RoleSuperAdmin && id != actor.ID && !isSuperAdmin(actor.Roles) {
		return ErrForbidden
	}
	if err := s.Accounts.SetPassword(ctx, id, password); err != nil {
		return err
	}
	s.Audit.Record(ctx, audit.ActionPasswordReset, fmt.Sprintf("Password reset for user %s", id), actor.ID)
	return nil
}

// CreateAdmin creates an identity, its completed profile and an admin_users
// row with every permission. role is admin, or super_admin for the bootstrap
// command. A uuid.Nil actor records the entry as performed by the system.
func (s *Service) CreateAdmin(ctx context.Context, actor uuid.UUID, req *CreateAdminRequest, role string) (*User, error) {
	if role != auth.RoleAdmin && role != auth.RoleSuperAdmin {
		return nil, ErrInvalidRole
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := auth.ValidateAdminUsername(req.Username); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		name = req.Username
	}

	var ident *account.Identity
	err := s.Tx(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.Accounts.CreateIdentity(ctx, req.Email, req.Password, auth.ValidateAdminPassword,
			map[string]string{"full_name": name})
		if err != nil {
			return err
		}
		p := profile.NewDefault(ident.ID, ident.Email, name, s.now())
		p.IsProfileCompleted = true
		if err := s.Profiles.Create(ctx, p); err != nil {
			return err
		}
		username := req.Username
		return s.Roles.UpsertAdminRole(ctx, &access.AdminRole{
			ID:          ident.ID,
			Role:        role,
			Username:    &username,
			Permissions: access.PermissionsFor(role),
		})
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, audit.ActionAdminCreated,
		fmt.Sprintf("Admin %s created with role %s", req.Username, role), actor)
	username := req.Username
	return &User{
		ID:        ident.ID,
		Email:     ident.Email,
		FullName:  name,
		Username:  &username,
		Role:      role,
		IsActive:  true,
		CreatedAt: s.now(),
	}, nil
}

// -- Security settings --

func (s *Service) GetSettings(ctx context.Context) (*SecuritySettings, error) {
	return s.Settings.Get(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, actor auth.Actor, req *SecuritySettings) (*SecuritySettings, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := actor.ID
	req.UpdatedBy = &id
	if err := s.Settings.Update(ctx, req); err != nil {
		return nil, err
	}
	s.Audit.Record(ctx, audit.ActionSecuritySettingsUpdated,
		fmt.Sprintf("Security settings updated: session timeout %d minutes, %d allowed IPs",
			req.SessionTimeoutMinutes, len(req.AllowedIPs)), actor.ID)
	return req, nil
}

// SessionTimeout is the token lifetime chosen in the security settings.
func (s *Service) SessionTimeout(ctx context.Context) (time.Duration, error) {
	return TimeoutSource{Settings: s.Settings}.SessionTimeout(ctx)
}

// TimeoutSource reads the session timeout from the settings row. It lets the
// account service be built before the admin console that depends on it.
type TimeoutSource struct {
	Settings SettingsRepository
}

func (t TimeoutSource) SessionTimeout(ctx context.Context) (time.Duration, error) {
	st, err := t.Settings.Get(ctx)
	if err != nil {
		return 0, err
	}
	return st.SessionTimeout(), nil
}
