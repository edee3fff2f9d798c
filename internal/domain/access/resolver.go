package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
)

// Resolver decides which dashboard an identity lands on.
type Resolver struct {
	roles  RoleRepository
	logger zerolog.Logger
}

func NewResolver(roles RoleRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{roles: roles, logger: logger.With().Str("component", "role_resolver").Logger()}
}

// Resolve looks up both role sources and picks the first matching
// destination. Lookup errors are logged and recorded on the result; they
// never stop resolution. A patient result has an empty Destination until the
// profile bootstrapper fills it in.
func (r *Resolver) Resolve(ctx context.Context, id uuid.UUID) *Resolution {
	res := &Resolution{}

	admin, err := r.roles.GetAdminRole(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error().Err(err).Str("identity_id", id.String()).Msg("admin role lookup failed")
		res.Err = fmt.Errorf("admin role lookup: %w", err)
	}
	if admin != nil {
		res.AdminRole = admin.Role
	}

	membership, err := r.roles.GetMembership(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error().Err(err).Str("identity_id", id.String()).Msg("nutritionist lookup failed")
		if res.Err == nil {
			res.Err = fmt.Errorf("nutritionist lookup: %w", err)
		}
	}
	res.Nutritionist = membership != nil

	switch {
	case res.AdminRole == auth.RoleAdmin || res.AdminRole == auth.RoleSuperAdmin:
		res.Destination = DestinationAdminDashboard
	case res.AdminRole == auth.RoleNutritionist || res.Nutritionist:
		res.Destination = DestinationNutritionistDashboard
	default:
		res.Destination = destinationPatient
	}
	res.Roles = RolesFor(res.AdminRole, res.Nutritionist)
	res.Path = res.Destination.Path()
	return res
}

// IsNutritionist reports whether id practises as a nutritionist, through an
// admin_users row with that role or a membership. Unlike Resolve, lookup
// failures are returned.
func (r *Resolver) IsNutritionist(ctx context.Context, id uuid.UUID) (bool, error) {
	admin, err := r.roles.GetAdminRole(ctx, id)
	switch {
	case err == nil && admin.Role == auth.RoleNutritionist:
		return true, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("admin role lookup: %w", err)
	}
	if _, err := r.roles.GetMembership(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("nutritionist lookup: %w", err)
	}
	return true, nil
}

// NeedsProfile reports whether the resolution fell through to the patient
// path.
func (res *Resolution) NeedsProfile() bool {
	return res.Destination == destinationPatient
}

// ProfileBootstrapper ensures a patient profile exists and reports whether it
// has been completed.
type ProfileBootstrapper interface {
	Ensure(ctx context.Context, id uuid.UUID, email, displayName string) (completed bool, err error)
}

// Router chains role resolution with profile bootstrapping.
type Router struct {
	resolver *Resolver
	profiles ProfileBootstrapper
}

func NewRouter(resolver *Resolver, profiles ProfileBootstrapper) *Router {
	return &Router{resolver: resolver, profiles: profiles}
}

// Route resolves the identity and, for patients, bootstraps the profile. Only
// a bootstrap failure is returned as an error.
func (rt *Router) Route(ctx context.Context, id uuid.UUID, email, displayName string) (*Resolution, error) {
	res := rt.resolver.Resolve(ctx, id)
	if !res.NeedsProfile() {
		return res, nil
	}

	completed, err := rt.profiles.Ensure(ctx, id, email, displayName)
	if err != nil {
		return res, err
	}
	if completed {
		res.Destination = DestinationProfile
	} else {
		res.Destination = DestinationProfileCustomize
	}
	res.Path = res.Destination.Path()
	return res, nil
}
