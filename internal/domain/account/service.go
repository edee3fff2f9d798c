package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/domain/access"
	"github.com/nutri/nutri/internal/domain/profile"
	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/notification"
	"github.com/nutri/nutri/internal/platform/session"
)

const resetTokenTTL = time.Hour

// TxFunc runs fn inside a transaction carried on the context.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Profiles is the part of the profile service the account flows need.
type Profiles interface {
	Create(ctx context.Context, p *profile.Profile) error
	Get(ctx context.Context, id uuid.UUID) (*profile.Profile, error)
}

// Router resolves where an identity lands after signing in.
type Router interface {
	Route(ctx context.Context, id uuid.UUID, email, displayName string) (*access.Resolution, error)
}

// SessionTimeouts supplies the configured session length. Zero means the
// token issuer default.
type SessionTimeouts interface {
	SessionTimeout(ctx context.Context) (time.Duration, error)
}

type Config struct {
	AppBaseURL string
}

// Deps groups the collaborators of Service. Publisher, Notifier, Timeouts and
// Tx are optional.
type Deps struct {
	Identities  IdentityRepository
	ResetTokens ResetTokenRepository
	Profiles    Profiles
	Router      Router
	Tokens      *auth.TokenIssuer
	Publisher   session.Publisher
	Notifier    notification.Enqueuer
	Timeouts    SessionTimeouts
	Tx          TxFunc
}

type Service struct {
	Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if deps.Tx == nil {
		deps.Tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "account").Logger(),
		now:    time.Now,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// CreateIdentity validates the password with policy, hashes it and stores a
// new identity.
func (s *Service) CreateIdentity(ctx context.Context, email, password string, policy func(string) error, metadata map[string]string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := policy(password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	ident := &Identity{Email: email, PasswordHash: hash, Metadata: metadata}
	if err := s.Identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// Register creates an identity and its profile, then signs the user in. The
// profile starts incomplete so the user lands on customization.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*AuthResult, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		return nil, ErrFullNameRequired
	}
	if req.BirthDate != "" {
		if _, err := time.Parse("2006-01-02", req.BirthDate); err != nil {
			return nil, profile.ErrInvalidBirthDate
		}
	}

	var ident *Identity
	err := s.Tx(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.CreateIdentity(ctx, req.Email, req.Password, auth.ValidatePatientPassword,
			map[string]string{"full_name": req.FullName})
		if err != nil {
			return err
		}
		p := profile.NewDefault(ident.ID, ident.Email, req.FullName, s.now())
		if req.BirthDate != "" {
			p.BirthDate = &req.BirthDate
		}
		p.Phone = strings.TrimSpace(req.Phone)
		return s.Profiles.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	roles := access.RolesFor("", false)
	res, err := s.signIn(ctx, ident, roles, session.EventSignedIn)
	if err != nil {
		return nil, err
	}
	res.Destination = access.DestinationProfileCustomize
	res.Path = res.Destination.Path()
	return res, nil
}

// Login verifies credentials, resolves the landing route and issues a token.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResult, error) {
	ident, err := s.Identities.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}
	if !auth.CheckPassword(ident.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	if err := s.checkActive(ctx, ident.ID); err != nil {
		return nil, err
	}

	resolution, err := s.Router.Route(ctx, ident.ID, ident.Email, ident.DisplayName())
	if err != nil {
		return nil, err
	}

	res, err := s.signIn(ctx, ident, resolution.Roles, session.EventSignedIn)
	if err != nil {
		return nil, err
	}
	res.Destination = resolution.Destination
	res.Path = resolution.Path

	if err := s.Identities.TouchSignIn(ctx, ident.ID, s.now()); err != nil {
		s.logger.Warn().Err(err).Str("identity_id", ident.ID.String()).Msg("failed to record sign-in time")
	}
	return res, nil
}

// checkActive rejects deactivated profiles. A missing profile is fine; the
// bootstrapper creates it.
func (s *Service) checkActive(ctx context.Context, id uuid.UUID) error {
	p, err := s.Profiles.Get(ctx, id)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("read profile: %w", err)
	case !p.IsActive:
		return ErrAccountDisabled
	}
	return nil
}

// Refresh re-issues a token for the identity in claims. Roles are resolved
// again so a demotion takes effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, claims *auth.Claims) (*AuthResult, error) {
	id, err := claims.IdentityID()
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	ident, err := s.Identities.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkActive(ctx, id); err != nil {
		return nil, err
	}
	resolution, err := s.Router.Route(ctx, ident.ID, ident.Email, ident.DisplayName())
	if err != nil {
		return nil, err
	}
	res, err := s.signIn(ctx, ident, resolution.Roles, session.EventTokenRefreshed)
	if err != nil {
		return nil, err
	}
	res.Destination = resolution.Destination
	res.Path = resolution.Path
	return res, nil
}

// Logout tells connected session streams the identity signed out.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	id, err := claims.IdentityID()
	if err != nil {
		return auth.ErrInvalidToken
	}
	s.publish(ctx, session.Event{Kind: session.EventSignedOut, IdentityID: id, At: s.now()})
	return nil
}

func (s *Service) signIn(ctx context.Context, ident *Identity, roles []string, kind session.EventKind) (*AuthResult, error) {
	token, expiresAt, err := s.Tokens.Issue(ident.ID, ident.Email, roles, s.sessionTTL(ctx))
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.publish(ctx, session.Event{
		Kind:       kind,
		IdentityID: ident.ID,
		Session:    &session.Session{IdentityID: ident.ID, Email: ident.Email, Roles: roles, ExpiresAt: expiresAt},
		At:         s.now(),
	})
	return &AuthResult{Token: token, ExpiresAt: expiresAt, Identity: ident, Roles: roles}, nil
}

func (s *Service) sessionTTL(ctx context.Context) time.Duration {
	if s.Timeouts == nil {
		return 0
	}
	ttl, err := s.Timeouts.SessionTimeout(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session timeout lookup failed, using default")
		return 0
	}
	return ttl
}

func (s *Service) publish(ctx context.Context, ev session.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Kind)).Msg("session event not delivered")
	}
}

// RequestPasswordReset emails a one-hour reset link when the address belongs
// to an identity. It reports nothing about whether it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) {
	ident, err := s.Identities.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Msg("password reset lookup failed")
		}
		return
	}

	token, hash, err := newResetToken()
	if err != nil {
		s.logger.Error().Err(err).Msg("generate reset token")
		return
	}
	rt := &ResetToken{TokenHash: hash, IdentityID: ident.ID, ExpiresAt: s.now().Add(resetTokenTTL)}
	if err := s.ResetTokens.Create(ctx, rt); err != nil {
		s.logger.Error().Err(err).Str("identity_id", ident.ID.String()).Msg("store reset token")
		return
	}

	if s.Notifier == nil {
		return
	}
	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/update-password?token=" + token
	_, err = s.Notifier.Enqueue(ctx, notification.Request{
		Kind:          notification.KindPasswordReset,
		Recipient:     ident.Email,
		Data:          map[string]string{"reset_link": link},
		ReferenceType: "identity",
		ReferenceID:   &ident.ID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("identity_id", ident.ID.String()).Msg("enqueue password reset email")
	}
}

// ResetPassword redeems a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return ErrInvalidResetToken
	}
	if err := auth.ValidatePatientPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	var identityID uuid.UUID
	err = s.Tx(ctx, func(ctx context.Context) error {
		rt, err := s.ResetTokens.Consume(ctx, hashToken(token), s.now())
		if err != nil {
			return err
		}
		identityID = rt.IdentityID
		return s.Identities.UpdatePassword(ctx, rt.IdentityID, hash)
	})
	if err != nil {
		return err
	}
	// Existing sessions end with the old password.
	s.publish(ctx, session.Event{Kind: session.EventSignedOut, IdentityID: identityID, At: s.now()})
	return nil
}

// SetPassword replaces a password on an administrator's behalf using the
// stricter administrative policy.
func (s *Service) SetPassword(ctx context.Context, id uuid.UUID, password string) error {
	if err := auth.ValidateAdminPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.Identities.UpdatePassword(ctx, id, hash)
}

func newResetToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
