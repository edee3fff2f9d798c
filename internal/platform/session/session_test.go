package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
)

type stubSource struct {
	sess *Session
	err  error
}

func (s stubSource) Current(context.Context) (*Session, error) { return s.sess, s.err }

func newSession(id uuid.UUID) *Session {
	return &Session{IdentityID: id, Email: "ana@example.com", Roles: []string{auth.RolePatient}}
}

func TestContext_LoadAbsentSessionIsValid(t *testing.T) {
	c := New(stubSource{}, zerolog.Nop())
	if s := c.Load(context.Background()); s != nil {
		t.Errorf("expected nil session, got %+v", s)
	}
}

func TestContext_LoadErrorTreatedAsSignedOut(t *testing.T) {
	c := New(stubSource{sess: newSession(uuid.New()), err: errors.New("network")}, zerolog.Nop())
	if s := c.Load(context.Background()); s != nil {
		t.Errorf("expected nil session on source error, got %+v", s)
	}
	if c.Current() != nil {
		t.Error("current must be nil after failed load")
	}
}

func TestContext_NotifiesOnSignInAndOut(t *testing.T) {
	c := New(nil, zerolog.Nop())
	var calls []*Session
	c.Subscribe(func(_, next *Session) { calls = append(calls, next) })

	id := uuid.New()
	if !c.Apply(Event{Kind: EventSignedIn, IdentityID: id, Session: newSession(id)}) {
		t.Error("sign in should report a change")
	}
	if !c.Apply(Event{Kind: EventSignedOut, IdentityID: id}) {
		t.Error("sign out should report a change")
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(calls))
	}
	if calls[0] == nil || calls[0].IdentityID != id {
		t.Errorf("first notification should carry the session, got %+v", calls[0])
	}
	if calls[1] != nil {
		t.Errorf("sign out should notify with nil, got %+v", calls[1])
	}
}

func TestContext_TokenRefreshDoesNotNotify(t *testing.T) {
	c := New(nil, zerolog.Nop())
	id := uuid.New()
	c.Apply(Event{Kind: EventSignedIn, IdentityID: id, Session: newSession(id)})

	notified := 0
	c.Subscribe(func(_, _ *Session) { notified++ })

	refreshed := newSession(id)
	refreshed.TokenID = "new-token"
	refreshed.ExpiresAt = time.Now().Add(time.Hour)
	if c.Apply(Event{Kind: EventTokenRefreshed, IdentityID: id, Session: refreshed}) {
		t.Error("token refresh must not report an identity change")
	}
	if c.Apply(Event{Kind: EventUserUpdated, IdentityID: id, Session: newSession(id)}) {
		t.Error("user update must not report an identity change")
	}

	if notified != 0 {
		t.Errorf("expected no notifications, got %d", notified)
	}
	c.Apply(Event{Kind: EventTokenRefreshed, IdentityID: id, Session: refreshed})
	if got := c.Current(); got.TokenID != "new-token" {
		t.Errorf("stored session should still be replaced, got %+v", got)
	}
}

func TestContext_IdentitySwitchNotifies(t *testing.T) {
	c := New(nil, zerolog.Nop())
	a, b := uuid.New(), uuid.New()
	c.Apply(Event{Kind: EventSignedIn, IdentityID: a, Session: newSession(a)})

	var prevID, nextID uuid.UUID
	c.Subscribe(func(prev, next *Session) {
		prevID, nextID = prev.IdentityID, next.IdentityID
	})
	c.Apply(Event{Kind: EventSignedIn, IdentityID: b, Session: newSession(b)})

	if prevID != a || nextID != b {
		t.Errorf("expected %s -> %s, got %s -> %s", a, b, prevID, nextID)
	}
}

func TestSubscription_UnsubscribeIdempotent(t *testing.T) {
	c := New(nil, zerolog.Nop())
	notified := 0
	sub := c.Subscribe(func(_, _ *Session) { notified++ })
	other := c.Subscribe(func(_, _ *Session) {})

	sub.Unsubscribe()
	sub.Unsubscribe()

	if c.ListenerCount() != 1 {
		t.Fatalf("expected only the other listener to remain, got %d", c.ListenerCount())
	}
	id := uuid.New()
	c.Apply(Event{Kind: EventSignedIn, IdentityID: id, Session: newSession(id)})
	if notified != 0 {
		t.Error("unsubscribed listener must not run")
	}
	other.Unsubscribe()
}

func TestSameIdentity(t *testing.T) {
	id := uuid.New()
	if !SameIdentity(nil, nil) {
		t.Error("nil and nil are the same")
	}
	if SameIdentity(nil, newSession(id)) || SameIdentity(newSession(id), nil) {
		t.Error("nil and a session differ")
	}
	if !SameIdentity(newSession(id), newSession(id)) {
		t.Error("same id should match")
	}
}

func TestFromClaims(t *testing.T) {
	if FromClaims(nil) != nil {
		t.Error("nil claims should give nil session")
	}
	id := uuid.New()
	claims := &auth.Claims{Email: "ana@example.com", Roles: []string{auth.RolePatient}}
	claims.Subject = id.String()
	claims.ID = "jti-1"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))

	s := FromClaims(claims)
	if s.IdentityID != id || s.TokenID != "jti-1" || s.ExpiresAt.IsZero() {
		t.Errorf("unexpected session %+v", s)
	}
}
