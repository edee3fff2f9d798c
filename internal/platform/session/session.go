// Package session tracks who is signed in. A Context holds one consumer's view
// of the session and tells its listeners when the signed-in identity changes.
// The Hub fans server-side auth events out to websocket clients, each of which
// owns its own Context.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
)

// EventKind is an auth state change.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Session is an authenticated identity and its roles.
type Session struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Email      string    `json:"email"`
	Roles      []string  `json:"roles"`
	ExpiresAt  time.Time `json:"expires_at"`
	// TokenID identifies the access token backing the session.
	TokenID string `json:"-"`
}

// FromClaims builds a Session from verified token claims. Nil claims yield a
// nil session.
func FromClaims(claims *auth.Claims) *Session {
	if claims == nil {
		return nil
	}
	id, err := claims.IdentityID()
	if err != nil {
		return nil
	}
	s := &Session{IdentityID: id, Email: claims.Email, Roles: claims.Roles, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

// Event is one auth state change. Session is nil for EventSignedOut.
type Event struct {
	Kind       EventKind `json:"event"`
	IdentityID uuid.UUID `json:"identity_id"`
	Session    *Session  `json:"session"`
	At         time.Time `json:"at"`
}

// Publisher delivers auth events to interested session contexts.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Source reports the current session. A nil session with a nil error means
// nobody is signed in.
type Source interface {
	Current(ctx context.Context) (*Session, error)
}

// ClaimsSource reads the session from verified claims on the request context.
type ClaimsSource struct{}

func (ClaimsSource) Current(ctx context.Context) (*Session, error) {
	return FromClaims(auth.ClaimsFromContext(ctx)), nil
}

// Listener is called with the previous and new session when the identity
// changes.
type Listener func(prev, next *Session)

// Context is one consumer's session state. It is safe for concurrent use.
type Context struct {
	mu        sync.RWMutex
	current   *Session
	listeners map[uint64]Listener
	nextID    uint64
	source    Source
	logger    zerolog.Logger
}

func New(source Source, logger zerolog.Logger) *Context {
	return &Context{
		listeners: make(map[uint64]Listener),
		source:    source,
		logger:    logger,
	}
}

// Load reads the session from the source. Source errors are logged and
// treated as signed out.
func (c *Context) Load(ctx context.Context) *Session {
	var next *Session
	if c.source != nil {
		s, err := c.source.Current(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("session load failed, continuing signed out")
		} else {
			next = s
		}
	}
	c.set(next)
	return next
}

// Current returns the session held by the context, or nil.
func (c *Context) Current() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Apply replaces the session state for ev and reports whether the identity
// changed. Listeners only run on identity changes, so refreshing the token of
// the same identity is silent.
func (c *Context) Apply(ev Event) bool {
	var next *Session
	if ev.Kind != EventSignedOut {
		next = ev.Session
	}
	return c.set(next)
}

func (c *Context) set(next *Session) bool {
	c.mu.Lock()
	prev := c.current
	c.current = next
	changed := !SameIdentity(prev, next)
	var listeners []Listener
	if changed {
		listeners = make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			listeners = append(listeners, l)
		}
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
	return changed
}

// SameIdentity reports whether a and b belong to the same identity. Two nil
// sessions are the same.
func SameIdentity(a, b *Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.IdentityID == b.IdentityID
}

// Subscription removes its listener on Unsubscribe.
type Subscription struct {
	ctx  *Context
	id   uint64
	once sync.Once
}

// Subscribe registers l for identity changes.
func (c *Context) Subscribe(l Listener) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = l
	return &Subscription{ctx: c, id: c.nextID}
}

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.ctx.mu.Lock()
		delete(s.ctx.listeners, s.id)
		s.ctx.mu.Unlock()
	})
}

// ListenerCount reports the number of active listeners.
func (c *Context) ListenerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}
