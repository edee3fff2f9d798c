package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
)

// Frame is what a stream client receives when its session identity changes.
type Frame struct {
	Event     EventKind `json:"event"`
	Session   *Session  `json:"session"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one stream connection with its own session Context.
type Client struct {
	ID      string
	Topic   string
	Send    chan []byte
	Session *Context
	sub     *Subscription
	last    EventKind
	mu      sync.Mutex
}

// NewClient wires a Context listener that queues a frame per identity change.
// Frames are dropped when the buffer is full.
func NewClient(topic string, sess *Context, buffer int) *Client {
	c := &Client{
		ID:      uuid.NewString(),
		Topic:   topic,
		Send:    make(chan []byte, buffer),
		Session: sess,
	}
	c.sub = sess.Subscribe(func(_, next *Session) {
		c.mu.Lock()
		kind := c.last
		c.mu.Unlock()
		data, err := json.Marshal(Frame{Event: kind, Session: next, Timestamp: time.Now().UTC()})
		if err != nil {
			return
		}
		select {
		case c.Send <- data:
		default:
		}
	})
	return c
}

func (c *Client) apply(ev Event) {
	c.mu.Lock()
	c.last = ev.Kind
	c.mu.Unlock()
	c.Session.Apply(ev)
}

// Hub tracks stream clients by identity topic. All operations are thread-safe
// via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "session-hub").Logger(),
	}
}

// TopicFor returns the hub topic of an identity.
func TopicFor(id uuid.UUID) string {
	return "identity:" + id.String()
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.Topic] == nil {
		h.clients[client.Topic] = make(map[*Client]struct{})
	}
	h.clients[client.Topic][client] = struct{}{}
}

// Unregister removes the client, drops its listener and closes Send. Calling
// it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, client.Topic)
	}
	client.sub.Unsubscribe()
	close(client.Send)
}

// Publish applies ev to every client of the event's identity.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[TopicFor(ev.IdentityID)] {
		client.apply(ev)
	}
	h.logger.Debug().Str("event", string(ev.Kind)).Str("identity_id", ev.IdentityID.String()).Msg("session event")
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// HTTP handlers
// ---------------------------------------------------------------------------

type Handler struct {
	hub      *Hub
	issuer   *auth.TokenIssuer
	logger   zerolog.Logger
	upgrader gorillawebsocket.Upgrader
}

// NewHandler allows websocket upgrades from allowedOrigins. An empty list
// allows any origin.
func NewHandler(hub *Hub, issuer *auth.TokenIssuer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:    hub,
		issuer: issuer,
		logger: logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

// RegisterRoutes mounts the session endpoints. Both verify tokens themselves:
// GET /session accepts anonymous callers and the stream accepts
// ?access_token= because browsers cannot set headers on websockets.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/session", h.Get, auth.JWTMiddleware(auth.JWTConfig{Issuer: h.issuer, Optional: true}))
	api.GET("/session/stream", h.Stream, auth.JWTMiddleware(auth.JWTConfig{Issuer: h.issuer, AllowQueryToken: true}))
}

func (h *Handler) Get(c echo.Context) error {
	sess := New(ClaimsSource{}, h.logger)
	return c.JSON(http.StatusOK, map[string]*Session{"session": sess.Load(c.Request().Context())})
}

func (h *Handler) Stream(c echo.Context) error {
	sess := New(ClaimsSource{}, h.logger)
	current := sess.Load(c.Request().Context())
	if current == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(TopicFor(current.IdentityID), sess, 16)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump only watches for the peer closing the connection.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
