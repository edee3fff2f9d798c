package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nutri/nutri/internal/platform/auth"
)

func registeredClient(t *testing.T, hub *Hub, id uuid.UUID) *Client {
	t.Helper()
	sess := New(nil, zerolog.Nop())
	sess.Apply(Event{Kind: EventSignedIn, IdentityID: id, Session: newSession(id)})
	client := NewClient(TopicFor(id), sess, 4)
	hub.Register(client)
	return client
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	client := registeredClient(t, hub, id)

	if hub.ClientCount() != 1 || hub.TopicCount(TopicFor(id)) != 1 {
		t.Fatalf("expected one registered client")
	}

	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Error("Send should be closed")
	}
	if client.Session.ListenerCount() != 0 {
		t.Error("listener should be removed on unregister")
	}
}

func TestHub_SignOutSendsFrame(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	client := registeredClient(t, hub, id)

	_ = hub.Publish(context.Background(), Event{Kind: EventSignedOut, IdentityID: id})

	select {
	case data := <-client.Send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatal(err)
		}
		if f.Event != EventSignedOut || f.Session != nil {
			t.Errorf("unexpected frame %+v", f)
		}
	default:
		t.Fatal("expected a frame after sign out")
	}
}

func TestHub_TokenRefreshSendsNothing(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	client := registeredClient(t, hub, id)

	_ = hub.Publish(context.Background(), Event{Kind: EventTokenRefreshed, IdentityID: id, Session: newSession(id)})

	select {
	case data := <-client.Send:
		t.Fatalf("token refresh must not produce a frame, got %s", data)
	default:
	}
}

func TestHub_OtherIdentityUnaffected(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := registeredClient(t, hub, uuid.New())

	_ = hub.Publish(context.Background(), Event{Kind: EventSignedOut, IdentityID: uuid.New()})
	if len(client.Send) != 0 {
		t.Error("events for another identity must not reach this client")
	}
}

func TestHub_FullBufferDropsFrames(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	client := registeredClient(t, hub, id)

	for i := 0; i < 10; i++ {
		_ = hub.Publish(context.Background(), Event{Kind: EventSignedOut, IdentityID: id})
		_ = hub.Publish(context.Background(), Event{Kind: EventSignedIn, IdentityID: id, Session: newSession(id)})
	}
	if len(client.Send) != cap(client.Send) {
		t.Errorf("expected buffer to be full, got %d/%d", len(client.Send), cap(client.Send))
	}
}

func newTestIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer([]byte("test-secret-key-for-unit-tests-only"), "nutri-test", time.Hour)
}

func TestHandler_GetAnonymous(t *testing.T) {
	e := echo.New()
	h := NewHandler(NewHub(zerolog.Nop()), newTestIssuer(), nil, zerolog.Nop())
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"session":null}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetSignedIn(t *testing.T) {
	issuer := newTestIssuer()
	id := uuid.New()
	token, _, _ := issuer.Issue(id, "ana@example.com", []string{auth.RolePatient}, 0)

	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), issuer, nil, zerolog.Nop()).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body struct {
		Session *Session `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Session == nil || body.Session.IdentityID != id {
		t.Errorf("unexpected session %+v", body.Session)
	}
}

func TestHandler_StreamRequiresToken(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), newTestIssuer(), nil, zerolog.Nop()).RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session/stream", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_StreamDeliversSignOut(t *testing.T) {
	issuer := newTestIssuer()
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	token, _, _ := issuer.Issue(id, "ana@example.com", []string{auth.RolePatient}, 0)

	e := echo.New()
	NewHandler(hub, issuer, nil, zerolog.Nop()).RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/session/stream?access_token=" + token
	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(TopicFor(id)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = hub.Publish(context.Background(), Event{Kind: EventSignedOut, IdentityID: id})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventSignedOut {
		t.Errorf("expected SIGNED_OUT frame, got %+v", f)
	}
}
