// Package notification implements the outbound notification outbox: rows are
// enqueued by domain services, then delivered asynchronously by the Dispatcher
// over email, push or SMS with retries.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("notification not found")
	ErrNotRetryable    = errors.New("only failed notifications can be retried")
	ErrUnknownTemplate = errors.New("unknown notification template")
	ErrNoRecipient     = errors.New("notification recipient is required")
)

// Channel is the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// Kind identifies why a notification was sent and selects its template.
type Kind string

const (
	KindNewMealPlan             Kind = "new_meal_plan"
	KindAppointmentConfirmation Kind = "appointment_confirmation"
	KindAppointmentReminder     Kind = "appointment_reminder"
	KindAppointmentCancellation Kind = "appointment_cancellation"
	KindPasswordReset           Kind = "password_reset"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusPending: true,
	StatusSent:    true,
	StatusFailed:  true,
}

// ParseStatus validates a status query value.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, validStatuses[st]
}

// Notification is one outbox row.
type Notification struct {
	ID            uuid.UUID  `json:"id"`
	Kind          Kind       `json:"kind"`
	Channel       Channel    `json:"channel"`
	Recipient     string     `json:"recipient"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	ReferenceType string     `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
	SendAfter     time.Time  `json:"send_after"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}

// GroupAllPatients addresses every patient. Other recipient groups are
// identity ids.
const GroupAllPatients = "all_patients"

// Request asks for a templated notification. A zero SendAfter means now.
type Request struct {
	Kind          Kind
	Recipient     string
	Data          map[string]string
	SendAfter     time.Time
	ReferenceType string
	ReferenceID   *uuid.UUID
}

// Enqueuer is what domain services depend on to schedule a notification.
type Enqueuer interface {
	Enqueue(ctx context.Context, req Request) (*Notification, error)
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender delivers a plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// PushSender publishes a push message to every device subscribed to group.
type PushSender interface {
	Publish(ctx context.Context, group, title, body string) error
}

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template is the subject/body pair rendered for a Kind.
type Template struct {
	Kind    Kind    `json:"kind"`
	Channel Channel `json:"channel"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Kind]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Kind:    KindNewMealPlan,
			Channel: ChannelPush,
			Subject: "New meal plan available",
			Body:    `A new meal plan "{{title}}" was published.`,
		},
		{
			Kind:    KindAppointmentConfirmation,
			Channel: ChannelEmail,
			Subject: "Appointment booked for {{date}}",
			Body:    "Hello {{patient_name}}, your {{type}} appointment is booked for {{date}} from {{start_time}} to {{end_time}} ({{modality}}).",
		},
		{
			Kind:    KindAppointmentReminder,
			Channel: ChannelEmail,
			Subject: "Reminder: appointment on {{date}} at {{start_time}}",
			Body:    "Hello {{patient_name}}, this is a reminder of your {{type}} appointment on {{date}} at {{start_time}} ({{modality}}).",
		},
		{
			Kind:    KindAppointmentCancellation,
			Channel: ChannelEmail,
			Subject: "Appointment on {{date}} cancelled",
			Body:    "Hello {{patient_name}}, your appointment on {{date}} at {{start_time}} has been cancelled.",
		},
		{
			Kind:    KindPasswordReset,
			Channel: ChannelEmail,
			Subject: "Password reset request",
			Body:    "You requested a password reset. Open the following link within one hour to choose a new password: {{reset_link}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces the template for t.Kind.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Build renders the template for kind into a pending notification addressed
// to recipient. sendAfter zero means now.
func (e *TemplateEngine) Build(kind Kind, recipient string, data map[string]string, sendAfter time.Time) (*Notification, error) {
	if recipient == "" {
		return nil, ErrNoRecipient
	}
	subject, body, err := e.Render(kind, data)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	channel := e.templates[kind].Channel
	e.mu.RUnlock()

	return &Notification{
		Kind:      kind,
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		SendAfter: sendAfter,
		Status:    StatusPending,
	}, nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records calls and returns Err when set.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Err   error
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return m.Err
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// PushCall records a single call to Publish.
type PushCall struct {
	Group string
	Title string
	Body  string
}

// MockPushSender records calls and returns Err when set.
type MockPushSender struct {
	mu    sync.Mutex
	calls []PushCall
	Err   error
}

func (m *MockPushSender) Publish(_ context.Context, group, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PushCall{Group: group, Title: title, Body: body})
	return m.Err
}

func (m *MockPushSender) Calls() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records calls and returns Err when set.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Err   error
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return m.Err
}

func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
