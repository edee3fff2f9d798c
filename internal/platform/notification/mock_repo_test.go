package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Notification
	now   func() time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Notification), now: time.Now}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	if n.SendAfter.IsZero() {
		n.SendAfter = m.now()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	n.CreatedAt = m.now()
	cp := *n
	m.store[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) ClaimDue(_ context.Context, limit int, lease time.Duration) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var due []*Notification
	for _, n := range m.store {
		if n.Status == StatusPending && !n.SendAfter.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAfter.Before(due[j].SendAfter) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*Notification, 0, len(due))
	for _, n := range due {
		n.SendAfter = now.Add(lease)
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.store[id]
	now := m.now()
	n.Status = StatusSent
	n.Attempts++
	n.SentAt = &now
	return nil
}

func (m *mockRepo) MarkAttemptFailed(_ context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.store[id]
	n.Attempts++
	n.LastError = lastErr
	if retryAt.IsZero() {
		n.Status = StatusFailed
	} else {
		n.SendAfter = retryAt
	}
	return nil
}

func (m *mockRepo) ResetFailed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	if n.Status != StatusFailed {
		return ErrNotRetryable
	}
	n.Status = StatusPending
	n.Attempts = 0
	n.LastError = ""
	n.SendAfter = m.now()
	return nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Notification, int, error) {
	return m.filter(func(n *Notification) bool { return n.Status == status }, limit, offset)
}

func (m *mockRepo) ListByRecipients(_ context.Context, recipients []string, limit, offset int) ([]*Notification, int, error) {
	set := map[string]bool{}
	for _, r := range recipients {
		set[r] = true
	}
	return m.filter(func(n *Notification) bool { return set[n.Recipient] }, limit, offset)
}

func (m *mockRepo) filter(keep func(*Notification) bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Notification
	for _, n := range m.store {
		if keep(n) {
			cp := *n
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) get(id uuid.UUID) *Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.store[id]
	return &cp
}
