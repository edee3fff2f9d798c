package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu       sync.Mutex
	entries  []*Entry
	failures int // remaining Create calls that fail
	calls    int
}

func newMockRepo() *mockRepo {
	return &mockRepo{}
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("connection refused")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Entry
	for _, e := range m.entries {
		if params.Action != "" && e.Action != params.Action {
			continue
		}
		if params.Actor != nil && (e.PerformedBy == nil || *e.PerformedBy != *params.Actor) {
			continue
		}
		result = append(result, e)
	}
	return result, len(result), nil
}

func (m *mockRepo) snapshot() ([]*Entry, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...), m.calls
}
