package mealplan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutri/nutri/internal/platform/notification"
)

type mockRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*MealPlan
	updates int
	// beforeUpdate runs once ahead of the next Update, after the caller's read.
	beforeUpdate func()
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*MealPlan)}
}

func clonePlan(p *MealPlan) *MealPlan {
	cp := *p
	cp.Meals = append([]Meal(nil), p.Meals...)
	cp.SelectedGroups = append([]string(nil), p.SelectedGroups...)
	return &cp
}

func (m *mockRepo) Create(_ context.Context, p *MealPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = clonePlan(p)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlan(p), nil
}

func (m *mockRepo) Update(_ context.Context, p *MealPlan, from Status) error {
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrStatusChanged
	}
	m.updates++
	p.UpdatedAt = time.Now()
	m.items[p.ID] = clonePlan(p)
	return nil
}

func (m *mockRepo) MarkViewed(_ context.Context, id uuid.UUID) (*MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ViewedAt == nil {
		now := time.Now()
		p.ViewedAt = &now
	}
	return clonePlan(p), nil
}

func page(items []*MealPlan, limit, offset int) []*MealPlan {
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if offset >= len(items) {
		return []*MealPlan{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *mockRepo) List(_ context.Context, params ListParams, limit, offset int) ([]*MealPlan, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MealPlan
	for _, p := range m.items {
		if params.NutritionistID != nil && p.NutritionistID != *params.NutritionistID {
			continue
		}
		if params.Status != "" && p.Status != params.Status {
			continue
		}
		out = append(out, clonePlan(p))
	}
	return page(out, limit, offset), len(out), nil
}

func (m *mockRepo) ListPublishedFor(_ context.Context, patientID uuid.UUID, groups []string, limit, offset int) ([]*MealPlan, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := make(map[string]bool)
	for _, g := range groups {
		in[g] = true
	}
	var out []*MealPlan
	for _, p := range m.items {
		if p.Status != StatusPublished {
			continue
		}
		match := p.PatientID != nil && *p.PatientID == patientID
		for _, g := range p.SelectedGroups {
			match = match || in[g]
		}
		if match {
			out = append(out, clonePlan(p))
		}
	}
	return page(out, limit, offset), len(out), nil
}

type mockEnqueuer struct {
	mu       sync.Mutex
	requests []notification.Request
	err      error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, req notification.Request) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &notification.Notification{ID: uuid.New(), Kind: req.Kind, Recipient: req.Recipient}, nil
}

func (m *mockEnqueuer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Recipient
	}
	return out
}

var errBoom = errors.New("boom")
