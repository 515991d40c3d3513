package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mandi-alerts/internal/rules"
)

// Memory is an in-process implementation of all store contracts. A single
// mutex guards every map; the workload is small enough that finer locking
// buys nothing.
type Memory struct {
	mu       sync.Mutex
	rules    map[string]rules.Rule
	prefs    map[string]rules.NotificationPreference
	firings  []rules.FiredEvent
	attempts map[string][]rules.DeliveryAttempt
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:    make(map[string]rules.Rule),
		prefs:    make(map[string]rules.NotificationPreference),
		attempts: make(map[string][]rules.DeliveryAttempt),
	}
}

// Create validates the rule and persists it with generated id and defaults.
func (m *Memory) Create(_ context.Context, r rules.Rule) (rules.Rule, error) {
	if err := rules.Validate(r); err != nil {
		return rules.Rule{}, err
	}

	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Active = true
	r.FiredCount = 0
	r.LastFiredAt = nil
	r.CreatedAt = now
	r.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return r, nil
}

// Get returns the rule by id.
func (m *Memory) Get(_ context.Context, id string) (rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return rules.Rule{}, ErrNotFound
	}
	return r, nil
}

// FindActiveBySubject returns active rules for the subject.
func (m *Memory) FindActiveBySubject(_ context.Context, kind rules.SubjectKind, key string) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []rules.Rule
	for _, r := range m.rules {
		if r.Active && r.SubjectKind == kind && r.SubjectKey == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListByOwner returns the owner's rules ordered by creation time.
func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []rules.Rule
	for _, r := range m.rules {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update applies the patch and re-validates the result.
func (m *Memory) Update(_ context.Context, id string, patch rules.RulePatch) (rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return rules.Rule{}, ErrNotFound
	}

	if patch.SubjectKey != nil {
		r.SubjectKey = *patch.SubjectKey
	}
	if patch.Operator != nil {
		r.Condition.Operator = *patch.Operator
	}
	if patch.Threshold != nil {
		r.Condition.Threshold = *patch.Threshold
	}
	if patch.Active != nil {
		r.Active = *patch.Active
	}
	if patch.Cooldown != nil {
		r.Cooldown = *patch.Cooldown
	}

	if err := rules.Validate(r); err != nil {
		return rules.Rule{}, err
	}

	r.UpdatedAt = time.Now().UTC()
	m.rules[id] = r
	return r, nil
}

// Delete removes the rule; unknown ids are a no-op.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	return nil
}

// RecordFiring stamps the rule's last firing and bumps its counter.
func (m *Memory) RecordFiring(_ context.Context, id string, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	fired := firedAt.UTC()
	r.LastFiredAt = &fired
	r.FiredCount++
	r.UpdatedAt = fired
	m.rules[id] = r
	return nil
}

// PutPreference stores the owner's channel configuration.
func (m *Memory) PutPreference(_ context.Context, pref rules.NotificationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[pref.OwnerID] = pref
	return nil
}

// GetPreference returns the owner's channel configuration.
func (m *Memory) GetPreference(_ context.Context, ownerID string) (rules.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pref, ok := m.prefs[ownerID]
	if !ok {
		return rules.NotificationPreference{}, ErrNotFound
	}
	return pref, nil
}

// InsertFiring appends to the firing audit log.
func (m *Memory) InsertFiring(_ context.Context, ev rules.FiredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firings = append(m.firings, ev)
	return nil
}

// ListRecentFirings returns up to limit firings, most recent first.
func (m *Memory) ListRecentFirings(_ context.Context, limit int) ([]rules.FiredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]rules.FiredEvent, len(m.firings))
	copy(out, m.firings)
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListFiringsBetween returns firings within [from, to) in chronological order.
func (m *Memory) ListFiringsBetween(_ context.Context, from, to time.Time) ([]rules.FiredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []rules.FiredEvent
	for _, ev := range m.firings {
		if !ev.FiredAt.Before(from) && ev.FiredAt.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	return out, nil
}

// RecordAttempts stores final delivery attempts for an event.
func (m *Memory) RecordAttempts(_ context.Context, attempts []rules.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, at := range attempts {
		m.attempts[at.EventID] = append(m.attempts[at.EventID], at)
	}
	return nil
}

// ListAttemptsByEvent returns delivery attempts recorded for the event.
func (m *Memory) ListAttemptsByEvent(_ context.Context, eventID string) ([]rules.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rules.DeliveryAttempt, len(m.attempts[eventID]))
	copy(out, m.attempts[eventID])
	return out, nil
}

var (
	_ RuleStore       = (*Memory)(nil)
	_ PreferenceStore = (*Memory)(nil)
	_ FiringLog       = (*Memory)(nil)
	_ DeliveryLog     = (*Memory)(nil)
)
