package dispatch

import (
	"sync"
	"time"

	"mandi-alerts/internal/rules"
)

// Summary collapses per-channel outcomes for UI consumption without hiding
// partial delivery behind a boolean.
type Summary string

const (
	// SummarySilent means the owner had no channels enabled.
	SummarySilent Summary = "silent"
	// SummaryPending means at least one channel has not reached a final state.
	SummaryPending Summary = "pending"
	// SummaryDelivered means every enabled channel was sent.
	SummaryDelivered Summary = "delivered"
	// SummaryPartial means some channels were sent and some failed.
	SummaryPartial Summary = "partial"
	// SummaryFailed means every enabled channel failed.
	SummaryFailed Summary = "failed"
)

// DeliveryStatus is the queryable outcome of dispatching one fired event.
type DeliveryStatus struct {
	EventID     string
	OwnerID     string
	Attempts    []rules.DeliveryAttempt
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Summarize reduces the attempts to an overall summary.
func (s DeliveryStatus) Summarize() Summary {
	if len(s.Attempts) == 0 {
		if s.CompletedAt != nil {
			return SummarySilent
		}
		return SummaryPending
	}

	sent, failed := 0, 0
	for _, at := range s.Attempts {
		switch at.Status {
		case rules.DeliverySent:
			sent++
		case rules.DeliveryFailed:
			failed++
		default:
			return SummaryPending
		}
	}
	switch {
	case failed == 0:
		return SummaryDelivered
	case sent == 0:
		return SummaryFailed
	default:
		return SummaryPartial
	}
}

// registry is the in-memory status table, bounded by periodic pruning.
type registry struct {
	mu       sync.Mutex
	statuses map[string]*DeliveryStatus
}

func newRegistry() *registry {
	return &registry{statuses: make(map[string]*DeliveryStatus)}
}

// open records a dispatch starting, with one pending attempt per enabled channel.
func (r *registry) open(ev rules.FiredEvent, enabled []rules.Channel, prefs rules.NotificationPreference) {
	now := time.Now().UTC()
	st := &DeliveryStatus{EventID: ev.ID, OwnerID: ev.OwnerID, StartedAt: now}
	for _, ch := range enabled {
		st.Attempts = append(st.Attempts, rules.DeliveryAttempt{
			EventID:     ev.ID,
			Channel:     ch,
			Destination: prefs.Setting(ch).Destination,
			Status:      rules.DeliveryPending,
			UpdatedAt:   now,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[ev.ID] = st
}

// finish replaces the channel's pending attempt with its final state.
func (r *registry) finish(eventID string, ch rules.Channel, attempt rules.DeliveryAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[eventID]
	if !ok {
		return
	}
	for i := range st.Attempts {
		if st.Attempts[i].Channel == ch {
			st.Attempts[i] = attempt
			return
		}
	}
	st.Attempts = append(st.Attempts, attempt)
}

// complete marks the dispatch finished and returns a copy of the attempts.
func (r *registry) complete(eventID string) []rules.DeliveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[eventID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	st.CompletedAt = &now

	out := make([]rules.DeliveryAttempt, len(st.Attempts))
	copy(out, st.Attempts)
	return out
}

// status returns a copy of the event's delivery status.
func (r *registry) status(eventID string) (DeliveryStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[eventID]
	if !ok {
		return DeliveryStatus{}, false
	}
	cp := *st
	cp.Attempts = make([]rules.DeliveryAttempt, len(st.Attempts))
	copy(cp.Attempts, st.Attempts)
	return cp, true
}

// prune removes statuses completed before the cutoff.
func (r *registry) prune(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, st := range r.statuses {
		if st.CompletedAt != nil && st.CompletedAt.Before(olderThan) {
			delete(r.statuses, id)
			removed++
		}
	}
	return removed
}
