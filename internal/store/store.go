// Package store defines persistence contracts for rules, notification
// preferences, and firing/delivery audit records. The Postgres implementation
// lives in internal/storage; the in-memory implementation here backs tests
// and DSN-less runs.
package store

import (
	"context"
	"errors"
	"time"

	"mandi-alerts/internal/rules"
)

// ErrNotFound indicates the referenced rule or preference does not exist.
var ErrNotFound = errors.New("not found")

// RuleStore holds user-owned alert rules keyed by owner and subject.
// Implementations must be safe for concurrent use.
type RuleStore interface {
	// Create validates and persists a rule, assigning its id and defaults
	// (active, zero fired count, no last firing).
	Create(ctx context.Context, r rules.Rule) (rules.Rule, error)

	// Get returns the rule by id or ErrNotFound.
	Get(ctx context.Context, id string) (rules.Rule, error)

	// FindActiveBySubject returns every active rule watching the subject.
	// Order is not significant.
	FindActiveBySubject(ctx context.Context, kind rules.SubjectKind, key string) ([]rules.Rule, error)

	// ListByOwner returns every rule owned by the user.
	ListByOwner(ctx context.Context, ownerID string) ([]rules.Rule, error)

	// Update applies a partial patch; ErrNotFound if the id is unknown.
	Update(ctx context.Context, id string, patch rules.RulePatch) (rules.Rule, error)

	// Delete removes the rule. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// RecordFiring atomically sets LastFiredAt and increments FiredCount.
	RecordFiring(ctx context.Context, id string, firedAt time.Time) error
}

// PreferenceStore holds per-user notification channel configuration.
type PreferenceStore interface {
	PutPreference(ctx context.Context, pref rules.NotificationPreference) error
	// GetPreference returns ErrNotFound when the owner has never configured
	// channels; callers treat that as the silent configuration.
	GetPreference(ctx context.Context, ownerID string) (rules.NotificationPreference, error)
}

// FiringLog records accepted firings for auditing and export.
type FiringLog interface {
	InsertFiring(ctx context.Context, ev rules.FiredEvent) error
	ListRecentFirings(ctx context.Context, limit int) ([]rules.FiredEvent, error)
	ListFiringsBetween(ctx context.Context, from, to time.Time) ([]rules.FiredEvent, error)
}

// DeliveryLog records final per-channel delivery attempts, write-once after
// dispatch for one event completes.
type DeliveryLog interface {
	RecordAttempts(ctx context.Context, attempts []rules.DeliveryAttempt) error
	ListAttemptsByEvent(ctx context.Context, eventID string) ([]rules.DeliveryAttempt, error)
}
