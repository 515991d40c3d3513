// Package engine evaluates incoming data points against stored rules,
// enforces per-rule cooldown, and hands accepted firings to the dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mandi-alerts/internal/metrics"
	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

// Dispatcher is the hand-off for accepted firings. The engine never blocks
// on delivery completion.
type Dispatcher interface {
	DispatchAsync(ctx context.Context, ev rules.FiredEvent, prefs rules.NotificationPreference)
}

// Engine is the rule evaluation core. Safe for concurrent Submit calls.
type Engine struct {
	rules      store.RuleStore
	prefs      store.PreferenceStore
	firings    store.FiringLog
	dispatcher Dispatcher
	logger     zerolog.Logger

	// now is swapped out in tests for deterministic cooldown checks.
	now func() time.Time

	// subjectMu serializes evaluation per subject so two concurrent data
	// points for the same subject cannot both observe a stale LastFiredAt
	// and double-fire within a cooldown window. Different subjects proceed
	// in parallel.
	mu        sync.Mutex
	subjectMu map[string]*sync.Mutex
}

// New constructs an Engine. firings may be nil to disable the audit log.
func New(ruleStore store.RuleStore, prefStore store.PreferenceStore, firings store.FiringLog, dispatcher Dispatcher, logger zerolog.Logger) *Engine {
	return &Engine{
		rules:      ruleStore,
		prefs:      prefStore,
		firings:    firings,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "engine").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		subjectMu:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) subjectLock(kind rules.SubjectKind, key string) *sync.Mutex {
	id := string(kind) + "\x00" + key
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.subjectMu[id]
	if !ok {
		lock = &sync.Mutex{}
		e.subjectMu[id] = lock
	}
	return lock
}

// Submit runs one evaluation pass for the data point. A point whose subject
// matches no active rule is a no-op. One rule failing to evaluate never
// aborts the rest of the pass.
func (e *Engine) Submit(ctx context.Context, dp rules.DataPoint) error {
	if !dp.SubjectKind.Valid() {
		return fmt.Errorf("unknown subject kind %q", string(dp.SubjectKind))
	}
	if dp.SubjectKey == "" {
		return errors.New("data point subject key must not be empty")
	}
	if math.IsNaN(dp.Value) || math.IsInf(dp.Value, 0) {
		return fmt.Errorf("data point value must be finite, got %v", dp.Value)
	}

	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	lock := e.subjectLock(dp.SubjectKind, dp.SubjectKey)
	lock.Lock()
	defer lock.Unlock()

	// Point-in-time snapshot: a rule deactivated concurrently may still
	// complete a firing already started in this pass, but is never picked
	// up fresh afterwards.
	candidates, err := e.rules.FindActiveBySubject(ctx, dp.SubjectKind, dp.SubjectKey)
	if err != nil {
		return fmt.Errorf("find rules for subject %s/%s: %w", dp.SubjectKind, dp.SubjectKey, err)
	}

	for _, r := range candidates {
		e.evaluateRule(ctx, r, dp)
	}
	return nil
}

func (e *Engine) evaluateRule(ctx context.Context, r rules.Rule, dp rules.DataPoint) {
	now := e.now()

	if r.InCooldown(now) {
		metrics.CooldownSuppressedTotal.Inc()
		e.logger.Debug().
			Str("rule_id", r.ID).
			Time("last_fired_at", *r.LastFiredAt).
			Dur("cooldown", r.Cooldown).
			Msg("firing suppressed by cooldown")
		return
	}

	matched, err := rules.Evaluate(dp.Value, r.Condition.Operator, r.Condition.Threshold)
	if err != nil {
		// A corrupt rule contributes zero firings for this pass but must
		// not block the other candidates.
		metrics.EvaluationErrorsTotal.Inc()
		e.logger.Error().Err(err).Str("rule_id", r.ID).Msg("rule evaluation failed; skipping for this pass")
		return
	}
	if !matched {
		return
	}

	if err := e.rules.RecordFiring(ctx, r.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Rule deleted between snapshot and firing; nothing to deliver.
			return
		}
		e.logger.Error().Err(err).Str("rule_id", r.ID).Msg("failed to record firing")
		return
	}

	ev := rules.FiredEvent{
		ID:          uuid.NewString(),
		RuleID:      r.ID,
		OwnerID:     r.OwnerID,
		SubjectKind: r.SubjectKind,
		SubjectKey:  r.SubjectKey,
		Value:       dp.Value,
		Threshold:   r.Condition.Threshold,
		Operator:    r.Condition.Operator,
		FiredAt:     now,
	}

	metrics.RuleFiringsTotal.WithLabelValues(string(r.SubjectKind)).Inc()
	e.logger.Info().
		Str("rule_id", r.ID).
		Str("event_id", ev.ID).
		Str("subject", r.SubjectKey).
		Float64("value", dp.Value).
		Float64("threshold", r.Condition.Threshold).
		Msg("rule fired")

	if e.firings != nil {
		if err := e.firings.InsertFiring(ctx, ev); err != nil {
			e.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to persist firing")
		}
	}

	prefs, err := e.prefs.GetPreference(ctx, r.OwnerID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Error().Err(err).Str("owner_id", r.OwnerID).Msg("failed to load notification preferences")
		}
		// No configuration is the silent case; dispatch still records the
		// event so delivery status stays queryable.
		prefs = rules.NotificationPreference{OwnerID: r.OwnerID}
	}

	e.dispatcher.DispatchAsync(ctx, ev, prefs)
}
