package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []rules.FiredEvent
	prefs  []rules.NotificationPreference
}

func (c *captureDispatcher) DispatchAsync(_ context.Context, ev rules.FiredEvent, prefs rules.NotificationPreference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	c.prefs = append(c.prefs, prefs)
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fixture struct {
	engine *Engine
	store  *store.Memory
	disp   *captureDispatcher
	nowMu  sync.Mutex
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		disp:  &captureDispatcher{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.store, f.store, f.store, f.disp, zerolog.Nop())
	f.engine.now = func() time.Time {
		f.nowMu.Lock()
		defer f.nowMu.Unlock()
		return f.now
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) createRule(t *testing.T, r rules.Rule) rules.Rule {
	t.Helper()
	created, err := f.store.Create(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func tomatoAbove40() rules.Rule {
	return rules.Rule{
		OwnerID:     "farmer-1",
		SubjectKind: rules.SubjectPrice,
		SubjectKey:  "tomato",
		Condition:   rules.Condition{Operator: rules.OpGreater, Threshold: 40},
		Cooldown:    60 * time.Second,
	}
}

func (f *fixture) submit(t *testing.T, key string, value float64) {
	t.Helper()
	dp := rules.DataPoint{SubjectKind: rules.SubjectPrice, SubjectKey: key, Value: value, Timestamp: f.now}
	if err := f.engine.Submit(context.Background(), dp); err != nil {
		t.Fatal(err)
	}
}

func TestFreshRuleFiresOnce(t *testing.T) {
	f := newFixture(t)
	created := f.createRule(t, tomatoAbove40())

	f.submit(t, "tomato", 45)

	if f.disp.count() != 1 {
		t.Fatalf("expected 1 firing, got %d", f.disp.count())
	}
	got, _ := f.store.Get(context.Background(), created.ID)
	if got.FiredCount != 1 {
		t.Fatalf("fired count = %d, want 1", got.FiredCount)
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(f.now) {
		t.Fatalf("last fired at = %v, want %v", got.LastFiredAt, f.now)
	}
}

func TestCooldownSuppressesSecondFiring(t *testing.T) {
	f := newFixture(t)
	created := f.createRule(t, tomatoAbove40())

	f.submit(t, "tomato", 45)
	f.advance(30 * time.Second)
	f.submit(t, "tomato", 46)

	got, _ := f.store.Get(context.Background(), created.ID)
	if got.FiredCount != 1 {
		t.Fatalf("fired count = %d, want 1 (cooldown active)", got.FiredCount)
	}
	if f.disp.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.disp.count())
	}
}

func TestCooldownBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t)
	created := f.createRule(t, tomatoAbove40())

	f.submit(t, "tomato", 45)
	f.advance(59 * time.Second)
	f.submit(t, "tomato", 42)
	got, _ := f.store.Get(context.Background(), created.ID)
	if got.FiredCount != 1 {
		t.Fatalf("T+59s must be suppressed; fired count = %d", got.FiredCount)
	}

	f.advance(time.Second) // exactly T+60s
	f.submit(t, "tomato", 42)
	got, _ = f.store.Get(context.Background(), created.ID)
	if got.FiredCount != 2 {
		t.Fatalf("T+cooldown must fire; fired count = %d, want 2", got.FiredCount)
	}
}

func TestStrictLessDoesNotFireAtThreshold(t *testing.T) {
	f := newFixture(t)
	r := tomatoAbove40()
	r.SubjectKey = "onion"
	r.Condition = rules.Condition{Operator: rules.OpLess, Threshold: 20}
	f.createRule(t, r)

	f.submit(t, "onion", 20)

	if f.disp.count() != 0 {
		t.Fatalf("value == threshold must not fire strict <; got %d firings", f.disp.count())
	}
}

func TestUnmatchedSubjectIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, tomatoAbove40())

	f.submit(t, "potato", 99)

	if f.disp.count() != 0 {
		t.Fatal("data point with no matching rules must be a no-op")
	}
}

func TestOneDataPointMayFireManyRules(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, tomatoAbove40())
	second := tomatoAbove40()
	second.OwnerID = "farmer-2"
	second.Condition.Threshold = 30
	f.createRule(t, second)

	f.submit(t, "tomato", 45)

	if f.disp.count() != 2 {
		t.Fatalf("expected both rules to fire, got %d", f.disp.count())
	}
}

func TestIndependentCooldownsPerRule(t *testing.T) {
	f := newFixture(t)
	fast := tomatoAbove40()
	fast.Cooldown = 10 * time.Second
	fastRule := f.createRule(t, fast)
	slowRule := f.createRule(t, tomatoAbove40())

	f.submit(t, "tomato", 45)
	f.advance(15 * time.Second)
	f.submit(t, "tomato", 45)

	fastGot, _ := f.store.Get(context.Background(), fastRule.ID)
	slowGot, _ := f.store.Get(context.Background(), slowRule.ID)
	if fastGot.FiredCount != 2 {
		t.Fatalf("fast rule fired %d times, want 2", fastGot.FiredCount)
	}
	if slowGot.FiredCount != 1 {
		t.Fatalf("slow rule fired %d times, want 1 (its own cooldown)", slowGot.FiredCount)
	}
}

// corruptingStore injects a rule with an unsupported operator ahead of the
// real candidates, simulating corrupt stored data.
type corruptingStore struct {
	*store.Memory
}

func (c *corruptingStore) FindActiveBySubject(ctx context.Context, kind rules.SubjectKind, key string) ([]rules.Rule, error) {
	found, err := c.Memory.FindActiveBySubject(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	corrupt := rules.Rule{
		ID:          "corrupt-rule",
		OwnerID:     "farmer-1",
		SubjectKind: kind,
		SubjectKey:  key,
		Condition:   rules.Condition{Operator: "~", Threshold: 40},
		Active:      true,
	}
	return append([]rules.Rule{corrupt}, found...), nil
}

func TestCorruptRuleDoesNotAbortPass(t *testing.T) {
	f := newFixture(t)
	healthy := f.createRule(t, tomatoAbove40())

	wrapped := &corruptingStore{Memory: f.store}
	f.engine = New(wrapped, f.store, f.store, f.disp, zerolog.Nop())

	f.submit(t, "tomato", 45)

	got, _ := f.store.Get(context.Background(), healthy.ID)
	if got.FiredCount != 1 {
		t.Fatalf("healthy rule must still fire; count = %d", got.FiredCount)
	}
	if f.disp.count() != 1 {
		t.Fatalf("corrupt rule must contribute zero firings; dispatches = %d", f.disp.count())
	}
}

func TestInactiveRuleNotEvaluated(t *testing.T) {
	f := newFixture(t)
	created := f.createRule(t, tomatoAbove40())
	off := false
	if _, err := f.store.Update(context.Background(), created.ID, rules.RulePatch{Active: &off}); err != nil {
		t.Fatal(err)
	}

	f.submit(t, "tomato", 45)

	if f.disp.count() != 0 {
		t.Fatal("inactive rule must not fire")
	}
}

func TestConcurrentSameSubjectFiresOnceWithinCooldown(t *testing.T) {
	f := newFixture(t)
	created := f.createRule(t, tomatoAbove40())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dp := rules.DataPoint{SubjectKind: rules.SubjectPrice, SubjectKey: "tomato", Value: 45, Timestamp: time.Now()}
			_ = f.engine.Submit(context.Background(), dp)
		}()
	}
	wg.Wait()

	got, _ := f.store.Get(context.Background(), created.ID)
	if got.FiredCount != 1 {
		t.Fatalf("concurrent same-subject points double-fired: count = %d", got.FiredCount)
	}
}

func TestFiringRecordedToAuditLog(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, tomatoAbove40())

	f.submit(t, "tomato", 45)

	firings, err := f.store.ListRecentFirings(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(firings) != 1 || firings[0].SubjectKey != "tomato" || firings[0].Value != 45 {
		t.Fatalf("unexpected audit log contents: %v", firings)
	}
}

func TestDispatchReceivesOwnerPreferences(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, tomatoAbove40())
	pref := rules.NotificationPreference{
		OwnerID: "farmer-1",
		SMS:     rules.ChannelSetting{Enabled: true, Destination: "+919800000001"},
	}
	if err := f.store.PutPreference(context.Background(), pref); err != nil {
		t.Fatal(err)
	}

	f.submit(t, "tomato", 45)

	if len(f.disp.prefs) != 1 || !f.disp.prefs[0].SMS.Enabled {
		t.Fatalf("dispatcher must receive the owner's preferences, got %+v", f.disp.prefs)
	}
}

func TestSubmitRejectsMalformedDataPoints(t *testing.T) {
	f := newFixture(t)

	bad := []rules.DataPoint{
		{SubjectKind: "weather", SubjectKey: "x", Value: 1},
		{SubjectKind: rules.SubjectPrice, SubjectKey: "", Value: 1},
	}
	for _, dp := range bad {
		if err := f.engine.Submit(context.Background(), dp); err == nil {
			t.Fatalf("expected error for %+v", dp)
		}
	}
}
