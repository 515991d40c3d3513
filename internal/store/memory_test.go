package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mandi-alerts/internal/rules"
)

func newTomatoRule() rules.Rule {
	return rules.Rule{
		OwnerID:     "farmer-1",
		SubjectKind: rules.SubjectPrice,
		SubjectKey:  "tomato",
		Condition:   rules.Condition{Operator: rules.OpGreater, Threshold: 40},
		Cooldown:    time.Minute,
	}
}

func TestCreateAssignsDefaults(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.Create(ctx, newTomatoRule())
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("create must assign an id")
	}
	if !created.Active {
		t.Fatal("new rules default to active")
	}
	if created.FiredCount != 0 || created.LastFiredAt != nil {
		t.Fatal("new rules start unfired")
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	m := NewMemory()
	r := newTomatoRule()
	r.SubjectKey = ""

	_, err := m.Create(context.Background(), r)
	var verr *rules.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFindActiveBySubjectSkipsInactiveAndOtherSubjects(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	active, _ := m.Create(ctx, newTomatoRule())

	onion := newTomatoRule()
	onion.SubjectKey = "onion"
	if _, err := m.Create(ctx, onion); err != nil {
		t.Fatal(err)
	}

	toggled, _ := m.Create(ctx, newTomatoRule())
	off := false
	if _, err := m.Update(ctx, toggled.ID, rules.RulePatch{Active: &off}); err != nil {
		t.Fatal(err)
	}

	found, err := m.FindActiveBySubject(ctx, rules.SubjectPrice, "tomato")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != active.ID {
		t.Fatalf("expected only the active tomato rule, got %v", found)
	}
}

func TestUpdateUnknownRule(t *testing.T) {
	m := NewMemory()
	on := true
	_, err := m.Update(context.Background(), "missing", rules.RulePatch{Active: &on})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, _ := m.Create(ctx, newTomatoRule())
	if err := m.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, created.ID); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
	if err := m.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting unknown id must be a no-op, got %v", err)
	}
}

func TestRecordFiringCountsExactly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	created, _ := m.Create(ctx, newTomatoRule())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.RecordFiring(ctx, created.ID, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	got, err := m.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FiredCount != n {
		t.Fatalf("fired count = %d, want %d", got.FiredCount, n)
	}
	if got.LastFiredAt == nil {
		t.Fatal("LastFiredAt must be set after firings")
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetPreference(ctx, "farmer-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unconfigured owner, got %v", err)
	}

	pref := rules.NotificationPreference{
		OwnerID: "farmer-1",
		SMS:     rules.ChannelSetting{Enabled: true, Destination: "+919800000001"},
	}
	if err := m.PutPreference(ctx, pref); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetPreference(ctx, "farmer-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.SMS.Enabled || got.SMS.Destination != "+919800000001" {
		t.Fatalf("unexpected preference: %+v", got)
	}
}

func TestFiringLogWindows(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := rules.FiredEvent{ID: string(rune('a' + i)), SubjectKey: "tomato", FiredAt: base.Add(time.Duration(i) * time.Hour)}
		if err := m.InsertFiring(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := m.ListRecentFirings(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || !recent[0].FiredAt.After(recent[1].FiredAt) {
		t.Fatalf("expected 2 newest-first firings, got %v", recent)
	}

	window, err := m.ListFiringsBetween(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 {
		t.Fatalf("expected half-open window [from,to) with 2 firings, got %d", len(window))
	}
}
