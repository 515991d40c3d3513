package rules

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestEvaluateMatchesNativeComparisons(t *testing.T) {
	values := []float64{-3.5, 0, 19.999, 20, 20.001, 45, 1e9}
	thresholds := []float64{-3.5, 0, 20, 45}

	for _, v := range values {
		for _, th := range thresholds {
			checks := []struct {
				op   Operator
				want bool
			}{
				{OpLess, v < th},
				{OpLessEqual, v <= th},
				{OpGreater, v > th},
				{OpGreaterEqual, v >= th},
				{OpEqual, v == th},
			}
			for _, c := range checks {
				got, err := Evaluate(v, c.op, th)
				if err != nil {
					t.Fatalf("Evaluate(%v, %q, %v): %v", v, c.op, th, err)
				}
				if got != c.want {
					t.Fatalf("Evaluate(%v, %q, %v) = %v, want %v", v, c.op, th, got, c.want)
				}
			}
		}
	}
}

func TestEvaluateStrictLessAtBoundary(t *testing.T) {
	got, err := Evaluate(20, OpLess, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("20 < 20 must be false")
	}
}

func TestEvaluateInvalidOperator(t *testing.T) {
	if _, err := Evaluate(1, Operator("!="), 2); !errors.Is(err, ErrInvalidOperator) {
		t.Fatalf("expected ErrInvalidOperator, got %v", err)
	}
}

func TestEvaluateExactEquality(t *testing.T) {
	// 0.1+0.2 != 0.3 in float64; equality is deliberately exact.
	// Use variables so the sum is computed in float64 rather than folded
	// exactly by the compiler's untyped-constant arithmetic.
	x, y := 0.1, 0.2
	got, err := Evaluate(x+y, OpEqual, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("exact equality must not apply an epsilon")
	}
}

func TestValidateRejectsMalformedRules(t *testing.T) {
	base := Rule{
		OwnerID:     "farmer-1",
		SubjectKind: SubjectPrice,
		SubjectKey:  "tomato",
		Condition:   Condition{Operator: OpGreater, Threshold: 40},
	}

	if err := Validate(base); err != nil {
		t.Fatalf("base rule should validate: %v", err)
	}

	cases := map[string]func(r *Rule){
		"empty owner":        func(r *Rule) { r.OwnerID = "" },
		"empty subject key":  func(r *Rule) { r.SubjectKey = "" },
		"unknown kind":       func(r *Rule) { r.SubjectKind = "weather" },
		"bad operator":       func(r *Rule) { r.Condition.Operator = "~" },
		"NaN threshold":      func(r *Rule) { r.Condition.Threshold = math.NaN() },
		"infinite threshold": func(r *Rule) { r.Condition.Threshold = math.Inf(1) },
		"negative cooldown":  func(r *Rule) { r.Cooldown = -time.Second },
	}

	for name, mutate := range cases {
		r := base
		mutate(&r)
		err := Validate(r)
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected *ValidationError, got %T", name, err)
		}
	}
}

func TestInCooldownBoundary(t *testing.T) {
	fired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Rule{Cooldown: 60 * time.Second, LastFiredAt: &fired}

	if !r.InCooldown(fired.Add(59 * time.Second)) {
		t.Fatal("59s after firing must still be in cooldown")
	}
	if r.InCooldown(fired.Add(60 * time.Second)) {
		t.Fatal("exactly cooldown after firing must be allowed")
	}

	fresh := Rule{Cooldown: 60 * time.Second}
	if fresh.InCooldown(fired) {
		t.Fatal("never-fired rule is never in cooldown")
	}
}

func TestEnabledChannels(t *testing.T) {
	pref := NotificationPreference{
		OwnerID:  "farmer-1",
		SMS:      ChannelSetting{Enabled: true, Destination: "+919800000001"},
		Email:    ChannelSetting{Enabled: true, Destination: "farmer@example.com"},
		WhatsApp: ChannelSetting{Destination: "+919800000001"},
	}

	enabled := pref.EnabledChannels()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled channels, got %v", enabled)
	}
	if enabled[0] != ChannelSMS || enabled[1] != ChannelEmail {
		t.Fatalf("unexpected channel order: %v", enabled)
	}
}
