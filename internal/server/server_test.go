package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/dispatch"
	"mandi-alerts/internal/engine"
	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

type nopDispatcher struct{}

func (nopDispatcher) DispatchAsync(context.Context, rules.FiredEvent, rules.NotificationPreference) {
}

func newTestServer(t *testing.T) (*Server, *store.Memory, *dispatch.Dispatcher) {
	t.Helper()
	mem := store.NewMemory()
	disp := dispatch.New(nil, mem, dispatch.Options{}, zerolog.Nop())
	eng := engine.New(mem, mem, mem, disp, zerolog.Nop())
	srv := New(eng, mem, mem, mem, disp, Options{Listen: ":0"}, zerolog.Nop())
	return srv, mem, disp
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndFetchRule(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/rules", map[string]any{
		"owner_id":         "farmer-1",
		"subject_kind":     "price",
		"subject_key":      "tomato",
		"operator":         ">",
		"threshold":        40,
		"cooldown_seconds": 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}

	var created ruleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.Active || created.CooldownSeconds != 60 {
		t.Fatalf("unexpected created rule: %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestCreateRuleValidationErrorIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rules", map[string]any{
		"owner_id":     "farmer-1",
		"subject_kind": "price",
		"subject_key":  "",
		"operator":     ">",
		"threshold":    40,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", rec.Code, rec.Body.String())
	}
}

func TestBandShorthandCreatesTwoRules(t *testing.T) {
	srv, mem, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/rules", map[string]any{
		"owner_id":         "farmer-1",
		"subject_key":      "tomato",
		"min_price":        20,
		"max_price":        45,
		"cooldown_seconds": 300,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	owned, err := mem.ListByOwner(context.Background(), "farmer-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 band rules, got %d", len(owned))
	}

	ops := map[rules.Operator]float64{}
	for _, r := range owned {
		ops[r.Condition.Operator] = r.Condition.Threshold
	}
	if ops[rules.OpLess] != 20 || ops[rules.OpGreater] != 45 {
		t.Fatalf("unexpected band conditions: %v", ops)
	}
}

func TestToggleAndDeleteRule(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	h := srv.Handler()

	created, err := mem.Create(context.Background(), rules.Rule{
		OwnerID:     "farmer-1",
		SubjectKind: rules.SubjectPrice,
		SubjectKey:  "onion",
		Condition:   rules.Condition{Operator: rules.OpLess, Threshold: 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/rules/"+created.ID+"/toggle", map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	got, _ := mem.Get(context.Background(), created.ID)
	if got.Active {
		t.Fatal("toggle must deactivate the rule")
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	// Idempotent: second delete also succeeds.
	rec = doJSON(t, h, http.MethodDelete, "/v1/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d, want 204", rec.Code)
	}
}

func TestUpdateUnknownRuleIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPatch, "/v1/rules/nope", map[string]any{"threshold": 50})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPut, "/v1/preferences/farmer-1", map[string]any{
		"sms":      map[string]any{"enabled": true, "destination": "+919800000001"},
		"whatsapp": map[string]any{"enabled": false, "destination": ""},
		"email":    map[string]any{"enabled": true, "destination": "farmer@example.com"},
		"push":     map[string]any{"enabled": false, "destination": ""},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/preferences/farmer-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var pref preferenceDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &pref); err != nil {
		t.Fatal(err)
	}
	if !pref.SMS.Enabled || pref.SMS.Destination != "+919800000001" {
		t.Fatalf("unexpected preference: %+v", pref)
	}
}

func TestSubmitDataPointFiresRuleAndStatusIsQueryable(t *testing.T) {
	srv, mem, disp := newTestServer(t)
	h := srv.Handler()

	if _, err := mem.Create(context.Background(), rules.Rule{
		OwnerID:     "farmer-1",
		SubjectKind: rules.SubjectPrice,
		SubjectKey:  "tomato",
		Condition:   rules.Condition{Operator: rules.OpGreater, Threshold: 40},
	}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/datapoints", map[string]any{
		"subject_kind": "price",
		"subject_key":  "tomato",
		"price":        "45.00",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := disp.Drain(ctx); err != nil {
		t.Fatal(err)
	}

	firings, err := mem.ListRecentFirings(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(firings) != 1 {
		t.Fatal("expected the submitted point to fire the rule")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/deliveries/"+firings[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery status = %d body=%s", rec.Code, rec.Body.String())
	}
	var status deliveryStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Summary != "silent" {
		t.Fatalf("summary = %s, want silent (owner has no channels)", status.Summary)
	}
}

func TestDeliveryStatusUnknownEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/deliveries/ev-unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitMalformedDataPointIs400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []map[string]any{
		{"subject_kind": "weather", "subject_key": "x", "value": 1},
		{"subject_kind": "price", "subject_key": "tomato"},
		{"subject_kind": "price", "subject_key": "tomato", "price": "abc"},
	}
	for i, c := range cases {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/datapoints", c)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400", i, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
