package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSMSGatewaySuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/sms/messages") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSMS(GatewayConfig{BaseURL: srv.URL, APIKey: "key-123", Sender: "MANDI", Timeout: time.Second}, testLogger())
	if err := sender.Send(context.Background(), "+919800000001", "tomato above 40"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if received["to"] != "+919800000001" || received["from"] != "MANDI" {
		t.Fatalf("unexpected payload: %#v", received)
	}
	if received["body"] == "" {
		t.Fatal("body must be populated")
	}
}

func TestGatewayRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewEmail(GatewayConfig{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	err := sender.Send(context.Background(), "not-an-address", "hello")
	if err == nil {
		t.Fatal("4xx must surface an error")
	}
	if !IsPermanent(err) {
		t.Fatalf("4xx must be permanent, got %v", err)
	}
}

func TestGatewayServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWhatsApp(GatewayConfig{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	err := sender.Send(context.Background(), "+919800000001", "hello")
	if err == nil {
		t.Fatal("5xx must surface an error")
	}
	if IsPermanent(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
}

func TestEmptyDestinationIsPermanent(t *testing.T) {
	sender := NewPush(GatewayConfig{BaseURL: "http://localhost:0", Timeout: time.Second}, testLogger())
	err := sender.Send(context.Background(), "", "hello")
	if !IsPermanent(err) {
		t.Fatalf("empty destination must be permanent, got %v", err)
	}
}
