// Package server exposes the engine's entry points over HTTP: data point
// submission, rule CRUD, notification preferences, and delivery status
// queries for UI polling.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mandi-alerts/internal/dispatch"
	"mandi-alerts/internal/ingest"
	"mandi-alerts/internal/store"
)

// StatusSource answers delivery status queries; implemented by the dispatcher.
type StatusSource interface {
	Status(eventID string) (dispatch.DeliveryStatus, bool)
}

// Options configure the API listener.
type Options struct {
	Listen          string
	ShutdownTimeout time.Duration
}

// Server is the HTTP API front of the alert engine.
type Server struct {
	engine     ingest.Submitter
	rules      store.RuleStore
	prefs      store.PreferenceStore
	deliveries store.DeliveryLog
	status     StatusSource
	opts       Options
	logger     zerolog.Logger

	srv *http.Server
}

// New constructs the API server. deliveries may be nil when no persistent
// delivery log is configured; status queries then rely on the in-memory
// registry alone.
func New(engine ingest.Submitter, ruleStore store.RuleStore, prefStore store.PreferenceStore, deliveries store.DeliveryLog, status StatusSource, opts Options, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		engine:     engine,
		rules:      ruleStore,
		prefs:      prefStore,
		deliveries: deliveries,
		status:     status,
		opts:       opts,
		logger:     logger.With().Str("component", "http_api").Logger(),
	}

	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/datapoints", s.handleSubmitDataPoint)

	mux.HandleFunc("POST /v1/rules", s.handleCreateRule)
	mux.HandleFunc("GET /v1/rules", s.handleListRules)
	mux.HandleFunc("GET /v1/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PATCH /v1/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("POST /v1/rules/{id}/toggle", s.handleToggleRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("PUT /v1/preferences/{owner}", s.handlePutPreference)
	mux.HandleFunc("GET /v1/preferences/{owner}", s.handleGetPreference)

	mux.HandleFunc("GET /v1/deliveries/{event}", s.handleDeliveryStatus)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("http api listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
