package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mandi-alerts/internal/dispatch"
	"mandi-alerts/internal/engine"
	"mandi-alerts/internal/ingest"
	"mandi-alerts/internal/scheduler"
	"mandi-alerts/internal/server"
)

// Run executes the long-running alert service: ingest, engine, dispatcher,
// HTTP API, and the delivery status retention sweep.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	disp := dispatch.New(a.newSenders(), st.deliveries, dispatch.Options{
		MaxRetries:    a.Config.Dispatch.MaxRetries,
		BackoffBase:   a.Config.Dispatch.BackoffBase,
		BackoffFactor: a.Config.Dispatch.BackoffFactor,
	}, a.Logger)

	eng := engine.New(st.rules, st.prefs, st.firings, disp, a.Logger)

	group, ctx := errgroup.WithContext(ctx)

	adapter, err := a.newAdapter(eng)
	if err != nil {
		return err
	}
	if adapter != nil {
		group.Go(func() error {
			return adapter.Run(ctx)
		})
	}

	if a.Config.HTTP.Enabled {
		srv := server.New(eng, st.rules, st.prefs, st.deliveries, disp, server.Options{
			Listen:          a.Config.HTTP.Listen,
			ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
		}, a.Logger)
		group.Go(func() error {
			return srv.Run(ctx)
		})
	}

	sweep := scheduler.New(scheduler.Options{Interval: a.Config.Dispatch.SweepInterval}, a.Logger)
	group.Go(func() error {
		return sweep.Run(ctx, func(_ context.Context, at time.Time) error {
			pruned := disp.PruneStatuses(at.Add(-a.Config.Dispatch.StatusRetention))
			if pruned > 0 {
				a.Logger.Debug().Int("pruned", pruned).Msg("swept delivery statuses")
			}
			return nil
		})
	})

	a.Logger.Info().
		Str("ingest", a.Config.Ingest.Source).
		Bool("http", a.Config.HTTP.Enabled).
		Msg("starting alert service")

	err = group.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if drainErr := disp.Drain(drainCtx); drainErr != nil {
		a.Logger.Warn().Err(drainErr).Msg("dispatch drain incomplete at shutdown")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alert service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

func (a *App) newAdapter(eng ingest.Submitter) (ingest.Adapter, error) {
	switch a.Config.Ingest.Source {
	case "kafka":
		return ingest.NewKafkaAdapter(a.Config.Ingest.Kafka, eng, a.Logger), nil
	case "simulate":
		sim := a.Config.Ingest.Simulate
		return ingest.NewSimulatedFeed(eng, nil, sim.Interval, sim.Seed, a.Logger), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ingest source %q", a.Config.Ingest.Source)
	}
}
