package app

import (
	"context"
	"time"

	"mandi-alerts/internal/dispatch"
	"mandi-alerts/internal/engine"
	"mandi-alerts/internal/rules"
)

// SimulateTick feeds a single hand-crafted data point through the full
// evaluate-and-dispatch path, then waits for deliveries to settle.
func (a *App) SimulateTick(ctx context.Context, dp rules.DataPoint) error {
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

	if dp.Timestamp.IsZero() {
		dp.Timestamp = time.Now().UTC()
	}

	if err := eng.Submit(ctx, dp); err != nil {
		return err
	}

	return disp.Drain(ctx)
}
