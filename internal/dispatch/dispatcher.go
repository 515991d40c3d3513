// Package dispatch fans a fired rule out to the owner's enabled notification
// channels. Channels are attempted independently: one channel failing never
// blocks or rolls back another, and the result is always per-channel.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/channels"
	"mandi-alerts/internal/metrics"
	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/store"
)

// Options tune the retry policy applied per channel.
type Options struct {
	// MaxRetries is the number of re-attempts after the initial try.
	MaxRetries int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffFactor multiplies the delay for each further retry.
	BackoffFactor float64
}

func (o *Options) applyDefaults() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 2
	}
}

// Dispatcher delivers FiredEvents across channel senders and tracks
// per-event delivery status for later querying.
type Dispatcher struct {
	senders    map[rules.Channel]channels.Sender
	deliveries store.DeliveryLog
	registry   *registry
	opts       Options
	logger     zerolog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// New constructs a Dispatcher. deliveries may be nil when no persistent
// delivery log is configured; statuses are then only held in memory.
func New(senders []channels.Sender, deliveries store.DeliveryLog, opts Options, logger zerolog.Logger) *Dispatcher {
	opts.applyDefaults()

	byChannel := make(map[rules.Channel]channels.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	return &Dispatcher{
		senders:    byChannel,
		deliveries: deliveries,
		registry:   newRegistry(),
		opts:       opts,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch delivers the event to every enabled channel and blocks until all
// channels have reached a final state. Zero enabled channels is a valid
// silent configuration and yields an empty attempt list.
func (d *Dispatcher) Dispatch(ctx context.Context, ev rules.FiredEvent, prefs rules.NotificationPreference) []rules.DeliveryAttempt {
	metrics.InFlightDispatches.Inc()
	defer metrics.InFlightDispatches.Dec()

	enabled := prefs.EnabledChannels()
	d.registry.open(ev, enabled, prefs)

	if len(enabled) == 0 {
		d.logger.Debug().Str("event_id", ev.ID).Str("owner_id", ev.OwnerID).Msg("owner has no channels enabled; silent firing")
		return d.registry.complete(ev.ID)
	}

	message := RenderMessage(ev)

	var wg sync.WaitGroup
	for _, ch := range enabled {
		sender, ok := d.senders[ch]
		if !ok {
			// Channel enabled by the user but no gateway configured.
			d.registry.finish(ev.ID, ch, failedAttempt(ev.ID, ch, prefs.Setting(ch).Destination, 0, "no sender configured for channel"))
			continue
		}

		wg.Add(1)
		go func(ch rules.Channel, sender channels.Sender, destination string) {
			defer wg.Done()
			attempt := d.deliverChannel(ctx, ev, ch, sender, destination, message)
			d.registry.finish(ev.ID, ch, attempt)
		}(ch, sender, prefs.Setting(ch).Destination)
	}
	wg.Wait()

	attempts := d.registry.complete(ev.ID)

	if d.deliveries != nil {
		if err := d.deliveries.RecordAttempts(context.WithoutCancel(ctx), attempts); err != nil {
			d.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to persist delivery attempts")
		}
	}
	return attempts
}

// DispatchAsync hands the event off without blocking the caller. Delivery is
// detached from the caller's cancellation: once started it completes or fails
// on its own terms. Drain waits for in-flight dispatches on shutdown.
func (d *Dispatcher) DispatchAsync(ctx context.Context, ev rules.FiredEvent, prefs rules.NotificationPreference) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(detached, ev, prefs)
	}()
}

// deliverChannel drives one channel to a final state, retrying transient
// failures with exponential backoff. Permanent failures stop immediately.
func (d *Dispatcher) deliverChannel(ctx context.Context, ev rules.FiredEvent, ch rules.Channel, sender channels.Sender, destination, message string) rules.DeliveryAttempt {
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxRetries+1; attempt++ {
		start := time.Now()
		err := sender.Send(ctx, destination, message)
		metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "sent").Inc()
			d.logger.Info().
				Str("event_id", ev.ID).
				Str("channel", string(ch)).
				Int("attempt", attempt).
				Msg("notification delivered")
			return rules.DeliveryAttempt{
				EventID:       ev.ID,
				Channel:       ch,
				Destination:   destination,
				Status:        rules.DeliverySent,
				AttemptNumber: attempt,
				UpdatedAt:     time.Now().UTC(),
			}
		}

		lastErr = err
		if channels.IsPermanent(err) {
			d.logger.Warn().Err(err).Str("event_id", ev.ID).Str("channel", string(ch)).Msg("permanent delivery failure")
			metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "failed").Inc()
			return failedAttempt(ev.ID, ch, destination, attempt, err.Error())
		}

		if attempt <= d.opts.MaxRetries {
			metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "retried").Inc()
			delay := d.backoff(attempt)
			d.logger.Debug().Err(err).
				Str("channel", string(ch)).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("transient delivery failure; retrying")
			if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "failed").Inc()
	d.logger.Warn().Err(lastErr).Str("event_id", ev.ID).Str("channel", string(ch)).Msg("delivery failed after retries")
	return failedAttempt(ev.ID, ch, destination, d.opts.MaxRetries+1, lastErr.Error())
}

// backoff returns the delay before the retry following the given attempt:
// base, base*factor, base*factor^2, ...
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.opts.BackoffBase)
	for i := 1; i < attempt; i++ {
		delay *= d.opts.BackoffFactor
	}
	return time.Duration(delay)
}

func failedAttempt(eventID string, ch rules.Channel, destination string, attempt int, errMsg string) rules.DeliveryAttempt {
	return rules.DeliveryAttempt{
		EventID:       eventID,
		Channel:       ch,
		Destination:   destination,
		Status:        rules.DeliveryFailed,
		AttemptNumber: attempt,
		Error:         &errMsg,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Status returns the delivery status for a fired event id.
func (d *Dispatcher) Status(eventID string) (DeliveryStatus, bool) {
	return d.registry.status(eventID)
}

// PruneStatuses drops in-memory statuses completed before the cutoff and
// returns how many were removed. The persistent delivery log is unaffected.
func (d *Dispatcher) PruneStatuses(olderThan time.Time) int {
	return d.registry.prune(olderThan)
}

// Drain blocks until in-flight dispatches finish or the context expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
