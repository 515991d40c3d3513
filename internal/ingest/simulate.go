package ingest

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/metrics"
	"mandi-alerts/internal/rules"
	"mandi-alerts/internal/scheduler"
)

// SimSubject seeds one simulated series.
type SimSubject struct {
	Kind rules.SubjectKind
	Key  string
	// Base is the series' starting value; Spread bounds each step.
	Base   float64
	Spread float64
}

// DefaultSimSubjects are the demo commodity series.
func DefaultSimSubjects() []SimSubject {
	return []SimSubject{
		{Kind: rules.SubjectPrice, Key: "tomato", Base: 40, Spread: 4},
		{Kind: rules.SubjectPrice, Key: "onion", Base: 25, Spread: 3},
		{Kind: rules.SubjectPrice, Key: "potato", Base: 18, Spread: 2},
		{Kind: rules.SubjectPrice, Key: "wheat", Base: 22, Spread: 1.5},
	}
}

// SimulatedFeed emits a bounded random walk per subject on a fixed interval.
// A fixed seed reproduces the exact same series, which is what tests and
// demos want instead of the ad hoc randomness it replaces.
type SimulatedFeed struct {
	submitter Submitter
	subjects  []SimSubject
	current   []float64
	rng       *rand.Rand
	sched     *scheduler.Scheduler
	logger    zerolog.Logger
}

// NewSimulatedFeed constructs a feed over the given subjects.
func NewSimulatedFeed(submitter Submitter, subjects []SimSubject, interval time.Duration, seed int64, logger zerolog.Logger) *SimulatedFeed {
	if len(subjects) == 0 {
		subjects = DefaultSimSubjects()
	}
	current := make([]float64, len(subjects))
	for i, s := range subjects {
		current[i] = s.Base
	}

	return &SimulatedFeed{
		submitter: submitter,
		subjects:  subjects,
		current:   current,
		rng:       rand.New(rand.NewSource(seed)),
		sched:     scheduler.New(scheduler.Options{Interval: interval}, logger),
		logger:    logger.With().Str("component", "simulated_feed").Logger(),
	}
}

// Run emits one data point per subject each interval until ctx is cancelled.
func (f *SimulatedFeed) Run(ctx context.Context) error {
	f.logger.Info().Int("subjects", len(f.subjects)).Msg("simulated feed started")
	return f.sched.Run(ctx, f.Emit)
}

// Emit advances every series one step and submits the resulting points.
func (f *SimulatedFeed) Emit(ctx context.Context, at time.Time) error {
	for i, s := range f.subjects {
		f.current[i] = f.step(f.current[i], s)

		dp := rules.DataPoint{
			SubjectKind: s.Kind,
			SubjectKey:  s.Key,
			Value:       f.current[i],
			Timestamp:   at,
		}
		metrics.DataPointsTotal.WithLabelValues(string(s.Kind), "simulated").Inc()
		if err := f.submitter.Submit(ctx, dp); err != nil {
			f.logger.Error().Err(err).Str("subject", s.Key).Msg("evaluation pass failed")
		}
	}
	return nil
}

// step moves the value by at most Spread and keeps the series within half of
// Base on either side so simulated prices stay plausible.
func (f *SimulatedFeed) step(value float64, s SimSubject) float64 {
	next := value + (f.rng.Float64()*2-1)*s.Spread
	lo, hi := s.Base*0.5, s.Base*1.5
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	return next
}

var _ Adapter = (*SimulatedFeed)(nil)
