// Package ingest feeds data points into the rule engine. The engine is
// agnostic to the transport; adapters exist for a Kafka tick stream and a
// seeded simulated feed standing in for live mandi price and sensor sources.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mandi-alerts/internal/rules"
)

// Submitter consumes data points; implemented by the rule engine.
type Submitter interface {
	Submit(ctx context.Context, dp rules.DataPoint) error
}

// Adapter pushes data points into a Submitter until the context is cancelled.
type Adapter interface {
	Run(ctx context.Context) error
}

// Tick is the wire form of one observation. Price sources publish the price
// as a decimal string to avoid binary float drift on the wire; sensor sources
// publish a plain number.
type Tick struct {
	SubjectKind string    `json:"subject_kind"`
	SubjectKey  string    `json:"subject_key"`
	Price       string    `json:"price,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseTick converts a wire tick into a DataPoint.
func ParseTick(t Tick) (rules.DataPoint, error) {
	kind := rules.SubjectKind(t.SubjectKind)
	if !kind.Valid() {
		return rules.DataPoint{}, fmt.Errorf("unknown subject kind %q", t.SubjectKind)
	}
	if t.SubjectKey == "" {
		return rules.DataPoint{}, errors.New("tick subject key must not be empty")
	}

	var value float64
	switch {
	case t.Price != "":
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return rules.DataPoint{}, fmt.Errorf("parse tick price %q: %w", t.Price, err)
		}
		value = price.InexactFloat64()
	case t.Value != nil:
		value = *t.Value
	default:
		return rules.DataPoint{}, errors.New("tick carries neither price nor value")
	}

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return rules.DataPoint{
		SubjectKind: kind,
		SubjectKey:  t.SubjectKey,
		Value:       value,
		Timestamp:   ts,
	}, nil
}
