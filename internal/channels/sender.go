// Package channels implements notification delivery over the per-user
// channel gateways (SMS, WhatsApp, email, push). Senders treat gateway
// payloads as opaque provider contracts and classify failures as transient
// (worth retrying) or permanent.
package channels

import (
	"context"
	"errors"
	"fmt"

	"mandi-alerts/internal/rules"
)

// Sender delivers one message to one destination over a single channel.
type Sender interface {
	Channel() rules.Channel
	Send(ctx context.Context, destination, message string) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that retrying cannot fix, such as an invalid
// destination address or a rejected payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent over a formatted error.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether the error was marked permanent. Errors not
// marked are treated as transient by the dispatcher.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
