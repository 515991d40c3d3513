package rules

import (
	"time"
)

// SubjectKind classifies what a rule watches.
type SubjectKind string

const (
	// SubjectPrice watches a commodity price series; subject key is the commodity name.
	SubjectPrice SubjectKind = "price"
	// SubjectSensor watches a device metric; subject key is "<device-id>/<metric>".
	SubjectSensor SubjectKind = "sensor"
)

// Valid reports whether the kind is one of the known subject kinds.
func (k SubjectKind) Valid() bool {
	return k == SubjectPrice || k == SubjectSensor
}

// Condition is a single threshold comparison attached to a rule.
type Condition struct {
	Operator  Operator
	Threshold float64
}

// Rule is a user's standing condition watched against incoming values.
type Rule struct {
	ID          string
	OwnerID     string
	SubjectKind SubjectKind
	SubjectKey  string
	Condition   Condition
	Active      bool
	Cooldown    time.Duration
	LastFiredAt *time.Time
	FiredCount  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InCooldown reports whether a firing at the given instant is suppressed.
// The boundary is inclusive: exactly Cooldown after the last firing is allowed.
func (r Rule) InCooldown(now time.Time) bool {
	if r.LastFiredAt == nil || r.Cooldown <= 0 {
		return false
	}
	return now.Sub(*r.LastFiredAt) < r.Cooldown
}

// RulePatch carries a partial update; nil fields are left untouched.
type RulePatch struct {
	SubjectKey *string
	Operator   *Operator
	Threshold  *float64
	Active     *bool
	Cooldown   *time.Duration
}

// DataPoint is one observed value fed into the engine. It is consumed by a
// single evaluation pass and never persisted.
type DataPoint struct {
	SubjectKind SubjectKind
	SubjectKey  string
	Value       float64
	Timestamp   time.Time
}

// FiredEvent is the immutable output of an accepted rule firing.
type FiredEvent struct {
	ID          string
	RuleID      string
	OwnerID     string
	SubjectKind SubjectKind
	SubjectKey  string
	Value       float64
	Threshold   float64
	Operator    Operator
	FiredAt     time.Time
}

// Channel is one notification delivery mechanism.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
)

// Channels lists all known channels in dispatch order.
var Channels = []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelPush}

// ChannelSetting enables one channel and names its destination
// (phone number, email address, or device token).
type ChannelSetting struct {
	Enabled     bool
	Destination string
}

// NotificationPreference is a user's per-channel delivery configuration.
// All channels disabled is a valid "silent" configuration.
type NotificationPreference struct {
	OwnerID  string
	SMS      ChannelSetting
	WhatsApp ChannelSetting
	Email    ChannelSetting
	Push     ChannelSetting
}

// Setting returns the setting for the named channel.
func (p NotificationPreference) Setting(ch Channel) ChannelSetting {
	switch ch {
	case ChannelSMS:
		return p.SMS
	case ChannelWhatsApp:
		return p.WhatsApp
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	}
	return ChannelSetting{}
}

// EnabledChannels returns the channels the owner has switched on.
func (p NotificationPreference) EnabledChannels() []Channel {
	enabled := make([]Channel, 0, len(Channels))
	for _, ch := range Channels {
		if p.Setting(ch).Enabled {
			enabled = append(enabled, ch)
		}
	}
	return enabled
}

// DeliveryState is the lifecycle of one channel's delivery.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// DeliveryAttempt tracks delivery of one FiredEvent over one channel.
// AttemptNumber counts every try including retries; Error holds the last
// failure when Status is failed.
type DeliveryAttempt struct {
	EventID       string
	Channel       Channel
	Destination   string
	Status        DeliveryState
	AttemptNumber int
	Error         *string
	UpdatedAt     time.Time
}
