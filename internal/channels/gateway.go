package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/rules"
)

// GatewayConfig holds connection settings shared by the HTTP gateway senders.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Sender is the provider-registered origin: SMS sender id, WhatsApp
	// business number, or email from-address depending on the channel.
	Sender string
}

type gateway struct {
	channel rules.Channel
	path    string
	cfg     GatewayConfig
	client  *http.Client
	logger  zerolog.Logger
	payload func(cfg GatewayConfig, destination, message string) any
}

func newGateway(channel rules.Channel, path string, cfg GatewayConfig, logger zerolog.Logger, payload func(GatewayConfig, string, string) any) *gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &gateway{
		channel: channel,
		path:    path,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With().Str("component", "channel_"+string(channel)).Logger(),
		payload: payload,
	}
}

func (g *gateway) Channel() rules.Channel { return g.channel }

// Send posts the provider payload to the gateway. Responses in the 4xx range
// are permanent; 5xx and transport failures are transient.
func (g *gateway) Send(ctx context.Context, destination, message string) error {
	if destination == "" {
		return Permanentf("%s: empty destination", g.channel)
	}

	body, err := json.Marshal(g.payload(g.cfg, destination, message))
	if err != nil {
		return Permanentf("marshal %s payload: %v", g.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+g.path, bytes.NewReader(body))
	if err != nil {
		return Permanentf("create %s request: %v", g.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", g.channel, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		g.logger.Debug().Str("destination", destination).Msg("gateway accepted message")
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%s gateway returned %d", g.channel, resp.StatusCode)
	default:
		return Permanentf("%s gateway rejected message: %d", g.channel, resp.StatusCode)
	}
}

// NewSMS constructs the SMS gateway sender.
func NewSMS(cfg GatewayConfig, logger zerolog.Logger) Sender {
	return newGateway(rules.ChannelSMS, "/v1/sms/messages", cfg, logger, func(cfg GatewayConfig, to, msg string) any {
		return map[string]string{"to": to, "from": cfg.Sender, "body": msg}
	})
}

// NewWhatsApp constructs the WhatsApp gateway sender.
func NewWhatsApp(cfg GatewayConfig, logger zerolog.Logger) Sender {
	return newGateway(rules.ChannelWhatsApp, "/v1/whatsapp/messages", cfg, logger, func(cfg GatewayConfig, to, msg string) any {
		return map[string]string{"to": to, "from": cfg.Sender, "type": "text", "body": msg}
	})
}

// NewEmail constructs the email gateway sender.
func NewEmail(cfg GatewayConfig, logger zerolog.Logger) Sender {
	return newGateway(rules.ChannelEmail, "/v1/mail/send", cfg, logger, func(cfg GatewayConfig, to, msg string) any {
		return map[string]string{"to": to, "from": cfg.Sender, "subject": "MandiSense price alert", "body": msg}
	})
}

// NewPush constructs the push gateway sender; destination is a device token.
func NewPush(cfg GatewayConfig, logger zerolog.Logger) Sender {
	return newGateway(rules.ChannelPush, "/v1/push/send", cfg, logger, func(cfg GatewayConfig, token, msg string) any {
		return map[string]string{"token": token, "title": "MandiSense alert", "body": msg}
	})
}

var _ Sender = (*gateway)(nil)
