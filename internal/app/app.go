package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mandi-alerts/internal/channels"
	"mandi-alerts/internal/config"
	"mandi-alerts/internal/storage"
	"mandi-alerts/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stores bundles the persistence interfaces the engine and dispatcher need.
type stores struct {
	rules      store.RuleStore
	prefs      store.PreferenceStore
	firings    store.FiringLog
	deliveries store.DeliveryLog
}

// openStores connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise. The returned closer may be nil.
func (a *App) openStores(ctx context.Context) (stores, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		mem := store.NewMemory()
		return stores{rules: mem, prefs: mem, firings: mem, deliveries: mem}, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return stores{}, nil, err
	}

	st := storage.NewStore(pool)
	closer := func() {
		st.Close()
	}
	return stores{rules: st, prefs: st, firings: st, deliveries: st}, closer, nil
}

// openFiringLog opens only the firing log, for read-only CLI commands.
func (a *App) openFiringLog(ctx context.Context) (store.FiringLog, func(), error) {
	st, closer, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st.firings, closer, nil
}

func (a *App) newSenders() []channels.Sender {
	gateways := []struct {
		cfg  config.ChannelGatewayConfig
		make func(channels.GatewayConfig, zerolog.Logger) channels.Sender
	}{
		{a.Config.Dispatch.SMS, channels.NewSMS},
		{a.Config.Dispatch.WhatsApp, channels.NewWhatsApp},
		{a.Config.Dispatch.Email, channels.NewEmail},
		{a.Config.Dispatch.Push, channels.NewPush},
	}

	var senders []channels.Sender
	for _, gw := range gateways {
		if !gw.cfg.Enabled {
			continue
		}
		senders = append(senders, gw.make(channels.GatewayConfig{
			BaseURL: gw.cfg.BaseURL,
			APIKey:  gw.cfg.APIKey,
			Sender:  gw.cfg.Sender,
			Timeout: gw.cfg.Timeout,
		}, a.Logger))
	}
	return senders
}

// ExportOptions hold parameters for exporting firing history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowRulesOptions configure the rules listing.
type ShowRulesOptions struct {
	OwnerID string
}

// ShowFiringsOptions configure the firings listing.
type ShowFiringsOptions struct {
	Limit int
}
