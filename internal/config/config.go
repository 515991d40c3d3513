package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"mandi-alerts/internal/ingest"
	"mandi-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// IngestConfig selects and tunes the data point source.
type IngestConfig struct {
	// Source is one of kafka, simulate, none. With none, data points only
	// arrive through the HTTP API.
	Source   string             `mapstructure:"source"`
	Kafka    ingest.KafkaConfig `mapstructure:"kafka"`
	Simulate SimulateConfig     `mapstructure:"simulate"`
}

// SimulateConfig tunes the built-in simulated feed.
type SimulateConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Seed     int64         `mapstructure:"seed"`
}

// ChannelGatewayConfig configures one notification gateway.
type ChannelGatewayConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Sender  string        `mapstructure:"sender"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DispatchConfig defines retry policy and channel gateways.
type DispatchConfig struct {
	MaxRetries      int                  `mapstructure:"max_retries"`
	BackoffBase     time.Duration        `mapstructure:"backoff_base"`
	BackoffFactor   float64              `mapstructure:"backoff_factor"`
	StatusRetention time.Duration        `mapstructure:"status_retention"`
	SweepInterval   time.Duration        `mapstructure:"sweep_interval"`
	SMS             ChannelGatewayConfig `mapstructure:"sms"`
	WhatsApp        ChannelGatewayConfig `mapstructure:"whatsapp"`
	Email           ChannelGatewayConfig `mapstructure:"email"`
	Push            ChannelGatewayConfig `mapstructure:"push"`
}

// HTTPConfig governs the API listener.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MANDIALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mandialert")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("ingest.source", "simulate")
	v.SetDefault("ingest.kafka.topic", "mandi.ticks")
	v.SetDefault("ingest.kafka.group_id", "mandialert")
	v.SetDefault("ingest.simulate.interval", "30s")
	v.SetDefault("ingest.simulate.seed", int64(1))

	v.SetDefault("dispatch.max_retries", 2)
	v.SetDefault("dispatch.backoff_base", "1s")
	v.SetDefault("dispatch.backoff_factor", 2.0)
	v.SetDefault("dispatch.status_retention", "24h")
	v.SetDefault("dispatch.sweep_interval", "10m")
	for _, ch := range []string{"sms", "whatsapp", "email", "push"} {
		v.SetDefault("dispatch."+ch+".enabled", false)
		v.SetDefault("dispatch."+ch+".timeout", "10s")
	}

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Ingest.Source {
	case "kafka":
		if len(c.Ingest.Kafka.Brokers) == 0 {
			return fmt.Errorf("ingest.kafka.brokers must be set for the kafka source")
		}
		if c.Ingest.Kafka.Topic == "" {
			return fmt.Errorf("ingest.kafka.topic must be set for the kafka source")
		}
	case "simulate":
		if c.Ingest.Simulate.Interval <= 0 {
			return fmt.Errorf("ingest.simulate.interval must be greater than zero")
		}
	case "none":
	default:
		return fmt.Errorf("ingest.source must be one of kafka, simulate, none; got %q", c.Ingest.Source)
	}

	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries cannot be negative")
	}
	if c.Dispatch.BackoffBase <= 0 {
		return fmt.Errorf("dispatch.backoff_base must be greater than zero")
	}
	if c.Dispatch.BackoffFactor < 1 {
		return fmt.Errorf("dispatch.backoff_factor must be at least 1")
	}
	if c.Dispatch.SweepInterval <= 0 {
		return fmt.Errorf("dispatch.sweep_interval must be greater than zero")
	}
	if c.Dispatch.StatusRetention <= 0 {
		return fmt.Errorf("dispatch.status_retention must be greater than zero")
	}

	for _, gw := range []struct {
		name string
		cfg  ChannelGatewayConfig
	}{
		{"sms", c.Dispatch.SMS},
		{"whatsapp", c.Dispatch.WhatsApp},
		{"email", c.Dispatch.Email},
		{"push", c.Dispatch.Push},
	} {
		if gw.cfg.Enabled && gw.cfg.BaseURL == "" {
			return fmt.Errorf("dispatch.%s.base_url must be set when the channel is enabled", gw.name)
		}
	}

	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen must be set when the API is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
