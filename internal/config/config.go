package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/logging"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Source     SourceConfig     `mapstructure:"source"`
	Session    SessionConfig    `mapstructure:"session"`
	Buckets    BucketsConfig    `mapstructure:"buckets"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Server     ServerConfig     `mapstructure:"server"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Export     ExportConfig     `mapstructure:"export"`
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
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// SourceConfig picks where session snapshots come from.
type SourceConfig struct {
	Kind      string `mapstructure:"kind"`
	Directory string `mapstructure:"directory"`
}

// SessionConfig governs snapshot loading.
type SessionConfig struct {
	RefreshInterval time.Duration  `mapstructure:"refresh_interval"`
	Filter          records.Filter `mapstructure:"filter"`
}

// TableConfig describes one bucket table. The last bound omits upper.
type TableConfig struct {
	Floor  float64        `mapstructure:"floor"`
	Bounds []bucket.Bound `mapstructure:"bounds"`
}

// BucketsConfig overrides the stock bucket tables. Empty tables keep defaults.
type BucketsConfig struct {
	Coarse    TableConfig `mapstructure:"coarse"`
	Groupwise TableConfig `mapstructure:"groupwise"`
	Expanded  TableConfig `mapstructure:"expanded"`
}

// ProjectionConfig tunes the dashboard.
type ProjectionConfig struct {
	Mode               string   `mapstructure:"mode"`
	TopN               int      `mapstructure:"top_n"`
	AttentionThreshold float64  `mapstructure:"attention_threshold"`
	Currencies         []string `mapstructure:"currencies"`
}

// ThresholdsConfig holds threshold lookup settings.
type ThresholdsConfig struct {
	// Groups maps a currency to its threshold group, e.g. EUR: G10.
	Groups map[string]string `mapstructure:"groups"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// NotifyConfig defines where simulation digests go.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram digest channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets export behaviour.
type ExportConfig struct {
	Directory     string `mapstructure:"directory"`
	DefaultFormat string `mapstructure:"default_format"`
}

// Load builds configuration from file, environment, and defaults. A .env file
// in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FXMON")
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
	v.SetDefault("app.name", "fxmon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.query_timeout", "30s")

	v.SetDefault("source.kind", "files")
	v.SetDefault("source.directory", "data")

	v.SetDefault("session.refresh_interval", "0s")

	v.SetDefault("projection.mode", string(projection.Simplified))
	v.SetDefault("projection.top_n", projection.DefaultTopN)
	v.SetDefault("projection.attention_threshold", 1.5)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "10s")

	v.SetDefault("export.directory", "exports")
	v.SetDefault("export.default_format", "csv")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02"),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when source.kind is postgres")
		}
	case "files":
		if c.Source.Directory == "" {
			return fmt.Errorf("source.directory is required when source.kind is files")
		}
	default:
		return fmt.Errorf("source.kind must be postgres or files, got %q", c.Source.Kind)
	}
	if c.Session.RefreshInterval < 0 {
		return fmt.Errorf("session.refresh_interval cannot be negative")
	}
	if _, err := projection.ParseMode(c.Projection.Mode); err != nil {
		return fmt.Errorf("projection.mode: %w", err)
	}
	if c.Projection.TopN <= 0 {
		return fmt.Errorf("projection.top_n must be greater than zero")
	}
	if c.Projection.AttentionThreshold < 0 {
		return fmt.Errorf("projection.attention_threshold cannot be negative")
	}
	if _, err := c.ProjectionOptions(); err != nil {
		return err
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required")
		}
	}
	return nil
}

// ProjectionOptions resolves the dashboard options, building any configured
// bucket tables.
func (c *Config) ProjectionOptions() (projection.Options, error) {
	opts := projection.DefaultOptions()

	mode, err := projection.ParseMode(c.Projection.Mode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	opts.TopN = c.Projection.TopN
	opts.AttentionThreshold = c.Projection.AttentionThreshold
	opts.Currencies = c.Projection.Currencies

	tables := []struct {
		name string
		cfg  TableConfig
		dst  *bucket.Table
	}{
		{"coarse", c.Buckets.Coarse, &opts.Histogram},
		{"groupwise", c.Buckets.Groupwise, &opts.Groupwise},
		{"expanded", c.Buckets.Expanded, &opts.Expanded},
	}
	for _, t := range tables {
		if len(t.cfg.Bounds) == 0 {
			continue
		}
		table, err := bucket.FromConfig(t.name, t.cfg.Floor, t.cfg.Bounds)
		if err != nil {
			return opts, fmt.Errorf("buckets.%s: %w", t.name, err)
		}
		*t.dst = table
	}
	return opts, nil
}
