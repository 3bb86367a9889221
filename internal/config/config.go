// Package config loads appbot's settings from flags, an optional config file
// and the environment through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/appbot/internal/bot"
	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/store"
)

// EnvPrefix is prepended to every environment variable, APPBOT_STORE_DSN for
// store.dsn.
const EnvPrefix = "APPBOT"

// Store driver names accepted in store.driver besides the store package's own.
const (
	DriverAuto = "auto"
	DriverNone = "none"
)

// legacyEnv are the variable names the bot was deployed with before the
// APPBOT_ prefix existed.
var legacyEnv = map[string]string{
	"store.dsn":        "DATABASE_URL",
	"download.api_url": "API_URL",
	"pairing.phone":    "PHONE_NUMBER",
}

// Config is the decoded configuration.
type Config struct {
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Download  DownloadConfig  `mapstructure:"download"`
	Store     StoreConfig     `mapstructure:"store"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Events    EventsConfig    `mapstructure:"events"`
	Bot       BotConfig       `mapstructure:"bot"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Pairing   PairingConfig   `mapstructure:"pairing"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BridgeConfig locates the WhatsApp bridge sidecar.
type BridgeConfig struct {
	// Address is ws://, wss://, unix:// or a bare socket path.
	Address string `mapstructure:"address"`
}

// CatalogConfig locates the catalog sidecar.
type CatalogConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DownloadConfig drives the download pipeline.
type DownloadConfig struct {
	APIURL         string `mapstructure:"api_url"`
	SpoolDir       string `mapstructure:"spool_dir"`
	FallbackScript string `mapstructure:"fallback_script"`
	FallbackDir    string `mapstructure:"fallback_dir"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ValkeyConfig enables the shared identifier mirror when Address is set.
type ValkeyConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// EventsConfig enables NATS publishing when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// BotConfig holds the conversation settings.
type BotConfig struct {
	Developers   []string `mapstructure:"developers"`
	VIPPassword  string   `mapstructure:"vip_password"`
	Instagram    string   `mapstructure:"instagram"`
	RepliesPath  string   `mapstructure:"replies_path"`
	HistoryLimit int      `mapstructure:"history_limit"`
}

// LimitsConfig tunes abuse protection.
type LimitsConfig struct {
	Hourly int `mapstructure:"hourly"`
	Burst  int `mapstructure:"burst"`
}

// PairingConfig is used when the bridge has no credentials yet.
type PairingConfig struct {
	Phone string `mapstructure:"phone"`
}

// PacingConfig toggles the typing simulation.
type PacingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AssetsConfig locates the bot's profile image.
type AssetsConfig struct {
	ProfilePath string `mapstructure:"profile_path"`
	ProfileURL  string `mapstructure:"profile_url"`
}

// CleanupConfig schedules the janitors.
type CleanupConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// ReconnectConfig bounds the random delay before redialing the bridge.
type ReconnectConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig builds the slog handler.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bridge.address", "unix:///run/appbot/bridge.sock")
	v.SetDefault("catalog.url", "http://127.0.0.1:8001")
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("download.api_url", "http://localhost:8000")
	v.SetDefault("download.spool_dir", "/var/lib/appbot/spool")
	v.SetDefault("download.fallback_script", "scrap.py")
	v.SetDefault("download.fallback_dir", ".")
	v.SetDefault("store.driver", DriverAuto)
	v.SetDefault("store.dsn", "appbot.db")
	v.SetDefault("valkey.address", "")
	v.SetDefault("valkey.password", "")
	v.SetDefault("valkey.ttl", identity.DefaultMapTTL)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "appbot")
	v.SetDefault("bot.developers", moderation.DefaultDevelopers)
	v.SetDefault("bot.vip_password", bot.DefaultVIPPassword)
	v.SetDefault("bot.instagram", bot.DefaultInstagram)
	v.SetDefault("bot.replies_path", "")
	v.SetDefault("bot.history_limit", 10)
	v.SetDefault("limits.hourly", 25)
	v.SetDefault("limits.burst", 5)
	v.SetDefault("pairing.phone", "")
	v.SetDefault("pacing.enabled", true)
	v.SetDefault("assets.profile_path", "assets/profile.jpg")
	v.SetDefault("assets.profile_url", "")
	v.SetDefault("cleanup.interval", 10*time.Minute)
	v.SetDefault("cleanup.max_age", 30*time.Minute)
	v.SetDefault("reconnect.min", 6*time.Second)
	v.SetDefault("reconnect.max", 15*time.Second)
	v.SetDefault("shutdown.timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
}

// BindEnv maps APPBOT_SECTION_KEY variables onto keys and binds the legacy
// names. Prefixed variables win over legacy ones.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", legacy, err)
		}
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Pairing.Phone = identity.Digits(c.Pairing.Phone)
	var devs []string
	for _, d := range c.Bot.Developers {
		if d = strings.TrimSpace(d); d != "" {
			devs = append(devs, d)
		}
	}
	c.Bot.Developers = devs
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Bridge.Address == "" {
		errs = append(errs, errors.New("bridge.address is required"))
	}
	if c.Catalog.URL == "" {
		errs = append(errs, errors.New("catalog.url is required"))
	}
	if c.Download.APIURL == "" {
		errs = append(errs, errors.New("download.api_url is required"))
	}
	if c.Download.SpoolDir == "" {
		errs = append(errs, errors.New("download.spool_dir is required"))
	}
	switch c.Store.Driver {
	case DriverAuto, DriverNone, store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of auto, none, sqlite, postgres", c.Store.Driver))
	}
	if c.StoreDriver() != store.DriverNone && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required unless store.driver is none"))
	}
	if c.Pairing.Phone != "" && !identity.ValidPhone(c.Pairing.Phone) {
		errs = append(errs, fmt.Errorf("pairing.phone %q must have 10 to 15 digits", c.Pairing.Phone))
	}
	if c.Limits.Hourly <= 0 || c.Limits.Burst <= 0 {
		errs = append(errs, errors.New("limits.hourly and limits.burst must be positive"))
	}
	if c.Reconnect.Min < 0 || c.Reconnect.Max < c.Reconnect.Min {
		errs = append(errs, errors.New("reconnect.min must be non-negative and not above reconnect.max"))
	}
	if c.Cleanup.Interval <= 0 || c.Cleanup.MaxAge <= 0 {
		errs = append(errs, errors.New("cleanup.interval and cleanup.max_age must be positive"))
	}
	return errors.Join(errs...)
}

// StoreDriver resolves the store package driver name. In auto mode a
// postgres URL selects postgres and anything else is a SQLite path.
func (c *Config) StoreDriver() string {
	switch c.Store.Driver {
	case DriverNone:
		return store.DriverNone
	case DriverAuto, "":
		if strings.HasPrefix(c.Store.DSN, "postgres://") || strings.HasPrefix(c.Store.DSN, "postgresql://") {
			return store.DriverPostgres
		}
		if c.Store.DSN == "" {
			return store.DriverNone
		}
		return store.DriverSQLite
	default:
		return c.Store.Driver
	}
}
