package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/config"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/store"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, config.BindEnv(v))
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "unix:///run/appbot/bridge.sock", cfg.Bridge.Address)
	assert.Equal(t, moderation.DefaultDevelopers, cfg.Bot.Developers)
	assert.Equal(t, "Omar", cfg.Bot.VIPPassword)
	assert.Equal(t, 25, cfg.Limits.Hourly)
	assert.Equal(t, 5, cfg.Limits.Burst)
	assert.True(t, cfg.Pacing.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.MaxAge)
	assert.Equal(t, 6*time.Second, cfg.Reconnect.Min)
	assert.Equal(t, 15*time.Second, cfg.Reconnect.Max)
	assert.Equal(t, store.DriverSQLite, cfg.StoreDriver())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APPBOT_BRIDGE_ADDRESS", "ws://bridge:8080/rpc")
	t.Setenv("APPBOT_BOT_DEVELOPERS", "212600000001,212600000002")
	t.Setenv("APPBOT_PACING_ENABLED", "false")
	t.Setenv("APPBOT_RECONNECT_MAX", "20s")
	t.Setenv("APPBOT_LIMITS_HOURLY", "40")

	cfg, err := config.Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "ws://bridge:8080/rpc", cfg.Bridge.Address)
	assert.Equal(t, []string{"212600000001", "212600000002"}, cfg.Bot.Developers)
	assert.False(t, cfg.Pacing.Enabled)
	assert.Equal(t, 20*time.Second, cfg.Reconnect.Max)
	assert.Equal(t, 40, cfg.Limits.Hourly)
}

func TestLegacyEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bot:secret@db:5432/bot?sslmode=disable")
	t.Setenv("API_URL", "http://downloader:9000")
	t.Setenv("PHONE_NUMBER", "+212 600 000 009")

	cfg, err := config.Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, store.DriverPostgres, cfg.StoreDriver())
	assert.Equal(t, "http://downloader:9000", cfg.Download.APIURL)
	assert.Equal(t, "212600000009", cfg.Pairing.Phone)

	t.Setenv("APPBOT_DOWNLOAD_API_URL", "http://preferred:9000")
	cfg, err = config.Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "http://preferred:9000", cfg.Download.APIURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: none
bot:
  developers: ["212611111111"]
  vip_password: secret
logging:
  level: debug
  format: json
`), 0o600))

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, store.DriverNone, cfg.StoreDriver())
	assert.Equal(t, []string{"212611111111"}, cfg.Bot.Developers)
	assert.Equal(t, "secret", cfg.Bot.VIPPassword)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "no bridge", mutate: func(c *config.Config) { c.Bridge.Address = "" }, wantErr: "bridge.address"},
		{name: "bad driver", mutate: func(c *config.Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "sqlite without path", mutate: func(c *config.Config) {
			c.Store.Driver = store.DriverSQLite
			c.Store.DSN = ""
		}, wantErr: "store.dsn"},
		{name: "short pairing phone", mutate: func(c *config.Config) { c.Pairing.Phone = "12345" }, wantErr: "pairing.phone"},
		{name: "limits", mutate: func(c *config.Config) { c.Limits.Burst = 0 }, wantErr: "limits"},
		{name: "reconnect range", mutate: func(c *config.Config) { c.Reconnect.Min = time.Minute }, wantErr: "reconnect.min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(newViper(t))
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStoreDriver(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{config.DriverAuto, "postgresql://db/bot", store.DriverPostgres},
		{config.DriverAuto, "/data/bot.db", store.DriverSQLite},
		{config.DriverAuto, "", store.DriverNone},
		{config.DriverNone, "/data/bot.db", store.DriverNone},
		{store.DriverSQLite, "postgres://db/bot", store.DriverSQLite},
	}
	for _, tt := range tests {
		c := config.Config{Store: config.StoreConfig{Driver: tt.driver, DSN: tt.dsn}}
		assert.Equal(t, tt.want, c.StoreDriver(), "%s %s", tt.driver, tt.dsn)
	}
}
