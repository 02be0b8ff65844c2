package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "fleet", cfg.MySQL.Database)
	assert.Equal(t, 500, cfg.Sync.TripPageSize)
	assert.Equal(t, 50, cfg.Sync.TripMaxPages)
	assert.Equal(t, 25000, cfg.Sync.TripMaxRecords)
	assert.Equal(t, 10*time.Minute, cfg.Sync.LockTTL)
	assert.Equal(t, "https://my.geotab.com", cfg.Geotab.Server)
	assert.Equal(t, 100*time.Millisecond, cfg.Geotab.RateLimit)
	assert.False(t, cfg.InfluxDB.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MYSQL_DATABASE", "fleet_test")
	t.Setenv("SYNC_TRIP_PAGE_SIZE", "100")
	t.Setenv("SYNC_CURSOR_FALLBACK", "2020-06-01T00:00:00Z")
	t.Setenv("GEOTAB_SERVER", "https://alt.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "fleet_test", cfg.MySQL.Database)
	assert.Equal(t, 100, cfg.Sync.TripPageSize)
	assert.Equal(t, "https://alt.example.com", cfg.Geotab.Server)
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), cfg.CursorFallbackTime())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"missing mysql host", func(c *Config) { c.MySQL.Host = "" }, "MySQL host is required"},
		{"bad page size", func(c *Config) { c.Sync.TripPageSize = -1 }, "invalid trip page size"},
		{"bad max pages", func(c *Config) { c.Sync.TripMaxPages = 0 }, "invalid trip max pages"},
		{"bad fallback", func(c *Config) { c.Sync.CursorFallback = "yesterday" }, "invalid cursor fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	cfg := &Config{}
	cfg.MySQL = MySQLConfig{Host: "db", Port: 3306, Database: "fleet", User: "fleet", Password: "pw"}
	cfg.Redis = RedisConfig{Host: "cache", Port: 6379}
	cfg.Server = ServerConfig{Host: "0.0.0.0", Port: 8080}

	assert.Equal(t, "fleet:pw@tcp(db:3306)/fleet?parseTime=true&multiStatements=true", cfg.GetMySQLDSN())
	assert.Equal(t, "cache:6379", cfg.GetRedisAddr())
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}
