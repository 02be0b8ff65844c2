package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig  `env:", prefix=SERVER_"`
	MySQL    MySQLConfig   `env:", prefix=MYSQL_"`
	Redis    RedisConfig   `env:", prefix=REDIS_"`
	NATS     NATSConfig    `env:", prefix=NATS_"`
	InfluxDB InfluxConfig  `env:", prefix=INFLUXDB_"`
	Geotab   GeotabConfig  `env:", prefix=GEOTAB_"`
	Sync     SyncConfig    `env:", prefix=SYNC_"`
	Logging  LoggingConfig `env:", prefix=LOG_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=10m"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=fleet"`
	User            string        `env:"USER, default=fleet"`
	Password        string        `env:"PASSWORD, default=fleet123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
}

// InfluxConfig holds InfluxDB configuration for run metrics
type InfluxConfig struct {
	Enabled bool          `env:"ENABLED, default=false"`
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=fleet-org"`
	Bucket  string        `env:"BUCKET, default=fleet-etl"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// GeotabConfig holds remote vehicle-tracking API configuration
type GeotabConfig struct {
	Server    string        `env:"SERVER, default=https://my.geotab.com"`
	Database  string        `env:"DATABASE"`
	Username  string        `env:"USERNAME"`
	Password  string        `env:"PASSWORD"`
	Timeout   time.Duration `env:"TIMEOUT, default=30s"`
	RateLimit time.Duration `env:"RATE_LIMIT, default=100ms"`
}

// SyncConfig holds batch-sync tuning
type SyncConfig struct {
	TripPageSize   int           `env:"TRIP_PAGE_SIZE, default=500"`
	TripMaxPages   int           `env:"TRIP_MAX_PAGES, default=50"`
	TripMaxRecords int           `env:"TRIP_MAX_RECORDS, default=25000"`
	ReferenceLimit int           `env:"REFERENCE_LIMIT, default=10000"`
	CursorFallback string        `env:"CURSOR_FALLBACK, default=2000-01-01T00:00:00Z"`
	LockTTL        time.Duration `env:"LOCK_TTL, default=10m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	if c.Sync.TripPageSize <= 0 {
		return fmt.Errorf("invalid trip page size: %d", c.Sync.TripPageSize)
	}

	if c.Sync.TripMaxPages <= 0 {
		return fmt.Errorf("invalid trip max pages: %d", c.Sync.TripMaxPages)
	}

	if _, err := time.Parse(time.RFC3339, c.Sync.CursorFallback); err != nil {
		return fmt.Errorf("invalid cursor fallback timestamp %q: %w", c.Sync.CursorFallback, err)
	}

	return nil
}

// CursorFallbackTime returns the configured cursor fallback as a time.Time.
// Validate guarantees it parses.
func (c *Config) CursorFallbackTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Sync.CursorFallback)
	return t
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
