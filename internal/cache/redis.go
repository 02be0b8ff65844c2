package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
)

const (
	runLockKey = "etl:lock:sync"
	lastRunKey = "etl:last_run"
)

// RedisClient coordinates concurrent sync triggers and caches the last
// run summary for the status endpoint
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	cfg    *config.RedisConfig
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		cfg:    cfg,
	}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Run lock operations

// AcquireRunLock takes the single sync lock. Returns false when another
// run already holds it. The TTL guards against a crashed holder.
func (rc *RedisClient) AcquireRunLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := rc.client.SetNX(ctx, runLockKey, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock drops the sync lock
func (rc *RedisClient) ReleaseRunLock(ctx context.Context) error {
	if err := rc.client.Del(ctx, runLockKey).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Last run operations

// SetLastRun caches the most recent run summary
func (rc *RedisClient) SetLastRun(ctx context.Context, summary *models.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if err := rc.client.Set(ctx, lastRunKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to cache run summary: %w", err)
	}
	return nil
}

// GetLastRun returns the cached run summary, or nil when no run has been
// recorded since the cache was last flushed
func (rc *RedisClient) GetLastRun(ctx context.Context) (*models.RunSummary, error) {
	data, err := rc.client.Get(ctx, lastRunKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run summary: %w", err)
	}

	var summary models.RunSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &summary, nil
}
