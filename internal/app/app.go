package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/internal/api"
	apiHandlers "github.com/fleet-etl/internal/api/handlers"
	"github.com/fleet-etl/internal/cache"
	"github.com/fleet-etl/internal/database"
	"github.com/fleet-etl/internal/etl"
	"github.com/fleet-etl/internal/geotab"
	"github.com/fleet-etl/internal/messaging"
	"github.com/fleet-etl/pkg/config"
)

// App represents the main application
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Connections
	mysqlDB    *database.MySQLClient
	influxDB   *database.InfluxClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	geotabAPI  *geotab.Client

	// ETL components
	tripSyncer   *etl.TripSyncer
	orchestrator *etl.Orchestrator
	apiServer    *api.Server
}

// New creates a new application instance
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (a *App) Initialize() error {
	if err := a.initializeDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initializeCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := a.initializeMessaging(); err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}

	a.initializeETL()
	a.initializeAPIServer()

	return nil
}

// Start starts the application
func (a *App) Start() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil {
			if err != http.ErrServerClosed {
				a.logger.WithError(err).Error("API server error")
			}
		}
	}()

	return nil
}

// Stop gracefully stops the application
func (a *App) Stop() error {
	a.logger.Info("Stopping application...")

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All goroutines stopped")
	case <-time.After(3 * time.Second):
		a.logger.Warn("Timeout waiting for goroutines to finish")
	}

	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.apiServer.Stop(ctx); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
		cancel()
	}

	if err := a.closeConnections(); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}

	a.logger.Info("Application stopped successfully")
	return nil
}

// Orchestrator exposes the entity sync orchestrator for one-shot runs
func (a *App) Orchestrator() *etl.Orchestrator {
	return a.orchestrator
}

// TripSyncer exposes the trip syncer for one-shot runs
func (a *App) TripSyncer() *etl.TripSyncer {
	return a.tripSyncer
}

// Private initialization methods

func (a *App) initializeDatabase() error {
	mysqlClient, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	a.mysqlDB = mysqlClient

	if a.cfg.InfluxDB.Enabled {
		a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)

		if err := a.influxDB.Health(a.ctx); err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
	}

	return nil
}

func (a *App) initializeCache() error {
	redisClient, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.redisCache = redisClient

	return nil
}

func (a *App) initializeMessaging() error {
	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.natsClient = natsClient

	return nil
}

func (a *App) initializeETL() {
	a.geotabAPI = geotab.NewClient(&a.cfg.Geotab, a.logger)

	fallback := a.cfg.CursorFallbackTime()

	// The metrics sink stays nil unless InfluxDB is enabled; the syncers
	// tolerate nil events and metrics
	var metrics etl.RunMetrics
	if a.influxDB != nil {
		metrics = a.influxDB
	}

	a.tripSyncer = etl.NewTripSyncer(a.geotabAPI, a.mysqlDB, a.natsClient, &a.cfg.Sync, fallback, a.logger)
	a.orchestrator = etl.NewOrchestrator(a.geotabAPI, a.mysqlDB, a.natsClient, metrics, &a.cfg.Sync, fallback, a.logger)
}

func (a *App) initializeAPIServer() {
	syncHandler := apiHandlers.NewSyncHandler(
		a.tripSyncer,
		a.orchestrator,
		a.redisCache,
		a.redisCache,
		a.mysqlDB,
		a.cfg.Sync.LockTTL,
		a.logger,
	)

	a.apiServer = api.NewServer(
		a.cfg,
		a.logger,
		a.mysqlDB,
		a.redisCache,
		a.natsClient,
		syncHandler,
	)
}

func (a *App) closeConnections() error {
	var errs []error

	if a.mysqlDB != nil {
		if err := a.mysqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MySQL: %w", err))
		}
	}

	if a.influxDB != nil {
		a.influxDB.Close()
	}

	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close NATS: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	return nil
}
