package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
)

// InfluxClient records per-run ETL measurements for dashboards
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *logrus.Entry
	cfg      *config.InfluxConfig
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0), // Silent - no logs
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger.WithField("component", "influxdb"),
		cfg:      cfg,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// WriteRunPoint writes one etl_run measurement per sync invocation
func (ic *InfluxClient) WriteRunPoint(ctx context.Context, run *models.RunLog) error {
	at := run.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	point := influxdb2.NewPoint(
		"etl_run",
		map[string]string{
			"status": run.Status,
		},
		map[string]interface{}{
			"records_inserted": run.RecordsInserted,
			"trips":            run.TripsCount,
			"devices":          run.DevicesCount,
			"users":            run.UsersCount,
			"zones":            run.ZonesCount,
			"rules":            run.RulesCount,
			"duration_ms":      run.Duration.Milliseconds(),
		},
		at,
	)

	if err := ic.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write run point: %w", err)
	}

	ic.logger.WithField("status", run.Status).Debug("Wrote run point")
	return nil
}
