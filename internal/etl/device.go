package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// DeviceSyncer mirrors the full device dimension on every run
type DeviceSyncer struct {
	api    API
	store  Store
	logger *logrus.Entry

	Limit int
}

// NewDeviceSyncer creates a device syncer
func NewDeviceSyncer(api API, store Store, limit int, logger *logrus.Logger) *DeviceSyncer {
	return &DeviceSyncer{
		api:    api,
		store:  store,
		logger: logger.WithField("component", "device-sync"),
		Limit:  limit,
	}
}

// Run fetches all devices and upserts them; the cursor records the sync
// time since reference data has no per-record watermark
func (s *DeviceSyncer) Run(ctx context.Context) (*EntityResult, error) {
	devices, err := s.api.GetDevices(ctx, s.Limit)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to fetch devices: %w", err))
	}

	count, err := s.store.UpsertDevices(ctx, devices)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to upsert devices: %w", err))
	}

	now := time.Now().UTC()
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceDevice, &now, count); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to advance device cursor: %w", err))
	}

	s.logger.WithField("processed", count).Info("Device sync completed")
	return &EntityResult{Processed: count}, nil
}

func (s *DeviceSyncer) fail(ctx context.Context, cause error) error {
	if err := s.store.MarkSyncError(ctx, models.SourceDevice, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark device cursor error")
	}
	return cause
}
