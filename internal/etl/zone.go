package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// ZoneSyncer mirrors the full zone dimension on every run
type ZoneSyncer struct {
	api    API
	store  Store
	logger *logrus.Entry
}

// NewZoneSyncer creates a zone syncer
func NewZoneSyncer(api API, store Store, logger *logrus.Logger) *ZoneSyncer {
	return &ZoneSyncer{
		api:    api,
		store:  store,
		logger: logger.WithField("component", "zone-sync"),
	}
}

// Run fetches all zones and upserts them
func (s *ZoneSyncer) Run(ctx context.Context) (*EntityResult, error) {
	zones, err := s.api.GetZones(ctx)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to fetch zones: %w", err))
	}

	count, err := s.store.UpsertZones(ctx, zones)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to upsert zones: %w", err))
	}

	now := time.Now().UTC()
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceZone, &now, count); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to advance zone cursor: %w", err))
	}

	s.logger.WithField("processed", count).Info("Zone sync completed")
	return &EntityResult{Processed: count}, nil
}

func (s *ZoneSyncer) fail(ctx context.Context, cause error) error {
	if err := s.store.MarkSyncError(ctx, models.SourceZone, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark zone cursor error")
	}
	return cause
}
