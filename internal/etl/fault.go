package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// FaultSyncer pulls fault-data events recorded since the stored watermark
// in a single bounded page. Fault rows are immutable events, so re-applied
// records are ignored rather than overwritten.
type FaultSyncer struct {
	api    API
	store  Store
	logger *logrus.Entry

	Limit    int
	Fallback time.Time
}

// NewFaultSyncer creates a fault syncer
func NewFaultSyncer(api API, store Store, limit int, fallback time.Time, logger *logrus.Logger) *FaultSyncer {
	return &FaultSyncer{
		api:      api,
		store:    store,
		logger:   logger.WithField("component", "fault-sync"),
		Limit:    limit,
		Fallback: fallback,
	}
}

// Run fetches and applies one page of fault events, then advances the
// cursor to the newest event time seen
func (s *FaultSyncer) Run(ctx context.Context) (*EntityResult, error) {
	from, err := s.store.GetSyncCursor(ctx, models.SourceFault, s.Fallback)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to read fault cursor: %w", err))
	}

	faults, err := s.api.GetFaults(ctx, from, s.Limit)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to fetch faults: %w", err))
	}

	count := 0
	if len(faults) > 0 {
		if count, err = s.store.InsertFaults(ctx, faults); err != nil {
			return nil, s.fail(ctx, fmt.Errorf("failed to insert faults: %w", err))
		}
	}

	maxSeen := maxFaultTime(faults)
	target := maxSeen
	if target == nil {
		// Nothing new; re-assert the previous watermark with this run's count
		target = &from
	}
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceFault, target, count); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to advance fault cursor: %w", err))
	}

	s.logger.WithFields(logrus.Fields{
		"from":     from.Format(time.RFC3339),
		"inserted": count,
	}).Info("Fault sync completed")

	return &EntityResult{Processed: count, FromDate: &from, ToDate: maxSeen}, nil
}

func (s *FaultSyncer) fail(ctx context.Context, cause error) error {
	if err := s.store.MarkSyncError(ctx, models.SourceFault, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark fault cursor error")
	}
	return cause
}
