package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// TripSyncer drains the trip backlog in bounded pages. Within one run the
// pages are fetched and applied strictly in cursor order; the cursor is
// advanced after each durable page so an aborted run resumes from the last
// good watermark at the cost of re-applying (idempotently) at most one page.
type TripSyncer struct {
	api    API
	store  Store
	events Events
	logger *logrus.Entry

	// PageSize is the per-fetch record limit; a short page signals exhaustion.
	PageSize int
	// MaxPages caps the number of fetches per invocation.
	MaxPages int
	// MaxRecords, when > 0, caps the cumulative records per invocation.
	MaxRecords int
	// Fallback is the cursor used when no watermark exists yet.
	Fallback time.Time
}

// TripResult summarizes one trip sync invocation
type TripResult struct {
	Processed int        `json:"processed"`
	Pages     int        `json:"pages"`
	FromDate  time.Time  `json:"from_date"`
	ToDate    *time.Time `json:"to_date,omitempty"`
}

// NewTripSyncer creates a trip syncer with the configured bounds
func NewTripSyncer(api API, store Store, events Events, cfg *config.SyncConfig, fallback time.Time, logger *logrus.Logger) *TripSyncer {
	return &TripSyncer{
		api:        api,
		store:      store,
		events:     events,
		logger:     logger.WithField("component", "trip-sync"),
		PageSize:   cfg.TripPageSize,
		MaxPages:   cfg.TripMaxPages,
		MaxRecords: cfg.TripMaxRecords,
		Fallback:   fallback,
	}
}

// Run executes the batch loop until the backlog is exhausted or a safety
// cap is reached, and appends one run log row with the outcome
func (s *TripSyncer) Run(ctx context.Context) (*TripResult, error) {
	start := time.Now()

	from, err := s.store.GetSyncCursor(ctx, models.SourceTrip, s.Fallback)
	if err != nil {
		res := &TripResult{}
		s.fail(ctx, res, start, fmt.Errorf("failed to read trip cursor: %w", err))
		return res, err
	}

	s.logger.WithField("from", from.Format(time.RFC3339)).Info("Starting trip sync")

	res := &TripResult{FromDate: from}
	cursor := from
	var maxSeen *time.Time

	for {
		page, err := s.api.GetTrips(ctx, cursor, s.PageSize)
		if err != nil {
			err = fmt.Errorf("failed to fetch trips: %w", err)
			s.fail(ctx, res, start, err)
			return res, err
		}
		res.Pages++

		if len(page) == 0 {
			break
		}

		if _, err := s.store.UpsertTrips(ctx, page); err != nil {
			err = fmt.Errorf("failed to apply trip page: %w", err)
			s.fail(ctx, res, start, err)
			return res, err
		}
		res.Processed += len(page)

		// Commit progress before deciding whether to continue; a crash after
		// this point resumes strictly after the last durable watermark
		if pageMax := maxStopTime(page); pageMax != nil {
			if maxSeen == nil || pageMax.After(*maxSeen) {
				maxSeen = pageMax
			}
			cursor = *maxSeen
			if err := s.store.AdvanceSyncCursor(ctx, models.SourceTrip, maxSeen, res.Processed); err != nil {
				err = fmt.Errorf("failed to advance trip cursor: %w", err)
				s.fail(ctx, res, start, err)
				return res, err
			}
		}

		s.publishProgress(res)

		if len(page) < s.PageSize {
			break
		}
		if res.Pages >= s.MaxPages {
			s.logger.WithFields(logrus.Fields{
				"pages":     res.Pages,
				"processed": res.Processed,
			}).Warn("Trip sync stopped at page safety cap")
			break
		}
		if s.MaxRecords > 0 && res.Processed >= s.MaxRecords {
			s.logger.WithFields(logrus.Fields{
				"processed": res.Processed,
				"limit":     s.MaxRecords,
			}).Warn("Trip sync stopped at record safety cap")
			break
		}
	}

	res.ToDate = maxSeen

	// The final upsert records the run count; a nil timestamp leaves the
	// stored watermark untouched
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceTrip, maxSeen, res.Processed); err != nil {
		err = fmt.Errorf("failed to finalize trip cursor: %w", err)
		s.fail(ctx, res, start, err)
		return res, err
	}

	duration := time.Since(start)
	s.logger.WithFields(logrus.Fields{
		"processed": res.Processed,
		"pages":     res.Pages,
		"duration":  duration.Milliseconds(),
	}).Info("Trip sync completed")

	runLog := &models.RunLog{
		Status:     models.RunStatusSuccess,
		TripsCount: res.Processed,
		FromDate:   &res.FromDate,
		ToDate:     res.ToDate,
		Duration:   duration,
		Raw: map[string]interface{}{
			"pages":     res.Pages,
			"processed": res.Processed,
		},
	}
	if err := s.store.InsertRunLog(ctx, runLog); err != nil {
		s.logger.WithError(err).Warn("Failed to append trip run log")
	}

	if s.events != nil {
		if err := s.events.PublishSyncComplete(models.SourceTrip, res.Processed, res.FromDate, res.ToDate); err != nil {
			s.logger.WithError(err).Warn("Failed to publish completion event")
		}
	}

	return res, nil
}

// fail records the error on the cursor row and in the run log; the failing
// page's writes stay in place and are safe to re-apply on the next run
func (s *TripSyncer) fail(ctx context.Context, res *TripResult, start time.Time, cause error) {
	s.logger.WithError(cause).WithFields(logrus.Fields{
		"processed": res.Processed,
		"pages":     res.Pages,
	}).Error("Trip sync failed")

	if err := s.store.MarkSyncError(ctx, models.SourceTrip, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark trip cursor error")
	}

	var fromDate *time.Time
	if !res.FromDate.IsZero() {
		fromDate = &res.FromDate
	}

	runLog := &models.RunLog{
		Status:       models.RunStatusError,
		ErrorMessage: cause.Error(),
		FromDate:     fromDate,
		Duration:     time.Since(start),
		Raw: map[string]interface{}{
			"pages":     res.Pages,
			"processed": res.Processed,
		},
	}
	if err := s.store.InsertRunLog(ctx, runLog); err != nil {
		s.logger.WithError(err).Warn("Failed to append trip run log")
	}

	if s.events != nil {
		if err := s.events.PublishSyncError(models.SourceTrip, cause.Error()); err != nil {
			s.logger.WithError(err).Warn("Failed to publish error event")
		}
	}
}

func (s *TripSyncer) publishProgress(res *TripResult) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSyncProgress(models.SourceTrip, res.Processed, res.Pages); err != nil {
		s.logger.WithError(err).Warn("Failed to publish progress event")
	}
}
