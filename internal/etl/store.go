package etl

import (
	"context"
	"time"

	"github.com/fleet-etl/internal/geotab"
	"github.com/fleet-etl/pkg/models"
)

// Store is the persistence surface the syncers write through.
// *database.MySQLClient implements it; tests substitute an in-memory fake.
type Store interface {
	GetSyncCursor(ctx context.Context, source string, fallback time.Time) (time.Time, error)
	AdvanceSyncCursor(ctx context.Context, source string, last *time.Time, count int) error
	MarkSyncError(ctx context.Context, source string, cause error) error

	UpsertTrips(ctx context.Context, trips []geotab.Trip) (int, error)
	InsertFaults(ctx context.Context, faults []geotab.Fault) (int, error)
	UpsertDevices(ctx context.Context, devices []geotab.Device) (int, error)
	UpsertUsers(ctx context.Context, users []geotab.User) (int, error)
	UpsertZones(ctx context.Context, zones []geotab.Zone) (int, error)
	UpsertRules(ctx context.Context, rules []geotab.Rule) (int, error)

	InsertRunLog(ctx context.Context, run *models.RunLog) error
}

// API is the slice of the remote client the syncers depend on
type API interface {
	GetTrips(ctx context.Context, from time.Time, limit int) ([]geotab.Trip, error)
	GetFaults(ctx context.Context, from time.Time, limit int) ([]geotab.Fault, error)
	GetDevices(ctx context.Context, limit int) ([]geotab.Device, error)
	GetUsers(ctx context.Context, limit int) ([]geotab.User, error)
	GetZones(ctx context.Context) ([]geotab.Zone, error)
	GetRules(ctx context.Context) ([]geotab.Rule, error)
}

// Events publishes sync lifecycle notifications. May be nil when no broker
// is wired (one-shot CLI runs).
type Events interface {
	PublishSyncProgress(source string, processed, pages int) error
	PublishSyncComplete(source string, processed int, from time.Time, to *time.Time) error
	PublishSyncError(source, message string) error
}

// RunMetrics records one measurement point per completed run. May be nil.
type RunMetrics interface {
	WriteRunPoint(ctx context.Context, run *models.RunLog) error
}

// EntityResult is the outcome of one bounded entity sync
type EntityResult struct {
	Processed int        `json:"processed"`
	FromDate  *time.Time `json:"from_date,omitempty"`
	ToDate    *time.Time `json:"to_date,omitempty"`
}

// maxStopTime returns the newest trip end time in the page; trips without
// an end time do not contribute
func maxStopTime(trips []geotab.Trip) *time.Time {
	var max *time.Time
	for i := range trips {
		stop := trips[i].Stop
		if stop == nil {
			continue
		}
		if max == nil || stop.After(*max) {
			max = stop
		}
	}
	return max
}

// maxFaultTime returns the newest fault event time in the page
func maxFaultTime(faults []geotab.Fault) *time.Time {
	var max *time.Time
	for i := range faults {
		at := faults[i].DateTime
		if at == nil {
			continue
		}
		if max == nil || at.After(*max) {
			max = at
		}
	}
	return max
}
