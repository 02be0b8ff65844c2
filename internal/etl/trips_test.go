package etl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

var testFallback = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTripSyncer(api API, store Store, pageSize, maxPages int) *TripSyncer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cfg := &config.SyncConfig{
		TripPageSize: pageSize,
		TripMaxPages: maxPages,
	}
	return NewTripSyncer(api, store, nil, cfg, testFallback, logger)
}

func seedTrips(api *fakeAPI, n int, base time.Time) {
	for i := 0; i < n; i++ {
		api.trips = append(api.trips, tripAt(fmt.Sprintf("t%04d", i), base.Add(time.Duration(i)*time.Minute)))
	}
}

func TestTripSyncDrainsBacklogInPages(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 1200, base)

	syncer := newTestTripSyncer(api, store, 500, 50)
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1200, res.Processed)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, api.tripCalls)
	assert.Len(t, store.trips, 1200)

	// The watermark lands on the newest end time seen
	row := store.cursor(models.SourceTrip)
	require.NotNil(t, row)
	require.NotNil(t, row.last)
	assert.Equal(t, base.Add(1199*time.Minute), *row.last)
	assert.Equal(t, 1200, row.count)
	assert.Empty(t, row.lastErr)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, models.RunStatusSuccess, store.runLogs[0].Status)
	assert.Equal(t, 1200, store.runLogs[0].TripsCount)
}

func TestTripSyncEmptyBacklog(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()

	syncer := newTestTripSyncer(api, store, 500, 50)
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, testFallback, res.FromDate)
	assert.Nil(t, res.ToDate)

	// A run with no new records never writes a watermark
	row := store.cursor(models.SourceTrip)
	require.NotNil(t, row)
	assert.Nil(t, row.last)
	assert.Equal(t, 0, row.count)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, models.RunStatusSuccess, store.runLogs[0].Status)
}

func TestTripSyncResumesFromStoredCursor(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 10, base)
	store.setCursor(models.SourceTrip, base.Add(4*time.Minute))

	syncer := newTestTripSyncer(api, store, 500, 50)
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, base.Add(4*time.Minute), res.FromDate)
	assert.NotContains(t, store.trips, "t0004")
	assert.Contains(t, store.trips, "t0005")
}

func TestTripSyncStopsAtPageCap(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 20, base)

	syncer := newTestTripSyncer(api, store, 2, 3)
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, res.Processed)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, api.tripCalls)

	// The cap leaves a resumable watermark behind
	row := store.cursor(models.SourceTrip)
	require.NotNil(t, row.last)
	assert.Equal(t, base.Add(5*time.Minute), *row.last)
}

func TestTripSyncStopsAtRecordCap(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 20, base)

	syncer := newTestTripSyncer(api, store, 2, 50)
	syncer.MaxRecords = 4
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 2, res.Pages)
}

func TestTripSyncMidRunFailureKeepsDurablePages(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 6, base)
	store.failTripUpsertOnCall = 2

	syncer := newTestTripSyncer(api, store, 2, 50)
	_, err := syncer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply trip page")

	// Page one is durable and its watermark survives the failure
	assert.Len(t, store.trips, 2)
	row := store.cursor(models.SourceTrip)
	require.NotNil(t, row.last)
	assert.Equal(t, base.Add(1*time.Minute), *row.last)
	assert.NotEmpty(t, row.lastErr)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, models.RunStatusError, store.runLogs[0].Status)
	assert.NotEmpty(t, store.runLogs[0].ErrorMessage)
}

func TestTripSyncFetchFailureMarksCursor(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	api.failTripFetchOnCall = 1

	syncer := newTestTripSyncer(api, store, 500, 50)
	_, err := syncer.Run(context.Background())
	require.Error(t, err)

	row := store.cursor(models.SourceTrip)
	require.NotNil(t, row)
	assert.NotEmpty(t, row.lastErr)
	assert.Nil(t, row.last)

	require.Len(t, store.runLogs, 1)
	assert.Equal(t, models.RunStatusError, store.runLogs[0].Status)
}

func TestTripSyncRerunAfterFailureIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	store := newFakeStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedTrips(api, 6, base)
	store.failTripUpsertOnCall = 2

	syncer := newTestTripSyncer(api, store, 2, 50)
	_, err := syncer.Run(context.Background())
	require.Error(t, err)

	// The retry picks up after the last durable page and heals the cursor
	res, err := syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Len(t, store.trips, 6)

	row := store.cursor(models.SourceTrip)
	assert.Empty(t, row.lastErr)
	assert.Equal(t, base.Add(5*time.Minute), *row.last)
}
