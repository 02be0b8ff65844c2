package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleet-etl/internal/etl"
	"github.com/fleet-etl/internal/geotab"
	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
)

type stubLocker struct {
	acquired bool
	busy     bool
	released bool
}

func (l *stubLocker) AcquireRunLock(ctx context.Context, ttl time.Duration) (bool, error) {
	l.acquired = true
	return !l.busy, nil
}

func (l *stubLocker) ReleaseRunLock(ctx context.Context) error {
	l.released = true
	return nil
}

type stubCache struct {
	summary *models.RunSummary
}

func (c *stubCache) SetLastRun(ctx context.Context, summary *models.RunSummary) error {
	c.summary = summary
	return nil
}

func (c *stubCache) GetLastRun(ctx context.Context) (*models.RunSummary, error) {
	return c.summary, nil
}

type stubStatusStore struct {
	cursors []*models.SyncCursor
	lastRun *models.RunSummary
}

func (s *stubStatusStore) ListSyncCursors(ctx context.Context) ([]*models.SyncCursor, error) {
	return s.cursors, nil
}

func (s *stubStatusStore) GetLastRun(ctx context.Context) (*models.RunSummary, error) {
	return s.lastRun, nil
}

// tripStore implements just enough of the persistence surface for a
// handler-driven trip run
type tripStore struct {
	trips   int
	runLogs int
}

func (s *tripStore) GetSyncCursor(ctx context.Context, source string, fallback time.Time) (time.Time, error) {
	return fallback, nil
}
func (s *tripStore) AdvanceSyncCursor(ctx context.Context, source string, last *time.Time, count int) error {
	return nil
}
func (s *tripStore) MarkSyncError(ctx context.Context, source string, cause error) error { return nil }
func (s *tripStore) UpsertTrips(ctx context.Context, trips []geotab.Trip) (int, error) {
	s.trips += len(trips)
	return len(trips), nil
}
func (s *tripStore) InsertFaults(ctx context.Context, faults []geotab.Fault) (int, error) {
	return 0, nil
}
func (s *tripStore) UpsertDevices(ctx context.Context, devices []geotab.Device) (int, error) {
	return 0, nil
}
func (s *tripStore) UpsertUsers(ctx context.Context, users []geotab.User) (int, error) {
	return 0, nil
}
func (s *tripStore) UpsertZones(ctx context.Context, zones []geotab.Zone) (int, error) {
	return 0, nil
}
func (s *tripStore) UpsertRules(ctx context.Context, rules []geotab.Rule) (int, error) {
	return 0, nil
}
func (s *tripStore) InsertRunLog(ctx context.Context, run *models.RunLog) error {
	s.runLogs++
	return nil
}

type tripAPI struct {
	trips []geotab.Trip
	calls []int
}

func (a *tripAPI) GetTrips(ctx context.Context, from time.Time, limit int) ([]geotab.Trip, error) {
	a.calls = append(a.calls, limit)
	var page []geotab.Trip
	for _, t := range a.trips {
		if t.Stop == nil || !t.Stop.After(from) {
			continue
		}
		page = append(page, t)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}
func (a *tripAPI) GetFaults(ctx context.Context, from time.Time, limit int) ([]geotab.Fault, error) {
	return nil, nil
}
func (a *tripAPI) GetDevices(ctx context.Context, limit int) ([]geotab.Device, error) {
	return nil, nil
}
func (a *tripAPI) GetUsers(ctx context.Context, limit int) ([]geotab.User, error) { return nil, nil }
func (a *tripAPI) GetZones(ctx context.Context) ([]geotab.Zone, error)            { return nil, nil }
func (a *tripAPI) GetRules(ctx context.Context) ([]geotab.Rule, error)            { return nil, nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newRouterFor(h *SyncHandler) *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func TestHandleStatusPrefersCachedSummary(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := &stubCache{summary: &models.RunSummary{Status: models.RunStatusSuccess, Trips: 42}}
	store := &stubStatusStore{
		cursors: []*models.SyncCursor{
			{Source: models.SourceTrip, LastTimestamp: &at, RecordsCount: 42},
		},
		lastRun: &models.RunSummary{Status: models.RunStatusError},
	}

	h := NewSyncHandler(&etl.TripSyncer{}, nil, nil, cache, store, time.Minute, quietLogger())
	router := newRouterFor(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LastRun *models.RunSummary   `json:"last_run"`
		Cursors []*models.SyncCursor `json:"cursors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.LastRun)
	assert.Equal(t, models.RunStatusSuccess, body.LastRun.Status)
	assert.Equal(t, 42, body.LastRun.Trips)
	require.Len(t, body.Cursors, 1)
	assert.Equal(t, models.SourceTrip, body.Cursors[0].Source)
}

func TestHandleStatusFallsBackToStore(t *testing.T) {
	store := &stubStatusStore{
		lastRun: &models.RunSummary{Status: models.RunStatusSuccess, Devices: 7},
	}

	h := NewSyncHandler(&etl.TripSyncer{}, nil, nil, &stubCache{}, store, time.Minute, quietLogger())
	router := newRouterFor(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LastRun *models.RunSummary `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.LastRun)
	assert.Equal(t, 7, body.LastRun.Devices)
}

func TestHandleSyncTripsRunsWithOverrides(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &tripAPI{}
	for i := 0; i < 5; i++ {
		stop := base.Add(time.Duration(i) * time.Minute)
		api.trips = append(api.trips, geotab.Trip{ID: string(rune('a' + i)), Stop: &stop})
	}
	store := &tripStore{}
	cache := &stubCache{}
	locker := &stubLocker{}

	cfg := &config.SyncConfig{TripPageSize: 500, TripMaxPages: 50}
	trips := etl.NewTripSyncer(api, store, nil, cfg, base.Add(-time.Hour), quietLogger())

	h := NewSyncHandler(trips, nil, locker, cache, &stubStatusStore{}, time.Minute, quietLogger())
	router := newRouterFor(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trips?page_size=2&max_pages=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// The override runs two pages of two without touching the shared syncer
	assert.Equal(t, 4, store.trips)
	assert.Equal(t, []int{2, 2}, api.calls)
	assert.Equal(t, 500, trips.PageSize)

	assert.True(t, locker.acquired)
	assert.True(t, locker.released)
	require.NotNil(t, cache.summary)
	assert.Equal(t, models.RunStatusSuccess, cache.summary.Status)
	assert.Equal(t, 4, cache.summary.Trips)
}

func TestHandleSyncTripsRejectsBadOverrides(t *testing.T) {
	h := NewSyncHandler(&etl.TripSyncer{}, nil, nil, nil, &stubStatusStore{}, time.Minute, quietLogger())
	router := newRouterFor(h)

	for _, target := range []string{
		"/api/v1/sync/trips?page_size=abc",
		"/api/v1/sync/trips?page_size=0",
		"/api/v1/sync/trips?max_pages=-1",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandleSyncConflictWhenLocked(t *testing.T) {
	locker := &stubLocker{busy: true}
	h := NewSyncHandler(&etl.TripSyncer{}, nil, locker, nil, &stubStatusStore{}, time.Minute, quietLogger())
	router := newRouterFor(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trips", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, locker.released)
}
