package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/internal/etl"
	"github.com/fleet-etl/pkg/models"
)

// Locker serializes sync triggers across instances. May be nil when no
// Redis is wired; triggers then run unguarded.
type Locker interface {
	AcquireRunLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context) error
}

// SummaryCache caches the last run summary for the status endpoint. May be nil.
type SummaryCache interface {
	SetLastRun(ctx context.Context, summary *models.RunSummary) error
	GetLastRun(ctx context.Context) (*models.RunSummary, error)
}

// StatusStore is the read side of the status endpoint
type StatusStore interface {
	ListSyncCursors(ctx context.Context) ([]*models.SyncCursor, error)
	GetLastRun(ctx context.Context) (*models.RunSummary, error)
}

// SyncHandler exposes the sync triggers and status over HTTP
type SyncHandler struct {
	trips        *etl.TripSyncer
	orchestrator *etl.Orchestrator
	locker       Locker
	cache        SummaryCache
	store        StatusStore
	lockTTL      time.Duration
	logger       *logrus.Entry
}

// NewSyncHandler creates a sync handler
func NewSyncHandler(
	trips *etl.TripSyncer,
	orchestrator *etl.Orchestrator,
	locker Locker,
	cache SummaryCache,
	store StatusStore,
	lockTTL time.Duration,
	logger *logrus.Logger,
) *SyncHandler {
	return &SyncHandler{
		trips:        trips,
		orchestrator: orchestrator,
		locker:       locker,
		cache:        cache,
		store:        store,
		lockTTL:      lockTTL,
		logger:       logger.WithField("component", "sync-handler"),
	}
}

// RegisterRoutes registers sync endpoints
func (h *SyncHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sync", h.HandleSync).Methods("POST")
	api.HandleFunc("/sync/trips", h.HandleSyncTrips).Methods("POST")
	api.HandleFunc("/sync/status", h.HandleStatus).Methods("GET")
}

// HandleSync triggers a full sync: the trip backlog plus every other entity
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	release, ok := h.acquireLock(ctx, w)
	if !ok {
		return
	}
	defer release()

	start := time.Now()
	tripRes, tripErr := h.trips.Run(ctx)
	fleetRes, fleetErr := h.orchestrator.Run(ctx)

	summary := buildSummary(tripRes, fleetRes, tripErr, fleetErr, time.Since(start))
	h.cacheSummary(ctx, summary)

	response := map[string]interface{}{
		"status": summary.Status,
		"trips":  tripRes,
		"fleet":  fleetRes,
	}

	if tripErr != nil || fleetErr != nil {
		response["error"] = summary.Error
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleSyncTrips triggers a trip-only sync; page_size and max_pages query
// parameters override the configured bounds for this run
func (h *SyncHandler) HandleSyncTrips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run := *h.trips
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid page_size", http.StatusBadRequest)
			return
		}
		run.PageSize = n
	}
	if v := r.URL.Query().Get("max_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid max_pages", http.StatusBadRequest)
			return
		}
		run.MaxPages = n
	}

	release, ok := h.acquireLock(ctx, w)
	if !ok {
		return
	}
	defer release()

	start := time.Now()
	res, err := run.Run(ctx)

	summary := buildSummary(res, nil, err, nil, time.Since(start))
	h.cacheSummary(ctx, summary)

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": models.RunStatusError,
			"error":  err.Error(),
			"trips":  res,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": models.RunStatusSuccess,
		"trips":  res,
	})
}

// HandleStatus reports the last run summary and every cursor row
func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var summary *models.RunSummary
	if h.cache != nil {
		cached, err := h.cache.GetLastRun(ctx)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to read cached run summary")
		} else {
			summary = cached
		}
	}
	if summary == nil {
		stored, err := h.store.GetLastRun(ctx)
		if err != nil {
			h.logger.WithError(err).Error("Failed to read last run")
			http.Error(w, "failed to read last run", http.StatusInternalServerError)
			return
		}
		summary = stored
	}

	cursors, err := h.store.ListSyncCursors(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sync cursors")
		http.Error(w, "failed to list sync cursors", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_run": summary,
		"cursors":  cursors,
	})
}

// acquireLock takes the run lock when a locker is wired. The returned
// release is a no-op when locking is disabled.
func (h *SyncHandler) acquireLock(ctx context.Context, w http.ResponseWriter) (func(), bool) {
	if h.locker == nil {
		return func() {}, true
	}

	ok, err := h.locker.AcquireRunLock(ctx, h.lockTTL)
	if err != nil {
		h.logger.WithError(err).Error("Failed to acquire run lock")
		http.Error(w, "failed to acquire run lock", http.StatusInternalServerError)
		return nil, false
	}
	if !ok {
		http.Error(w, "a sync run is already in progress", http.StatusConflict)
		return nil, false
	}

	return func() {
		if err := h.locker.ReleaseRunLock(context.Background()); err != nil {
			h.logger.WithError(err).Warn("Failed to release run lock")
		}
	}, true
}

func (h *SyncHandler) cacheSummary(ctx context.Context, summary *models.RunSummary) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetLastRun(ctx, summary); err != nil {
		h.logger.WithError(err).Warn("Failed to cache run summary")
	}
}

func buildSummary(trips *etl.TripResult, fleet *etl.RunResult, tripErr, fleetErr error, elapsed time.Duration) *models.RunSummary {
	summary := &models.RunSummary{
		Status:     models.RunStatusSuccess,
		DurationMS: elapsed.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}

	if trips != nil {
		summary.Trips = trips.Processed
		if !trips.FromDate.IsZero() {
			from := trips.FromDate
			summary.FromDate = &from
		}
		summary.ToDate = trips.ToDate
	}
	if fleet != nil {
		summary.Faults = fleet.Faults.Processed
		summary.Devices = fleet.Devices.Processed
		summary.Users = fleet.Users.Processed
		summary.Zones = fleet.Zones.Processed
		summary.Rules = fleet.Rules.Processed
	}

	if tripErr != nil {
		summary.Status = models.RunStatusError
		summary.Error = tripErr.Error()
	}
	if fleetErr != nil {
		summary.Status = models.RunStatusError
		if summary.Error != "" {
			summary.Error += "; "
		}
		summary.Error += fleetErr.Error()
	}

	return summary
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
