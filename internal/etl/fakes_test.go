package etl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fleet-etl/internal/geotab"
	"github.com/fleet-etl/pkg/models"
)

// cursorRow mirrors one sync_state row
type cursorRow struct {
	last    *time.Time
	count   int
	lastErr string
}

// fakeStore is an in-memory Store with the same cursor semantics as the
// MySQL implementation: a nil advance keeps the watermark, errors never
// touch it
type fakeStore struct {
	mu      sync.Mutex
	cursors map[string]*cursorRow
	trips   map[string]geotab.Trip
	faults  map[string]geotab.Fault
	devices int
	users   int
	zones   int
	rules   int
	runLogs []*models.RunLog

	tripUpsertCalls      int
	failTripUpsertOnCall int
	upsertErrs           map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cursors:    make(map[string]*cursorRow),
		trips:      make(map[string]geotab.Trip),
		faults:     make(map[string]geotab.Fault),
		upsertErrs: make(map[string]error),
	}
}

func (s *fakeStore) row(source string) *cursorRow {
	if r, ok := s.cursors[source]; ok {
		return r
	}
	r := &cursorRow{}
	s.cursors[source] = r
	return r
}

func (s *fakeStore) setCursor(source string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := at.UTC()
	s.row(source).last = &t
}

func (s *fakeStore) cursor(source string) *cursorRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[source]
}

func (s *fakeStore) GetSyncCursor(ctx context.Context, source string, fallback time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.cursors[source]; ok && r.last != nil {
		return *r.last, nil
	}
	return fallback, nil
}

func (s *fakeStore) AdvanceSyncCursor(ctx context.Context, source string, last *time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(source)
	if last != nil {
		t := last.UTC()
		r.last = &t
	}
	r.count = count
	r.lastErr = ""
	return nil
}

func (s *fakeStore) MarkSyncError(ctx context.Context, source string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row(source).lastErr = cause.Error()
	return nil
}

func (s *fakeStore) UpsertTrips(ctx context.Context, trips []geotab.Trip) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripUpsertCalls++
	if s.failTripUpsertOnCall > 0 && s.tripUpsertCalls == s.failTripUpsertOnCall {
		return 0, errors.New("store unavailable")
	}
	for _, t := range trips {
		s.trips[t.ID] = t
	}
	return len(trips), nil
}

func (s *fakeStore) InsertFaults(ctx context.Context, faults []geotab.Fault) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs["fault"]; err != nil {
		return 0, err
	}
	for _, f := range faults {
		s.faults[f.ID] = f
	}
	return len(faults), nil
}

func (s *fakeStore) UpsertDevices(ctx context.Context, devices []geotab.Device) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs["device"]; err != nil {
		return 0, err
	}
	s.devices += len(devices)
	return len(devices), nil
}

func (s *fakeStore) UpsertUsers(ctx context.Context, users []geotab.User) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs["user"]; err != nil {
		return 0, err
	}
	s.users += len(users)
	return len(users), nil
}

func (s *fakeStore) UpsertZones(ctx context.Context, zones []geotab.Zone) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs["zone"]; err != nil {
		return 0, err
	}
	s.zones += len(zones)
	return len(zones), nil
}

func (s *fakeStore) UpsertRules(ctx context.Context, rules []geotab.Rule) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErrs["rule"]; err != nil {
		return 0, err
	}
	s.rules += len(rules)
	return len(rules), nil
}

func (s *fakeStore) InsertRunLog(ctx context.Context, run *models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runLogs = append(s.runLogs, run)
	return nil
}

// fakeAPI serves a fixed backlog, returning records strictly newer than
// the requested watermark in insertion order
type fakeAPI struct {
	mu     sync.Mutex
	trips  []geotab.Trip
	faults []geotab.Fault

	devices []geotab.Device
	users   []geotab.User
	zones   []geotab.Zone
	rules   []geotab.Rule

	tripCalls           int
	failTripFetchOnCall int
	fetchErrs           map[string]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{fetchErrs: make(map[string]error)}
}

func (a *fakeAPI) GetTrips(ctx context.Context, from time.Time, limit int) ([]geotab.Trip, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tripCalls++
	if a.failTripFetchOnCall > 0 && a.tripCalls == a.failTripFetchOnCall {
		return nil, errors.New("remote unavailable")
	}

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

func (a *fakeAPI) GetFaults(ctx context.Context, from time.Time, limit int) ([]geotab.Fault, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fetchErrs["fault"]; err != nil {
		return nil, err
	}

	var page []geotab.Fault
	for _, f := range a.faults {
		if f.DateTime == nil || !f.DateTime.After(from) {
			continue
		}
		page = append(page, f)
		if limit > 0 && len(page) == limit {
			break
		}
	}
	return page, nil
}

func (a *fakeAPI) GetDevices(ctx context.Context, limit int) ([]geotab.Device, error) {
	if err := a.fetchErrs["device"]; err != nil {
		return nil, err
	}
	return a.devices, nil
}

func (a *fakeAPI) GetUsers(ctx context.Context, limit int) ([]geotab.User, error) {
	if err := a.fetchErrs["user"]; err != nil {
		return nil, err
	}
	return a.users, nil
}

func (a *fakeAPI) GetZones(ctx context.Context) ([]geotab.Zone, error) {
	if err := a.fetchErrs["zone"]; err != nil {
		return nil, err
	}
	return a.zones, nil
}

func (a *fakeAPI) GetRules(ctx context.Context) ([]geotab.Rule, error) {
	if err := a.fetchErrs["rule"]; err != nil {
		return nil, err
	}
	return a.rules, nil
}

func tripAt(id string, stop time.Time) geotab.Trip {
	s := stop.UTC()
	return geotab.Trip{ID: id, Stop: &s}
}

func faultAt(id string, at time.Time) geotab.Fault {
	t := at.UTC()
	return geotab.Fault{ID: id, DateTime: &t}
}
