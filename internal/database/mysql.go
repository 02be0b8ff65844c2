package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/fleet-etl/internal/etl"
	"github.com/fleet-etl/internal/geotab"
	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
)

// MySQLClient handles MySQL database operations
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

// Cursor operations

// GetSyncCursor returns the stored watermark for a source, or the fallback
// when the source has never advanced (missing row or NULL timestamp)
func (mc *MySQLClient) GetSyncCursor(ctx context.Context, source string, fallback time.Time) (time.Time, error) {
	query := `SELECT last_timestamp FROM sync_state WHERE source = ?`

	var last sql.NullTime
	err := mc.db.QueryRowContext(ctx, query, source).Scan(&last)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync cursor for %s: %w", source, err)
	}
	if !last.Valid {
		return fallback, nil
	}
	return last.Time.UTC(), nil
}

// AdvanceSyncCursor moves a source watermark forward and clears any prior
// error. A nil timestamp keeps the existing watermark (COALESCE) so a run
// that saw no new records never erases progress.
func (mc *MySQLClient) AdvanceSyncCursor(ctx context.Context, source string, last *time.Time, count int) error {
	query := `
		INSERT INTO sync_state (source, last_timestamp, records_count, last_error, updated_at)
		VALUES (?, ?, ?, NULL, NOW(3))
		ON DUPLICATE KEY UPDATE
			last_timestamp = COALESCE(VALUES(last_timestamp), last_timestamp),
			records_count = VALUES(records_count),
			last_error = NULL,
			updated_at = NOW(3)
	`

	if _, err := mc.db.ExecContext(ctx, query, source, nullTime(last), count); err != nil {
		return fmt.Errorf("failed to advance sync cursor for %s: %w", source, err)
	}
	return nil
}

// MarkSyncError records a failure against a source without touching its
// watermark or count
func (mc *MySQLClient) MarkSyncError(ctx context.Context, source string, cause error) error {
	query := `
		INSERT INTO sync_state (source, last_timestamp, records_count, last_error, updated_at)
		VALUES (?, NULL, 0, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			last_error = VALUES(last_error),
			updated_at = NOW(3)
	`

	message := cause.Error()
	if len(message) > 1024 {
		message = message[:1024]
	}

	if _, err := mc.db.ExecContext(ctx, query, source, message); err != nil {
		return fmt.Errorf("failed to mark sync error for %s: %w", source, err)
	}
	return nil
}

// ListSyncCursors returns every per-source cursor row
func (mc *MySQLClient) ListSyncCursors(ctx context.Context) ([]*models.SyncCursor, error) {
	query := `
		SELECT source, last_timestamp, records_count, last_error, updated_at
		FROM sync_state
		ORDER BY source
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*models.SyncCursor
	for rows.Next() {
		var (
			cursor  models.SyncCursor
			last    sql.NullTime
			lastErr sql.NullString
		)
		if err := rows.Scan(&cursor.Source, &last, &cursor.RecordsCount, &lastErr, &cursor.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync cursor: %w", err)
		}
		if last.Valid {
			t := last.Time.UTC()
			cursor.LastTimestamp = &t
		}
		if lastErr.Valid {
			cursor.LastError = &lastErr.String
		}
		cursors = append(cursors, &cursor)
	}
	return cursors, rows.Err()
}

// Trip operations

// UpsertTrips applies a page of trips keyed by remote id. Distances arrive
// in meters and speeds in m/s; they are stored as km and km/h.
func (mc *MySQLClient) UpsertTrips(ctx context.Context, trips []geotab.Trip) (int, error) {
	query := `
		INSERT INTO geotab_trip (
			id, device_id, driver_id, start_time, stop_time,
			distance_km, max_speed_kph,
			idling_seconds, driving_seconds, stop_seconds,
			start_position, stop_position, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			device_id = VALUES(device_id),
			driver_id = VALUES(driver_id),
			start_time = VALUES(start_time),
			stop_time = VALUES(stop_time),
			distance_km = VALUES(distance_km),
			max_speed_kph = VALUES(max_speed_kph),
			idling_seconds = VALUES(idling_seconds),
			driving_seconds = VALUES(driving_seconds),
			stop_seconds = VALUES(stop_seconds),
			start_position = VALUES(start_position),
			stop_position = VALUES(stop_position),
			raw = VALUES(raw),
			updated_at = NOW(3)
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare trip upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range trips {
		trip := &trips[i]
		if trip.ID == "" {
			return count, fmt.Errorf("trip record %d has no id", i)
		}

		var distance, maxSpeed interface{}
		if trip.Distance != nil {
			distance = etl.KilometersFromMeters(*trip.Distance)
		}
		if trip.MaximumSpeed != nil {
			maxSpeed = etl.KPHFromMetersPerSecond(*trip.MaximumSpeed)
		}

		idling := nullSeconds(etl.FirstDuration(trip.IdlingDuration, trip.IdleDuration))
		driving := nullSeconds(etl.FirstDuration(trip.DrivingDuration, trip.DriveDuration))
		stopped := nullSeconds(etl.FirstDuration(trip.StopDuration))

		_, err := stmt.ExecContext(ctx,
			trip.ID,
			nullString(geotab.RefID(trip.Device)),
			nullString(geotab.RefID(trip.Driver)),
			nullTime(trip.Start),
			nullTime(trip.Stop),
			distance,
			maxSpeed,
			idling,
			driving,
			stopped,
			nullJSON(trip.StartPosition),
			nullJSON(trip.StopPosition),
			nullJSON(trip.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to upsert trip %s: %w", trip.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Upserted trips")
	return count, nil
}

// Fault operations

// InsertFaults appends fault events. Faults are immutable once recorded, so
// replayed rows are ignored rather than overwritten.
func (mc *MySQLClient) InsertFaults(ctx context.Context, faults []geotab.Fault) (int, error) {
	query := `
		INSERT IGNORE INTO fault_data (
			id, device_id, diagnostic_id, controller_id,
			event_time, description, severity, is_active, raw, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(3))
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare fault insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range faults {
		fault := &faults[i]
		if fault.ID == "" {
			return count, fmt.Errorf("fault record %d has no id", i)
		}

		_, err := stmt.ExecContext(ctx,
			fault.ID,
			nullString(geotab.RefID(fault.Device)),
			nullString(geotab.RefID(fault.Diagnostic)),
			nullString(geotab.RefID(fault.Controller)),
			nullTime(fault.DateTime),
			fault.Description,
			fault.Severity(),
			fault.IsActive(),
			nullJSON(fault.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to insert fault %s: %w", fault.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Inserted faults")
	return count, nil
}

// Reference dimension operations

// UpsertDevices mirrors the device dimension
func (mc *MySQLClient) UpsertDevices(ctx context.Context, devices []geotab.Device) (int, error) {
	query := `
		INSERT INTO geotab_device (
			id, name, serial_number, device_type, license_plate, vin,
			active_from, active_to, tracking_enabled, time_zone,
			speeding_on, speeding_off, engine_type, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			serial_number = VALUES(serial_number),
			device_type = VALUES(device_type),
			license_plate = VALUES(license_plate),
			vin = VALUES(vin),
			active_from = VALUES(active_from),
			active_to = VALUES(active_to),
			tracking_enabled = VALUES(tracking_enabled),
			time_zone = VALUES(time_zone),
			speeding_on = VALUES(speeding_on),
			speeding_off = VALUES(speeding_off),
			engine_type = VALUES(engine_type),
			raw = VALUES(raw),
			updated_at = NOW(3)
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare device upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range devices {
		device := &devices[i]
		if device.ID == "" {
			return count, fmt.Errorf("device record %d has no id", i)
		}

		var tracking interface{}
		if device.IsActiveTrackingEnabled != nil {
			tracking = *device.IsActiveTrackingEnabled
		}

		_, err := stmt.ExecContext(ctx,
			device.ID,
			device.Name,
			nullString(device.SerialNumber),
			nullString(device.DeviceType),
			nullString(device.LicensePlate),
			nullString(device.VIN),
			nullTime(device.ActiveFrom),
			nullTime(device.ActiveTo),
			tracking,
			nullString(device.TimeZoneID),
			nullFloat(device.SpeedingOn),
			nullFloat(device.SpeedingOff),
			nullString(device.EngineType),
			nullJSON(device.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to upsert device %s: %w", device.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Upserted devices")
	return count, nil
}

// UpsertUsers mirrors the user dimension
func (mc *MySQLClient) UpsertUsers(ctx context.Context, users []geotab.User) (int, error) {
	query := `
		INSERT INTO geotab_user (
			id, name, first_name, last_name, email, is_active, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			first_name = VALUES(first_name),
			last_name = VALUES(last_name),
			email = VALUES(email),
			is_active = VALUES(is_active),
			raw = VALUES(raw),
			updated_at = NOW(3)
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare user upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range users {
		user := &users[i]
		if user.ID == "" {
			return count, fmt.Errorf("user record %d has no id", i)
		}

		_, err := stmt.ExecContext(ctx,
			user.ID,
			user.Name,
			nullString(user.FirstName),
			nullString(user.LastName),
			nullString(user.Email),
			user.Active,
			nullJSON(user.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Upserted users")
	return count, nil
}

// UpsertZones mirrors the zone dimension
func (mc *MySQLClient) UpsertZones(ctx context.Context, zones []geotab.Zone) (int, error) {
	query := `
		INSERT INTO geotab_zone (
			id, name, zone_type, color, is_active, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			zone_type = VALUES(zone_type),
			color = VALUES(color),
			is_active = VALUES(is_active),
			raw = VALUES(raw),
			updated_at = NOW(3)
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare zone upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range zones {
		zone := &zones[i]
		if zone.ID == "" {
			return count, fmt.Errorf("zone record %d has no id", i)
		}

		_, err := stmt.ExecContext(ctx,
			zone.ID,
			zone.Name,
			nullString(zone.ZoneType),
			nullJSON(zone.Color),
			zone.Active,
			nullJSON(zone.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to upsert zone %s: %w", zone.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Upserted zones")
	return count, nil
}

// UpsertRules mirrors the exception-rule dimension
func (mc *MySQLClient) UpsertRules(ctx context.Context, rules []geotab.Rule) (int, error) {
	query := `
		INSERT INTO geotab_rule (
			id, name, comment, rule_type, is_active, raw, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			comment = VALUES(comment),
			rule_type = VALUES(rule_type),
			is_active = VALUES(is_active),
			raw = VALUES(raw),
			updated_at = NOW(3)
	`

	stmt, err := mc.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare rule upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range rules {
		rule := &rules[i]
		if rule.ID == "" {
			return count, fmt.Errorf("rule record %d has no id", i)
		}

		_, err := stmt.ExecContext(ctx,
			rule.ID,
			rule.Name,
			nullString(rule.Comment),
			nullString(rule.RuleType),
			rule.Active,
			nullJSON(rule.Raw),
		)
		if err != nil {
			return count, fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
		}
		count++
	}

	mc.logger.WithField("count", count).Debug("Upserted rules")
	return count, nil
}

// Run log operations

// InsertRunLog appends one etl_runs row
func (mc *MySQLClient) InsertRunLog(ctx context.Context, run *models.RunLog) error {
	query := `
		INSERT INTO etl_runs (
			status, error_message, records_inserted,
			devices_count, users_count, zones_count, rules_count, trips_count,
			from_date, to_date, duration_ms, raw, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(3))
	`

	var raw interface{}
	if run.Raw != nil {
		encoded, err := json.Marshal(run.Raw)
		if err != nil {
			return fmt.Errorf("failed to encode run log payload: %w", err)
		}
		raw = encoded
	}

	_, err := mc.db.ExecContext(ctx, query,
		run.Status,
		nullString(run.ErrorMessage),
		run.RecordsInserted,
		run.DevicesCount,
		run.UsersCount,
		run.ZonesCount,
		run.RulesCount,
		run.TripsCount,
		nullTime(run.FromDate),
		nullTime(run.ToDate),
		run.Duration.Milliseconds(),
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run log: %w", err)
	}
	return nil
}

// GetLastRun returns a summary of the most recent etl_runs row, or nil when
// no run has been recorded yet
func (mc *MySQLClient) GetLastRun(ctx context.Context) (*models.RunSummary, error) {
	query := `
		SELECT status, error_message, records_inserted,
		       devices_count, users_count, zones_count, rules_count, trips_count,
		       from_date, to_date, duration_ms, created_at
		FROM etl_runs
		ORDER BY id DESC
		LIMIT 1
	`

	var (
		summary  models.RunSummary
		errMsg   sql.NullString
		fromDate sql.NullTime
		toDate   sql.NullTime
	)
	err := mc.db.QueryRowContext(ctx, query).Scan(
		&summary.Status,
		&errMsg,
		&summary.Faults,
		&summary.Devices,
		&summary.Users,
		&summary.Zones,
		&summary.Rules,
		&summary.Trips,
		&fromDate,
		&toDate,
		&summary.DurationMS,
		&summary.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}

	if errMsg.Valid {
		summary.Error = errMsg.String
	}
	if fromDate.Valid {
		t := fromDate.Time.UTC()
		summary.FromDate = &t
	}
	if toDate.Valid {
		t := toDate.Time.UTC()
		summary.ToDate = &t
	}
	return &summary, nil
}

// Nullable argument helpers

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullSeconds(secs int64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return secs
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
