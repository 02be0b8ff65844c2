package models

import "time"

// Run statuses recorded in etl_runs
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// RunLog is one append-only row per sync invocation
type RunLog struct {
	ID              int64                  `json:"id,omitempty"`
	Status          string                 `json:"status"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	RecordsInserted int                    `json:"records_inserted"`
	DevicesCount    int                    `json:"devices_processed"`
	UsersCount      int                    `json:"users_processed"`
	ZonesCount      int                    `json:"zones_processed"`
	RulesCount      int                    `json:"rules_processed"`
	TripsCount      int                    `json:"trips_processed"`
	FromDate        *time.Time             `json:"from_date,omitempty"`
	ToDate          *time.Time             `json:"to_date,omitempty"`
	Duration        time.Duration          `json:"-"`
	Raw             map[string]interface{} `json:"raw,omitempty"`
	CreatedAt       time.Time              `json:"created_at,omitempty"`
}

// RunSummary is the compact last-run view cached for the status endpoint
type RunSummary struct {
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Trips      int        `json:"trips_processed"`
	Faults     int        `json:"fault_records_inserted"`
	Devices    int        `json:"devices_processed"`
	Users      int        `json:"users_processed"`
	Zones      int        `json:"zones_processed"`
	Rules      int        `json:"rules_processed"`
	FromDate   *time.Time `json:"from_date,omitempty"`
	ToDate     *time.Time `json:"to_date,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	FinishedAt time.Time  `json:"finished_at"`
}
