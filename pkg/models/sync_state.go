package models

import "time"

// Cursor source names, one per synced entity type.
const (
	SourceTrip   = "trip"
	SourceFault  = "fault_data"
	SourceDevice = "device"
	SourceUser   = "user"
	SourceZone   = "zone"
	SourceRule   = "rule"
)

// SyncCursor is the per-source watermark row in sync_state
type SyncCursor struct {
	Source        string     `json:"source"`
	LastTimestamp *time.Time `json:"last_timestamp"`
	RecordsCount  int        `json:"records_count"`
	LastError     *string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
