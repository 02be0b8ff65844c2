package geotab

import (
	"encoding/json"
	"time"
)

// Credentials is the session credential blob returned by Authenticate
// and echoed back on every subsequent call.
type Credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}

// Ref is a reference to another entity by id
type Ref struct {
	ID string `json:"id"`
}

// RefID returns the id of a possibly-nil reference
func RefID(r *Ref) string {
	if r == nil {
		return ""
	}
	return r.ID
}

// Duration carries a remote duration value in whatever shape the API sent it:
// a "[D.]HH:MM:SS[.fff]" string, a plain number of seconds, or null.
// Normalization happens in the ETL layer.
type Duration struct {
	raw interface{}
}

// UnmarshalJSON keeps the raw decoded value
func (d *Duration) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &d.raw)
}

// Raw returns the decoded value (string, float64 or nil)
func (d Duration) Raw() interface{} {
	return d.raw
}

// Trip is one completed vehicle trip
type Trip struct {
	ID              string          `json:"id"`
	Device          *Ref            `json:"device"`
	Driver          *Ref            `json:"driver"`
	Start           *time.Time      `json:"start"`
	Stop            *time.Time      `json:"stop"`
	Distance        *float64        `json:"distance"`     // meters
	MaximumSpeed    *float64        `json:"maximumSpeed"` // m/s
	IdlingDuration  Duration        `json:"idlingDuration"`
	IdleDuration    Duration        `json:"idleDuration"` // legacy alias
	DrivingDuration Duration        `json:"drivingDuration"`
	DriveDuration   Duration        `json:"driveDuration"` // legacy alias
	StopDuration    Duration        `json:"stopDuration"`
	StartPosition   json.RawMessage `json:"startPosition"`
	StopPosition    json.RawMessage `json:"stopPosition"`

	Raw json.RawMessage `json:"-"`
}

// FaultStates carries the effective status of a fault record
type FaultStates struct {
	EffectiveStatus string `json:"effectiveStatus"`
}

// Fault is one engine fault-data event
type Fault struct {
	ID          string       `json:"id"`
	Device      *Ref         `json:"device"`
	Diagnostic  *Ref         `json:"diagnostic"`
	Controller  *Ref         `json:"controller"`
	DateTime    *time.Time   `json:"dateTime"`
	Description string       `json:"description"`
	FaultState  string       `json:"faultState"`
	FaultStates *FaultStates `json:"faultStates"`

	Raw json.RawMessage `json:"-"`
}

// Severity resolves the stored severity: the effective status when the
// server reports one, the raw fault state otherwise.
func (f *Fault) Severity() string {
	if f.FaultStates != nil && f.FaultStates.EffectiveStatus != "" {
		return f.FaultStates.EffectiveStatus
	}
	return f.FaultState
}

// IsActive reports whether the fault is currently active
func (f *Fault) IsActive() bool {
	return f.FaultState == "Active"
}

// Device is one tracked vehicle/asset
type Device struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	SerialNumber            string     `json:"serialNumber"`
	DeviceType              string     `json:"deviceType"`
	LicensePlate            string     `json:"licensePlate"`
	VIN                     string     `json:"vehicleIdentificationNumber"`
	ActiveFrom              *time.Time `json:"activeFrom"`
	ActiveTo                *time.Time `json:"activeTo"`
	IsActiveTrackingEnabled *bool      `json:"isActiveTrackingEnabled"`
	TimeZoneID              string     `json:"timeZoneId"`
	SpeedingOn              *float64   `json:"speedingOn"`
	SpeedingOff             *float64   `json:"speedingOff"`
	EngineType              string     `json:"engineType"`

	Raw json.RawMessage `json:"-"`
}

// User is one driver/operator account
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`

	Raw json.RawMessage `json:"-"`
}

// Zone is one geofence
type Zone struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ZoneType string          `json:"zoneTypeId"`
	Color    json.RawMessage `json:"color"`
	Active   bool            `json:"active"`

	Raw json.RawMessage `json:"-"`
}

// Rule is one exception rule definition
type Rule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Comment  string `json:"comment"`
	Active   bool   `json:"active"`
	RuleType string `json:"ruleTypeId"`

	Raw json.RawMessage `json:"-"`
}
