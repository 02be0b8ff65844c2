package etl

import (
	"math"
	"strconv"
	"strings"

	"github.com/fleet-etl/internal/geotab"
)

// DurationSeconds converts a remote duration value into whole seconds.
// Accepts a plain finite number of seconds, or a "[D.]HH:MM:SS[.fff]" string
// with an optional whole-day prefix. Anything else fails closed (ok=false)
// so a malformed field never aborts a page.
func DurationSeconds(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int64(math.Round(val)), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		return parseClockDuration(val)
	default:
		return 0, false
	}
}

// parseClockDuration parses "[D.]HH:MM:SS[.fff]"
func parseClockDuration(s string) (int64, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, false
	}

	var days int64
	timePart := trimmed

	// The dot is a day separator only when it splits a colon-free left side
	// from a clock-formatted right side; otherwise it belongs to the
	// fractional seconds
	if left, right, found := strings.Cut(trimmed, "."); found &&
		!strings.Contains(left, ":") && strings.Contains(right, ":") {
		d, err := strconv.ParseInt(left, 10, 64)
		if err != nil {
			return 0, false
		}
		days = d
		timePart = right
	}

	segments := strings.Split(timePart, ":")
	if len(segments) != 3 {
		return 0, false
	}

	hours, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseInt(segments[1], 10, 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(segments[2], 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}

	total := float64(days*86400+hours*3600+minutes*60) + seconds
	return int64(math.Round(total)), true
}

// FirstDuration normalizes the first value that parses, in order.
// Used for fields the remote API has renamed over time.
func FirstDuration(values ...geotab.Duration) (int64, bool) {
	for _, v := range values {
		if secs, ok := DurationSeconds(v.Raw()); ok {
			return secs, true
		}
	}
	return 0, false
}

// KilometersFromMeters converts meters to kilometers for storage
func KilometersFromMeters(m float64) float64 {
	return Round2(m / 1000)
}

// KPHFromMetersPerSecond converts m/s to km/h for storage
func KPHFromMetersPerSecond(ms float64) float64 {
	return Round2(ms * 3.6)
}

// Round2 rounds to two decimal places to normalize the floating-point
// representation that ends up in the store
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
