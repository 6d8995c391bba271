// Package transittime converts the ambiguous numeric time values carried by
// GTFS-realtime feeds into wall-clock times.
//
// GTFS-RT producers are inconsistent about what a numeric time field means:
// values at or below one day's worth of seconds are seconds since midnight of
// the service day (which itself may run past 24:00:00 for overnight trips),
// while larger values are plain Unix epoch seconds.
package transittime

import (
	"fmt"
	"time"
)

// secondsPerDay is the boundary between service-day offsets and epoch values.
const secondsPerDay = 86400

// pastTolerance is how far in the past a normalized service-day time may land
// before we assume it belongs to the next service day. Early-morning trips
// compared shortly after midnight would otherwise resolve ~24h stale.
const pastTolerance = 6 * time.Hour

// Normalize converts a GTFS-RT numeric time value into a wall-clock time in
// loc. ref supplies both the service date and the "now" used for the
// next-day adjustment; it is normally time.Now() in the agency's timezone.
//
// Values above 86400 are interpreted as Unix epoch seconds. Values in
// [0, 86400] are seconds since midnight of ref's date, with hours >= 24
// rolling into the following day.
func Normalize(v int64, ref time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if v < 0 {
		return time.Time{}, fmt.Errorf("negative time value %d", v)
	}

	if v > secondsPerDay {
		return time.Unix(v, 0).In(loc), nil
	}

	hours := int(v / 3600)
	minutes := int(v % 3600 / 60)
	seconds := int(v % 60)

	dayOffset := 0
	for hours >= 24 {
		hours -= 24
		dayOffset++
	}

	ref = ref.In(loc)
	year, month, day := ref.Date()
	t := time.Date(year, month, day+dayOffset, hours, minutes, seconds, 0, loc)

	// A service-day time more than a few hours behind now is almost always a
	// post-midnight comparison against an early-morning trip.
	if ref.Sub(t) > pastTolerance {
		t = t.AddDate(0, 0, 1)
	}

	return t, nil
}

// NormalizeOrZero is Normalize with the error collapsed to a zero time, for
// callers that degrade to a "no_data" prediction instead of propagating.
func NormalizeOrZero(v int64, ref time.Time, loc *time.Location) time.Time {
	t, err := Normalize(v, ref, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ServiceDaySeconds converts a schedule offset (which may exceed 24h) into a
// wall-clock time on ref's service date without the past-tolerance shift.
// Static stop_times are anchored to their service day, not to "now".
func ServiceDaySeconds(sec int, ref time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	ref = ref.In(loc)
	year, month, day := ref.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(sec) * time.Second)
}
