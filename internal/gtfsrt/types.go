package gtfsrt

import "time"

// VehiclePosition is one vehicle observation decoded from a GTFS-RT feed.
// Optional wire fields decode to nil pointers; enum fields keep the raw
// GTFS-RT numeric values so nothing is lost between feed and store.
type VehiclePosition struct {
	VehicleID       string
	TripID          *string
	RouteID         *string
	Latitude        *float64
	Longitude       *float64
	Bearing         *float64
	Speed           *float64
	CurrentStatus   *int
	CongestionLevel *int
	OccupancyStatus *int
	LastStopID      *string
	ObservedAt      time.Time
}

// TripUpdate is one trip-update entity. Held only for the fusion cycle that
// decoded it, never persisted.
type TripUpdate struct {
	TripID          string
	RouteID         *string
	StartDate       *string
	DelaySeconds    *int
	StopTimeUpdates []StopTimeUpdate
}

// StopTimeUpdate carries per-stop delay/time overrides for a trip.
// ArrivalTime and DepartureTime are raw GTFS-RT numeric values; callers
// normalize them with the transittime package.
type StopTimeUpdate struct {
	StopID         string
	StopSequence   *int
	ArrivalDelay   *int
	DepartureDelay *int
	ArrivalTime    *int64
	DepartureTime  *int64
}

// VehicleStopStatusNames maps GTFS-RT VehicleStopStatus values to their
// canonical names for API display.
var VehicleStopStatusNames = map[int]string{
	0: "INCOMING_AT",
	1: "STOPPED_AT",
	2: "IN_TRANSIT_TO",
}

// OccupancyStatusNames maps GTFS-RT OccupancyStatus values to their names.
var OccupancyStatusNames = map[int]string{
	0: "EMPTY",
	1: "MANY_SEATS_AVAILABLE",
	2: "FEW_SEATS_AVAILABLE",
	3: "STANDING_ROOM_ONLY",
	4: "CRUSHED_STANDING_ROOM_ONLY",
	5: "FULL",
	6: "NOT_ACCEPTING_PASSENGERS",
}
