package models

import (
	"github.com/Johnsingh007-ui/transitpulse/internal/gtfsrt"
	"github.com/Johnsingh007-ui/transitpulse/internal/utils"
)

// UnknownValue is the fallback value when data is unavailable
const UnknownValue = "UNKNOWN"

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleStatus is the JSON shape of one live vehicle.
type VehicleStatus struct {
	VehicleID       string    `json:"vehicleId"`
	TripID          string    `json:"tripId,omitempty"`
	RouteID         string    `json:"routeId,omitempty"`
	Location        *Location `json:"location,omitempty"`
	Bearing         *float64  `json:"bearing,omitempty"`
	Heading         string    `json:"heading,omitempty"`
	SpeedMps        *float64  `json:"speed,omitempty"`
	CurrentStatus   string    `json:"currentStatus,omitempty"`
	OccupancyStatus string    `json:"occupancyStatus,omitempty"`
	LastStopID      string    `json:"lastStopId,omitempty"`
	LastUpdateTime  int64     `json:"lastUpdateTime"`
}

// VehicleList wraps a set of vehicles.
type VehicleList struct {
	Vehicles    []VehicleStatus `json:"vehicles"`
	Count       int             `json:"count"`
	LastUpdated int64           `json:"lastUpdated"`
}

// NewVehicleStatus converts a stored observation to its response shape,
// mapping the feed's enum values to readable names.
func NewVehicleStatus(v gtfsrt.VehiclePosition) VehicleStatus {
	out := VehicleStatus{
		VehicleID:      v.VehicleID,
		Bearing:        v.Bearing,
		SpeedMps:       v.Speed,
		LastUpdateTime: v.ObservedAt.UnixNano() / 1e6,
	}
	if v.TripID != nil {
		out.TripID = *v.TripID
	}
	if v.RouteID != nil {
		out.RouteID = *v.RouteID
	}
	if v.Latitude != nil && v.Longitude != nil {
		out.Location = &Location{Lat: *v.Latitude, Lon: *v.Longitude}
	}
	if v.Bearing != nil {
		out.Heading = utils.BearingToCompass(*v.Bearing)
	}
	if v.CurrentStatus != nil {
		out.CurrentStatus = statusName(gtfsrt.VehicleStopStatusNames, *v.CurrentStatus)
	}
	if v.OccupancyStatus != nil {
		out.OccupancyStatus = statusName(gtfsrt.OccupancyStatusNames, *v.OccupancyStatus)
	}
	if v.LastStopID != nil {
		out.LastStopID = *v.LastStopID
	}
	return out
}

// NewVehicleList builds the list wrapper for a query result.
func NewVehicleList(vehicles []VehicleStatus) VehicleList {
	return VehicleList{
		Vehicles:    vehicles,
		Count:       len(vehicles),
		LastUpdated: ResponseCurrentTime(),
	}
}

func statusName(names map[int]string, value int) string {
	if name, ok := names[value]; ok {
		return name
	}
	return UnknownValue
}
