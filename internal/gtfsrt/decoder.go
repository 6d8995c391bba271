package gtfsrt

import (
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// DecodeVehiclePositions walks the feed entities and returns one typed record
// per vehicle-position entity. Entities of other kinds are ignored; an entity
// with no resolvable vehicle id is counted as skipped rather than failing the
// batch. now is the fallback observation time for entities without a
// timestamp.
func DecodeVehiclePositions(msg *gtfsrtpb.FeedMessage, now time.Time) ([]VehiclePosition, int) {
	var records []VehiclePosition
	skipped := 0

	for _, entity := range msg.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}

		record := VehiclePosition{ObservedAt: now}

		// The descriptor id is authoritative; the entity id is the fallback.
		if desc := vehicle.GetVehicle(); desc != nil && desc.Id != nil {
			record.VehicleID = desc.GetId()
		} else if entity.Id != nil {
			record.VehicleID = entity.GetId()
		} else {
			skipped++
			continue
		}

		if trip := vehicle.GetTrip(); trip != nil {
			record.TripID = trip.TripId
			record.RouteID = trip.RouteId
		}

		if pos := vehicle.GetPosition(); pos != nil {
			record.Latitude = float32To64(pos.Latitude)
			record.Longitude = float32To64(pos.Longitude)
			record.Bearing = float32To64(pos.Bearing)
			record.Speed = float32To64(pos.Speed)
		}

		if vehicle.CurrentStatus != nil {
			status := int(vehicle.GetCurrentStatus())
			record.CurrentStatus = &status
		}
		if vehicle.CongestionLevel != nil {
			level := int(vehicle.GetCongestionLevel())
			record.CongestionLevel = &level
		}
		if vehicle.OccupancyStatus != nil {
			occupancy := int(vehicle.GetOccupancyStatus())
			record.OccupancyStatus = &occupancy
		}
		record.LastStopID = vehicle.StopId

		if vehicle.Timestamp != nil {
			record.ObservedAt = time.Unix(int64(vehicle.GetTimestamp()), 0).UTC()
		}

		records = append(records, record)
	}

	return records, skipped
}

// DecodeTripUpdates walks the feed entities and returns one typed record per
// trip-update entity. The trip id is resolved once here so consumers never
// need nested-field fallbacks. Entities without a trip id are skipped and
// counted.
func DecodeTripUpdates(msg *gtfsrtpb.FeedMessage) ([]TripUpdate, int) {
	var records []TripUpdate
	skipped := 0

	for _, entity := range msg.GetEntity() {
		update := entity.GetTripUpdate()
		if update == nil {
			continue
		}

		trip := update.GetTrip()
		if trip == nil || trip.TripId == nil {
			skipped++
			continue
		}

		record := TripUpdate{
			TripID:    trip.GetTripId(),
			RouteID:   trip.RouteId,
			StartDate: trip.StartDate,
		}
		if update.Delay != nil {
			delay := int(update.GetDelay())
			record.DelaySeconds = &delay
		}

		for _, stu := range update.GetStopTimeUpdate() {
			if stu.StopId == nil {
				continue
			}

			stop := StopTimeUpdate{StopID: stu.GetStopId()}
			if stu.StopSequence != nil {
				seq := int(stu.GetStopSequence())
				stop.StopSequence = &seq
			}
			if arrival := stu.GetArrival(); arrival != nil {
				if arrival.Delay != nil {
					delay := int(arrival.GetDelay())
					stop.ArrivalDelay = &delay
				}
				if arrival.Time != nil {
					t := arrival.GetTime()
					stop.ArrivalTime = &t
				}
			}
			if departure := stu.GetDeparture(); departure != nil {
				if departure.Delay != nil {
					delay := int(departure.GetDelay())
					stop.DepartureDelay = &delay
				}
				if departure.Time != nil {
					t := departure.GetTime()
					stop.DepartureTime = &t
				}
			}

			record.StopTimeUpdates = append(record.StopTimeUpdates, stop)
		}

		records = append(records, record)
	}

	return records, skipped
}

func float32To64(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
