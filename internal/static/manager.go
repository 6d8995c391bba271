// Package static holds the parsed GTFS schedule and answers the lookups the
// fusion engine needs: stop times per trip, stop coordinates, route
// membership, and the agency timezone. The schedule is swapped wholesale on
// refresh; readers always see a complete dataset.
package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/jamespfennell/gtfs"

	"github.com/Johnsingh007-ui/transitpulse/internal/logging"
)

// ErrUnknownTrip is returned when a trip id is not in the loaded schedule.
var ErrUnknownTrip = errors.New("static: unknown trip")

const stopTimeCacheSize = 4096

// StopTime is one scheduled stop call, with times expressed as seconds after
// the service day's midnight. Values past 86400 belong to trips that run over
// midnight.
type StopTime struct {
	StopID           string
	StopSequence     int
	ArrivalSeconds   int
	DepartureSeconds int
	Headsign         string
}

// Manager loads a GTFS static feed from a URL or local file and serves
// read-only schedule lookups.
type Manager struct {
	source      string
	isLocalFile bool
	httpClient  *http.Client
	logger      *slog.Logger

	mu          sync.RWMutex
	data        *gtfs.Static
	tripIndex   map[string]int
	stopIndex   map[string]int
	timezone    *time.Location
	lastUpdated time.Time

	stopTimes gcache.Cache
}

// NewManager loads the schedule from source, which may be an HTTP(S) URL or a
// local zip path, and builds the lookup indexes.
func NewManager(ctx context.Context, source string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		source:      source,
		isLocalFile: !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      logger,
	}

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh re-reads the schedule from the source and atomically swaps it in.
// A failed refresh leaves the previous schedule untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	start := time.Now()

	b, err := m.rawData(ctx)
	if err != nil {
		return fmt.Errorf("error reading GTFS data: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("error parsing GTFS data: %w", err)
	}

	tripIndex := make(map[string]int, len(staticData.Trips))
	for i := range staticData.Trips {
		tripIndex[staticData.Trips[i].ID] = i
	}
	stopIndex := make(map[string]int, len(staticData.Stops))
	for i := range staticData.Stops {
		stopIndex[staticData.Stops[i].Id] = i
	}

	tz := time.UTC
	if len(staticData.Agencies) > 0 && staticData.Agencies[0].Timezone != "" {
		loc, err := time.LoadLocation(staticData.Agencies[0].Timezone)
		if err != nil {
			m.logger.Warn("unparseable agency timezone, falling back to UTC",
				slog.String("timezone", staticData.Agencies[0].Timezone))
		} else {
			tz = loc
		}
	}

	m.mu.Lock()
	m.data = staticData
	m.tripIndex = tripIndex
	m.stopIndex = stopIndex
	m.timezone = tz
	m.lastUpdated = time.Now()
	m.stopTimes = gcache.New(stopTimeCacheSize).LRU().Expiration(time.Hour).Build()
	m.mu.Unlock()

	logging.LogOperation(m.logger, "static schedule refreshed", time.Since(start),
		slog.Int("trips", len(staticData.Trips)),
		slog.Int("stops", len(staticData.Stops)),
		slog.Int("routes", len(staticData.Routes)))
	return nil
}

// RefreshIfStale refreshes only when the loaded schedule is older than maxAge.
func (m *Manager) RefreshIfStale(ctx context.Context, maxAge time.Duration) error {
	m.mu.RLock()
	fresh := time.Since(m.lastUpdated) < maxAge
	m.mu.RUnlock()

	if fresh {
		return nil
	}
	return m.Refresh(ctx)
}

func (m *Manager) rawData(ctx context.Context) ([]byte, error) {
	if m.isLocalFile {
		b, err := os.ReadFile(m.source)
		if err != nil {
			return nil, fmt.Errorf("error reading local GTFS file: %w", err)
		}
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading GTFS data: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, m.logger, "gtfs static body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("error downloading GTFS data: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Timezone returns the agency timezone the schedule's times are expressed in.
func (m *Manager) Timezone() *time.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timezone
}

// LastUpdated reports when the schedule was last swapped in.
func (m *Manager) LastUpdated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdated
}

// TripStopTimes returns the ordered stop calls for a trip. Results are cached
// because the fusion engine asks for the same handful of active trips every
// cycle.
func (m *Manager) TripStopTimes(tripID string) ([]StopTime, error) {
	m.mu.RLock()
	cache := m.stopTimes
	m.mu.RUnlock()

	if cached, err := cache.Get(tripID); err == nil {
		return cached.([]StopTime), nil
	}

	m.mu.RLock()
	idx, ok := m.tripIndex[tripID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrip, tripID)
	}
	trip := m.data.Trips[idx]

	stopTimes := make([]StopTime, 0, len(trip.StopTimes))
	for _, st := range trip.StopTimes {
		if st.Stop == nil {
			continue
		}
		stopTimes = append(stopTimes, StopTime{
			StopID:           st.Stop.Id,
			StopSequence:     st.StopSequence,
			ArrivalSeconds:   int(st.ArrivalTime / time.Second),
			DepartureSeconds: int(st.DepartureTime / time.Second),
			Headsign:         trip.Headsign,
		})
	}
	m.mu.RUnlock()

	_ = cache.Set(tripID, stopTimes)
	return stopTimes, nil
}

// StopCoordinates returns a stop's position, if the schedule has one.
func (m *Manager) StopCoordinates(stopID string) (lat, lon float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, found := m.stopIndex[stopID]
	if !found {
		return 0, 0, false
	}
	stop := m.data.Stops[idx]
	if stop.Latitude == nil || stop.Longitude == nil {
		return 0, 0, false
	}
	return *stop.Latitude, *stop.Longitude, true
}

// StopName returns a stop's display name.
func (m *Manager) StopName(stopID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, found := m.stopIndex[stopID]
	if !found {
		return ""
	}
	return m.data.Stops[idx].Name
}

// RouteForTrip resolves the route a trip belongs to, or "" when the trip is
// not in the schedule.
func (m *Manager) RouteForTrip(tripID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.tripIndex[tripID]
	if !ok {
		return ""
	}
	trip := m.data.Trips[idx]
	if trip.Route == nil {
		return ""
	}
	return trip.Route.Id
}

// TripHeadsign returns the trip's headsign, or "" when unknown.
func (m *Manager) TripHeadsign(tripID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.tripIndex[tripID]
	if !ok {
		return ""
	}
	return m.data.Trips[idx].Headsign
}

// Agencies returns the schedule's agencies.
func (m *Manager) Agencies() []gtfs.Agency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Agencies
}

// Routes returns the schedule's routes.
func (m *Manager) Routes() []gtfs.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Routes
}

// HasRoute reports whether the route id exists in the schedule.
func (m *Manager) HasRoute(routeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.data.Routes {
		if m.data.Routes[i].Id == routeID {
			return true
		}
	}
	return false
}
