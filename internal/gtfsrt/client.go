// Package gtfsrt fetches and decodes GTFS-realtime protobuf feeds into typed
// records with fully-optional fields, so downstream consumers never need
// per-field presence checks of their own.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/Johnsingh007-ui/transitpulse/internal/logging"
)

const defaultTimeout = 15 * time.Second

// FeedConfig identifies one agency's realtime feeds.
type FeedConfig struct {
	AgencyID            string
	VehiclePositionsURL string
	TripUpdatesURL      string
	AuthHeaderKey       string
	AuthHeaderValue     string
}

// Client fetches GTFS-RT feeds with a bounded per-request timeout.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feed client. A zero timeout uses the 15s default.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchVehiclePositions fetches and decodes the vehicle-positions feed for
// the given agency. Transport and HTTP failures are returned to the caller;
// retry policy is the caller's decision.
func (c *Client) FetchVehiclePositions(ctx context.Context, feed FeedConfig) ([]VehiclePosition, error) {
	msg, err := c.fetchFeed(ctx, feed.VehiclePositionsURL, feed)
	if err != nil {
		return nil, err
	}

	records, skipped := DecodeVehiclePositions(msg, time.Now())
	if skipped > 0 {
		c.logger.Warn("skipped malformed vehicle entities",
			slog.String("agency_id", feed.AgencyID),
			slog.Int("skipped", skipped))
	}
	return records, nil
}

// FetchTripUpdates fetches and decodes the trip-updates feed for the given
// agency.
func (c *Client) FetchTripUpdates(ctx context.Context, feed FeedConfig) ([]TripUpdate, error) {
	msg, err := c.fetchFeed(ctx, feed.TripUpdatesURL, feed)
	if err != nil {
		return nil, err
	}

	records, skipped := DecodeTripUpdates(msg)
	if skipped > 0 {
		c.logger.Warn("skipped malformed trip update entities",
			slog.String("agency_id", feed.AgencyID),
			slog.Int("skipped", skipped))
	}
	return records, nil
}

func (c *Client) fetchFeed(ctx context.Context, url string, feed FeedConfig) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrFeedUnavailable, url, err)
	}
	req.Header.Set("Accept", "application/x-protobuf")
	if feed.AuthHeaderKey != "" && feed.AuthHeaderValue != "" {
		req.Header.Set(feed.AuthHeaderKey, feed.AuthHeaderValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrFeedUnavailable, url, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		c.logger.With(slog.String("component", "feed_client")),
		"http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFeedUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFeedUnavailable, url, err)
	}

	msg := &gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedParse, err)
	}

	return msg, nil
}
