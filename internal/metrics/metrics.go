// Package metrics exposes the service's operational counters on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	FeedPolls    *prometheus.CounterVec // feed label: vehicle_positions|trip_updates
	FeedPollErrs *prometheus.CounterVec

	VehiclesStored      prometheus.Gauge
	VehiclesUpserted    prometheus.Counter
	PredictionsComputed prometheus.Counter
	PredictionsExpired  prometheus.Counter

	BroadcastsSent       prometheus.Counter
	WebsocketSubscribers prometheus.Gauge

	RefreshDuration prometheus.Histogram

	RealtimeInterval prometheus.Gauge // seconds
	StaticInterval   prometheus.Gauge // seconds
}

func NewCollector(realtimeInterval, staticInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitpulse_feed_polls_total",
			Help: "Total realtime feed fetches.",
		}, []string{"feed"}),
		FeedPollErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitpulse_feed_poll_errors_total",
			Help: "Total realtime feed fetches that failed.",
		}, []string{"feed"}),
		VehiclesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_vehicles_stored",
			Help: "Number of vehicles currently in the position store.",
		}),
		VehiclesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_vehicles_upserted_total",
			Help: "Total vehicle position rows written.",
		}),
		PredictionsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_predictions_computed_total",
			Help: "Total predictions written by the fusion engine.",
		}),
		PredictionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_predictions_expired_total",
			Help: "Total predictions removed after expiry.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_broadcasts_total",
			Help: "Total websocket route broadcasts.",
		}),
		WebsocketSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_websocket_subscribers",
			Help: "Number of connected websocket subscribers.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitpulse_realtime_refresh_duration_seconds",
			Help:    "Duration of one realtime refresh cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		RealtimeInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_realtime_interval_seconds",
			Help: "Realtime refresh interval in seconds.",
		}),
		StaticInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_static_interval_seconds",
			Help: "Static schedule refresh interval in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.FeedPolls, c.FeedPollErrs,
		c.VehiclesStored, c.VehiclesUpserted,
		c.PredictionsComputed, c.PredictionsExpired,
		c.BroadcastsSent, c.WebsocketSubscribers,
		c.RefreshDuration,
		c.RealtimeInterval, c.StaticInterval,
	)

	c.RealtimeInterval.Set(realtimeInterval.Seconds())
	c.StaticInterval.Set(staticInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }
