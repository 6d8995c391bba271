// Package config loads the service configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port int    `validate:"gt=0,lte=65535"`
	Env  string `validate:"oneof=development production test"`

	AgencyID         string `validate:"required"`
	StaticGTFSSource string `validate:"required"`

	VehiclePositionsURL string `validate:"omitempty,url"`
	TripUpdatesURL      string `validate:"omitempty,url"`
	FeedAuthHeaderKey   string
	FeedAuthHeaderValue string

	DBPath string `validate:"required"`

	RealtimeInterval time.Duration `validate:"gt=0"`
	StaticInterval   time.Duration `validate:"gt=0"`
	FeedTimeout      time.Duration `validate:"gt=0"`
	VehicleRetention time.Duration `validate:"gt=0"`
	PingInterval     time.Duration `validate:"gt=0"`

	Verbose bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in when present.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Env:                 getenvDefault("APP_ENV", "development"),
		AgencyID:            os.Getenv("AGENCY_ID"),
		StaticGTFSSource:    os.Getenv("GTFS_STATIC_SOURCE"),
		VehiclePositionsURL: os.Getenv("GTFS_RT_VEHICLE_POSITIONS_URL"),
		TripUpdatesURL:      os.Getenv("GTFS_RT_TRIP_UPDATES_URL"),
		FeedAuthHeaderKey:   os.Getenv("GTFS_RT_AUTH_HEADER_KEY"),
		FeedAuthHeaderValue: os.Getenv("GTFS_RT_AUTH_HEADER_VALUE"),
		DBPath:              getenvDefault("DB_PATH", "transitpulse.db"),
		Verbose:             boolEnv("VERBOSE"),
	}

	var err error
	if cfg.Port, err = intEnv("PORT", 4000); err != nil {
		return nil, err
	}

	if cfg.RealtimeInterval, err = secondsEnv("REALTIME_INTERVAL_SEC", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaticInterval, err = secondsEnv("STATIC_INTERVAL_SEC", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.FeedTimeout, err = secondsEnv("FEED_TIMEOUT_SEC", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.VehicleRetention, err = secondsEnv("VEHICLE_RETENTION_SEC", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = secondsEnv("WS_PING_INTERVAL_SEC", 10*time.Second); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.VehiclePositionsURL == "" && cfg.TripUpdatesURL == "" {
		return nil, errors.New("at least one of GTFS_RT_VEHICLE_POSITIONS_URL and GTFS_RT_TRIP_UPDATES_URL must be set")
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func secondsEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func boolEnv(k string) bool {
	switch os.Getenv(k) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
