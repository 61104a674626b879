// Package config loads process configuration from the environment.
//
// The loading sequence is:
//  1. Force the process timezone to UTC.
//  2. Load .env via godotenv (non-fatal if absent).
//  3. Populate Config from struct tags with envconfig.
//  4. Validate the struct with go-playground/validator.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/aqi/providers"
)

// ErrorType classifies configuration failures.
type ErrorType string

const (
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

// Error is returned by Load.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Date is a YYYY-MM-DD environment value at UTC midnight.
type Date struct {
	time.Time
}

// Decode implements envconfig.Decoder.
func (d *Date) Decode(value string) error {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(value))
	if err != nil {
		return err
	}
	d.Time = t.UTC()
	return nil
}

// Config is the full process configuration.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev" validate:"oneof=dev prod"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AQICNToken        string `envconfig:"AQICN_TOKEN"`
	IQAirAPIKey       string `envconfig:"IQAIR_API_KEY"`
	OpenWeatherAPIKey string `envconfig:"OPENWEATHER_API_KEY"`

	City    string   `envconfig:"CITY" default:"karachi" validate:"required"`
	State   string   `envconfig:"STATE"`
	Country string   `envconfig:"COUNTRY"`
	Lat     *float64 `envconfig:"LATITUDE" validate:"omitempty,gte=-90,lte=90"`
	Lon     *float64 `envconfig:"LONGITUDE" validate:"omitempty,gte=-180,lte=180"`

	RetryAttempts      int           `envconfig:"RETRY_ATTEMPTS" default:"5" validate:"min=1"`
	RetryInitialWait   time.Duration `envconfig:"RETRY_INITIAL_WAIT" default:"5s" validate:"gte=0"`
	RetryBackoffFactor float64       `envconfig:"RETRY_BACKOFF_FACTOR" default:"2" validate:"gte=1"`
	RetryMaxWait       time.Duration `envconfig:"RETRY_MAX_WAIT" default:"60s" validate:"gtefield=RetryInitialWait"`
	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s" validate:"gt=0"`

	BackfillStart     Date          `envconfig:"BACKFILL_START"`
	BackfillEnd       Date          `envconfig:"BACKFILL_END"`
	BackfillBatchDays int           `envconfig:"BACKFILL_BATCH_DAYS" default:"1" validate:"min=1"`
	BackfillPace      time.Duration `envconfig:"BACKFILL_PACE" default:"1s" validate:"gte=0"`
	BackfillAQISource string        `envconfig:"BACKFILL_AQI_SOURCE" default:"openmeteo" validate:"oneof=openmeteo aqicn"`
	BackfillFeatures  bool          `envconfig:"BACKFILL_FEATURES" default:"true"`

	StoreDriver   string `envconfig:"STORE_DRIVER" default:"mongo" validate:"oneof=mongo sqlite memory"`
	MongoURI      string `envconfig:"MONGO_URI" validate:"required_if=StoreDriver mongo"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"aqi_feature_store" validate:"required"`
	SQLitePath    string `envconfig:"SQLITE_PATH" validate:"required_if=StoreDriver sqlite"`

	FeatureVersion string `envconfig:"FEATURE_VERSION" default:"v1" validate:"required"`
	LiveSchedule   string `envconfig:"LIVE_SCHEDULE" default:"5 * * * *" validate:"required"`
	Port           string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	time.Local = time.UTC

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &Error{Type: ErrParsing, Message: "failed to parse environment", Err: err}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, &Error{Type: ErrValidation, Message: "invalid configuration", Err: err}
	}
	if (cfg.Lat == nil) != (cfg.Lon == nil) {
		return nil, &Error{Type: ErrValidation, Message: "LATITUDE and LONGITUDE must be set together"}
	}
	if !cfg.BackfillStart.IsZero() && !cfg.BackfillEnd.IsZero() && cfg.BackfillEnd.Before(cfg.BackfillStart.Time) {
		return nil, &Error{Type: ErrValidation, Message: "BACKFILL_END is before BACKFILL_START"}
	}

	return &cfg, nil
}

// IsProd reports whether the process runs in production mode.
func (c *Config) IsProd() bool {
	return c.AppEnv == "prod"
}

// Location returns the configured entity. Geo is set only when both
// coordinates are configured; otherwise it is filled by the station resolver.
func (c *Config) Location() aqi.Location {
	loc := aqi.Location{
		Entity:  strings.ToLower(strings.TrimSpace(c.City)),
		State:   c.State,
		Country: c.Country,
	}
	if c.Lat != nil && c.Lon != nil {
		loc.Geo = &aqi.Geo{Lat: *c.Lat, Lon: *c.Lon}
	}
	return loc
}

// RetryPolicy returns the adapter retry settings.
func (c *Config) RetryPolicy() providers.RetryPolicy {
	return providers.RetryPolicy{
		Retries:       c.RetryAttempts,
		InitialWait:   c.RetryInitialWait,
		BackoffFactor: c.RetryBackoffFactor,
		MaxWait:       c.RetryMaxWait,
	}
}
