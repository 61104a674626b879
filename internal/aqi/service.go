package aqi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// LiveResult is the result of one live feature pipeline run.
type LiveResult struct {
	Outcome
	Observation *Observation   `json:"observation,omitempty"`
	Feature     *FeatureRecord `json:"feature,omitempty"`
}

// Service runs the live feature pipeline and serves reads from the store.
type Service struct {
	store    Store
	live     LiveSource
	weather  RangeSource
	current  LiveSource
	features *FeatureComputer
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWeatherSeries sets the hourly weather source used for nearest joins.
func WithWeatherSeries(src RangeSource) ServiceOption {
	return func(s *Service) { s.weather = src }
}

// WithCurrentWeather sets the instant weather source used when the hourly
// series is empty.
func WithCurrentWeather(src LiveSource) ServiceOption {
	return func(s *Service) { s.current = src }
}

// WithFeatureVersion overrides the feature version tag.
func WithFeatureVersion(version string) ServiceOption {
	return func(s *Service) { s.features = NewFeatureComputer(s.store, version) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new Service.
func NewService(store Store, live LiveSource, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		live:     live,
		features: NewFeatureComputer(store, DefaultFeatureVersion),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunLive fetches the current observation for loc, aligns it with weather,
// stores it and writes its feature record. Missing live data and records
// failing validation are reported as skipped outcomes.
func (s *Service) RunLive(ctx context.Context, loc Location) (LiveResult, error) {
	if s.live == nil {
		return LiveResult{}, fmt.Errorf("no live source configured")
	}

	obs, err := s.live.FetchLive(ctx, loc)
	if err != nil {
		return LiveResult{}, err
	}
	if obs == nil || obs.AQI == nil {
		s.logger.Warn("no live AQI, skipping pipeline run", "entity", loc.Entity, "source", s.live.Name())
		return LiveResult{Outcome: Skipped("no live AQI")}, nil
	}

	obs.EventTimestamp = obs.EventTimestamp.UTC()
	obs.Granularity = Hourly
	if err := RequireAQI(*obs); err != nil {
		s.logger.Warn("live observation rejected", "entity", loc.Entity, "error", err)
		return LiveResult{Outcome: Skipped(err.Error())}, nil
	}

	// Weather is matched against the provider's own time; the stored record
	// sits on the hour so lag lookups line up.
	merged := s.alignWeather(ctx, loc, *obs)
	merged.EventTimestamp = merged.EventTimestamp.Truncate(time.Hour)
	merged.Granularity = Hourly

	if err := s.store.UpsertObservation(ctx, merged); err != nil {
		return LiveResult{}, err
	}

	rec, err := s.features.Compute(ctx, merged)
	if err != nil {
		return LiveResult{}, err
	}
	if err := s.store.UpsertFeature(ctx, rec); err != nil {
		return LiveResult{}, err
	}

	s.logger.Info("feature pipeline run completed",
		"entity", merged.Entity,
		"event_timestamp", merged.EventTimestamp,
		"aqi", *merged.AQI,
		"aqi_lag_1", rec.Features.AQILag1,
	)
	return LiveResult{Outcome: Succeeded(), Observation: &merged, Feature: &rec}, nil
}

// alignWeather nearest-joins obs with the last day of hourly weather, falling
// back to the current-weather source. Without any weather obs is returned
// unchanged.
func (s *Service) alignWeather(ctx context.Context, loc Location, obs Observation) Observation {
	var series []Observation

	if s.weather != nil {
		from := obs.EventTimestamp.Truncate(time.Hour).Add(-Lag24)
		rows, err := s.weather.FetchRange(ctx, loc, from, obs.EventTimestamp)
		if err != nil {
			s.logger.Warn("weather series fetch failed", "source", s.weather.Name(), "error", err)
		}
		series = rows
	}

	if len(series) == 0 && s.current != nil {
		cur, err := s.current.FetchLive(ctx, loc)
		if err != nil {
			s.logger.Warn("current weather fetch failed", "source", s.current.Name(), "error", err)
		}
		if cur != nil {
			series = []Observation{*cur}
		}
	}

	if len(series) == 0 {
		s.logger.Warn("no weather available, storing observation without weather", "entity", obs.Entity)
		return obs
	}

	row, err := NearestJoin(obs, series)
	if err != nil {
		return obs
	}
	s.logger.Debug("aligned weather", "entity", obs.Entity, "delta", row.Delta, "weather_ts", row.Weather.EventTimestamp)
	return row.Observation()
}

// Observations returns stored observations for entity in [from, to].
func (s *Service) Observations(ctx context.Context, entity string, g Granularity, from, to time.Time) ([]Observation, error) {
	return s.store.ListObservations(ctx, entity, g, from, to)
}

// Feature returns the stored feature record at ts.
func (s *Service) Feature(ctx context.Context, entity string, ts time.Time) (FeatureRecord, error) {
	return s.store.GetFeature(ctx, entity, ts.UTC())
}
