package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/aqi/providers"
	"github.com/i474232898/aqi-feature-store/internal/config"
	"github.com/i474232898/aqi-feature-store/internal/logging"
	"github.com/i474232898/aqi-feature-store/internal/store"
)

// app holds the collaborators of one process run.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  aqi.Store
	http   providers.HTTPClientConfig
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg, os.Stderr)

	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		SQLitePath:    cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	logger.Debug("store opened", "driver", cfg.StoreDriver)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		http: providers.HTTPClientConfig{
			// Shared HTTP client for outbound provider calls.
			Client: &http.Client{Timeout: cfg.HTTPTimeout},
			Retry:  cfg.RetryPolicy(),
			Logger: logger,
		},
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

// location returns the configured entity, resolving its station when
// coordinates are not configured or a station-addressed source needs it.
func (a *app) location(ctx context.Context, needStation bool) (aqi.Location, error) {
	loc := a.cfg.Location()
	if loc.Geo != nil && !needStation {
		return loc, nil
	}
	if a.cfg.AQICNToken == "" {
		return loc, fmt.Errorf("entity %q has no coordinates: set LATITUDE/LONGITUDE or AQICN_TOKEN", loc.Entity)
	}

	meta, err := providers.NewAQICNStationResolver(a.http, a.cfg.AQICNToken).Resolve(ctx, loc)
	if err != nil {
		return loc, fmt.Errorf("resolve station for %q: %w", loc.Entity, err)
	}
	a.logger.Info("station resolved", "entity", loc.Entity, "station_id", meta.StationID, "station", meta.StationName)

	resolved := loc.WithStation(meta)
	if loc.Geo != nil {
		resolved.Geo = loc.Geo
	}
	return resolved, nil
}

// liveSource prefers AQICN and falls back to IQAir.
func (a *app) liveSource() (aqi.LiveSource, error) {
	switch {
	case a.cfg.AQICNToken != "":
		return providers.NewAQICNLive(a.http, a.cfg.AQICNToken), nil
	case a.cfg.IQAirAPIKey != "":
		return providers.NewIQAirCity(a.http, a.cfg.IQAirAPIKey), nil
	}
	return nil, fmt.Errorf("no live AQI source: set AQICN_TOKEN or IQAIR_API_KEY")
}

func (a *app) service() (*aqi.Service, error) {
	live, err := a.liveSource()
	if err != nil {
		return nil, err
	}
	opts := []aqi.ServiceOption{
		aqi.WithWeatherSeries(providers.NewOpenMeteoHourlyWeather(a.http)),
		aqi.WithFeatureVersion(a.cfg.FeatureVersion),
		aqi.WithLogger(a.logger),
	}
	if a.cfg.OpenWeatherAPIKey != "" {
		opts = append(opts, aqi.WithCurrentWeather(providers.NewOpenWeatherCurrent(a.http, a.cfg.OpenWeatherAPIKey)))
	}
	return aqi.NewService(a.store, live, opts...), nil
}

// backfillAQISource returns the hourly AQI history source for loc.
func (a *app) backfillAQISource(loc aqi.Location) aqi.RangeSource {
	if a.cfg.BackfillAQISource != "aqicn" {
		return providers.NewOpenMeteoAirQuality(a.http)
	}
	if loc.StationID > 0 {
		return providers.NewAQICNStationHistory(a.http, a.cfg.AQICNToken)
	}
	return providers.NewAQICNCityHistory(a.http, a.cfg.AQICNToken)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
