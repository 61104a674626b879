package aqi

import (
	"context"
	"errors"
	"time"
)

// DefaultFeatureVersion tags feature records written by this build.
const DefaultFeatureVersion = "v1"

// Lag offsets looked up for every feature record.
var (
	Lag1  = time.Hour
	Lag3  = 3 * time.Hour
	Lag24 = 24 * time.Hour
)

// FeatureComputer derives lag and trend features from observations already
// committed to the store.
type FeatureComputer struct {
	store   ObservationStore
	version string
	now     func() time.Time
}

// NewFeatureComputer creates a FeatureComputer writing the given version tag.
func NewFeatureComputer(store ObservationStore, version string) *FeatureComputer {
	if version == "" {
		version = DefaultFeatureVersion
	}
	return &FeatureComputer{
		store:   store,
		version: version,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Compute builds the FeatureRecord for obs. Lags are exact hourly lookups at
// T-1h, T-3h and T-24h; a missing lag stays nil.
func (c *FeatureComputer) Compute(ctx context.Context, obs Observation) (FeatureRecord, error) {
	ts := obs.EventTimestamp.UTC()

	lag1, err := c.lag(ctx, obs.Entity, ts.Add(-Lag1))
	if err != nil {
		return FeatureRecord{}, err
	}
	lag3, err := c.lag(ctx, obs.Entity, ts.Add(-Lag3))
	if err != nil {
		return FeatureRecord{}, err
	}
	lag24, err := c.lag(ctx, obs.Entity, ts.Add(-Lag24))
	if err != nil {
		return FeatureRecord{}, err
	}

	weather := obs.Weather.Clone()
	if weather == nil {
		weather = NewWeather()
	}

	return FeatureRecord{
		Entity:         obs.Entity,
		EventTimestamp: ts,
		FeatureVersion: c.version,
		Features: Features{
			AQI:           obs.AQI,
			AQILag1:       lag1,
			AQILag3:       lag3,
			AQILag24:      lag24,
			AQIChangeRate: changeRate(obs.AQI, lag1),
			Hour:          ts.Hour(),
			Day:           ts.Day(),
			Month:         int(ts.Month()),
			Weather:       weather,
		},
		Source:    obs.Source,
		CreatedAt: c.now(),
	}, nil
}

func (c *FeatureComputer) lag(ctx context.Context, entity string, at time.Time) (*float64, error) {
	prev, err := c.store.GetObservation(ctx, entity, Hourly, at)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prev.AQI == nil {
		return nil, nil
	}
	v := float64(*prev.AQI)
	return &v, nil
}

func changeRate(current *int, lag1 *float64) *float64 {
	if current == nil || lag1 == nil || *lag1 == 0 {
		return nil
	}
	rate := (float64(*current) - *lag1) / *lag1
	return &rate
}
