package aqi

import (
	"context"
	"time"
)

// LiveSource fetches the current observation for a location. A nil
// observation with a nil error is the degraded result after exhausted retries.
type LiveSource interface {
	Name() string
	FetchLive(ctx context.Context, loc Location) (*Observation, error)
}

// RangeSource fetches hourly observations for the UTC days [from, to],
// ordered by ascending event timestamp. Gaps produce a shorter slice.
type RangeSource interface {
	Name() string
	FetchRange(ctx context.Context, loc Location, from, to time.Time) ([]Observation, error)
}

// StationResolver resolves an entity name to its monitoring station.
type StationResolver interface {
	Resolve(ctx context.Context, loc Location) (StationMeta, error)
}

// BatchResult reports the outcome of a bulk upsert.
type BatchResult struct {
	// Written is inserted plus modified documents.
	Written int
	// Dropped counts records rejected before the write for missing key fields.
	Dropped int
}

// ObservationStore persists canonical observations keyed by
// (entity, granularity, event_timestamp).
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs Observation) error
	UpsertObservations(ctx context.Context, obs []Observation) (BatchResult, error)
	GetObservation(ctx context.Context, entity string, g Granularity, ts time.Time) (Observation, error)
	ListObservations(ctx context.Context, entity string, g Granularity, from, to time.Time) ([]Observation, error)
}

// FeatureStore persists feature records keyed by (entity, event_timestamp).
type FeatureStore interface {
	UpsertFeature(ctx context.Context, rec FeatureRecord) error
	GetFeature(ctx context.Context, entity string, ts time.Time) (FeatureRecord, error)
}

// Store is the full persistence contract shared by all backends.
type Store interface {
	ObservationStore
	FeatureStore
	Close(ctx context.Context) error
}
