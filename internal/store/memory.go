package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

type observationKey struct {
	entity      string
	granularity aqi.Granularity
	ts          int64
}

type featureKey struct {
	entity string
	ts     int64
}

// MemoryStore is a concurrency-safe in-memory store. Nothing survives the
// process; it backs tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	observations map[observationKey]aqi.Observation
	features     map[featureKey]aqi.FeatureRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		observations: make(map[observationKey]aqi.Observation),
		features:     make(map[featureKey]aqi.FeatureRecord),
	}
}

func obsKey(entity string, g aqi.Granularity, ts time.Time) observationKey {
	return observationKey{entity: entity, granularity: g, ts: normalize(ts).UnixNano()}
}

func copyObservation(obs aqi.Observation) aqi.Observation {
	obs.EventTimestamp = normalize(obs.EventTimestamp)
	obs.Pollutants = obs.Pollutants.Clone()
	obs.Weather = obs.Weather.Clone()
	return obs
}

// UpsertObservation inserts obs or replaces the stored document with the same key.
func (s *MemoryStore) UpsertObservation(_ context.Context, obs aqi.Observation) error {
	if err := checkObservation(obs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[obsKey(obs.Entity, obs.Granularity, obs.EventTimestamp)] = copyObservation(obs)
	return nil
}

// UpsertObservations writes the valid records under one lock and drops the rest.
func (s *MemoryStore) UpsertObservations(_ context.Context, batch []aqi.Observation) (aqi.BatchResult, error) {
	var res aqi.BatchResult

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obs := range batch {
		if checkObservation(obs) != nil {
			res.Dropped++
			continue
		}
		s.observations[obsKey(obs.Entity, obs.Granularity, obs.EventTimestamp)] = copyObservation(obs)
		res.Written++
	}
	return res, nil
}

// GetObservation returns the observation stored under the exact key.
func (s *MemoryStore) GetObservation(_ context.Context, entity string, g aqi.Granularity, ts time.Time) (aqi.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, ok := s.observations[obsKey(entity, g, ts)]
	if !ok {
		return aqi.Observation{}, notFound("observation")
	}
	return copyObservation(obs), nil
}

// ListObservations returns observations in [from, to], ascending.
func (s *MemoryStore) ListObservations(_ context.Context, entity string, g aqi.Granularity, from, to time.Time) ([]aqi.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []aqi.Observation
	for k, obs := range s.observations {
		if k.entity != entity || k.granularity != g {
			continue
		}
		if obs.EventTimestamp.Before(from) || obs.EventTimestamp.After(to) {
			continue
		}
		result = append(result, copyObservation(obs))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EventTimestamp.Before(result[j].EventTimestamp)
	})
	return result, nil
}

// UpsertFeature inserts or replaces the feature record for (entity, event_timestamp).
func (s *MemoryStore) UpsertFeature(_ context.Context, rec aqi.FeatureRecord) error {
	if err := checkFeature(rec); err != nil {
		return err
	}
	rec.EventTimestamp = normalize(rec.EventTimestamp)
	rec.Features.Weather = rec.Features.Weather.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[featureKey{entity: rec.Entity, ts: rec.EventTimestamp.UnixNano()}] = rec
	return nil
}

// GetFeature returns the feature record for (entity, ts).
func (s *MemoryStore) GetFeature(_ context.Context, entity string, ts time.Time) (aqi.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.features[featureKey{entity: entity, ts: normalize(ts).UnixNano()}]
	if !ok {
		return aqi.FeatureRecord{}, notFound("feature record")
	}
	return rec, nil
}

// Len returns the number of stored observations and feature records.
func (s *MemoryStore) Len() (observations, features int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations), len(s.features)
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
