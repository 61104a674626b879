package store

import (
	"context"
	"fmt"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	MongoURI      string
	MongoDatabase string
	SQLitePath    string
}

// Open returns the backend named by opts.Driver. The caller owns Close.
func Open(ctx context.Context, opts Options) (aqi.Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

// checkObservation rejects writes missing identity fields or the metric bag
// the granularity requires: pollutants for hourly, weather for daily.
func checkObservation(obs aqi.Observation) error {
	switch {
	case obs.Entity == "":
		return storageError("observation has no entity", nil)
	case obs.EventTimestamp.IsZero():
		return storageError("observation has no event_timestamp", nil)
	case !obs.Granularity.Valid():
		return storageError(fmt.Sprintf("observation has invalid granularity %q", obs.Granularity), nil)
	case obs.Granularity == aqi.Hourly && obs.Pollutants == nil:
		return storageError("hourly observation has no pollutants", nil)
	case obs.Granularity == aqi.Daily && obs.Weather == nil:
		return storageError("daily observation has no weather", nil)
	}
	return nil
}

func checkFeature(rec aqi.FeatureRecord) error {
	switch {
	case rec.Entity == "":
		return storageError("feature record has no entity", nil)
	case rec.EventTimestamp.IsZero():
		return storageError("feature record has no event_timestamp", nil)
	case rec.FeatureVersion == "":
		return storageError("feature record has no feature_version", nil)
	}
	return nil
}

func storageError(msg string, err error) error {
	return aqi.NewError(aqi.KindStorage, "store", msg, err)
}

func notFound(what string) error {
	return aqi.NewError(aqi.KindNotFound, "store", what+" not found", nil)
}

// normalize pins timestamps to UTC at the precision every backend keeps.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
