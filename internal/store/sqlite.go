package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

var (
	//go:embed sql/schema.sql
	schemaSQL string
	//go:embed sql/upsert_observation.sql
	upsertObservationSQL string
	//go:embed sql/upsert_feature.sql
	upsertFeatureSQL string
)

// tsLayout is fixed width so text comparison orders like time.
const tsLayout = "2006-01-02T15:04:05.000Z"

const observationColumns = `entity, granularity, event_timestamp, aqi, dominant_pollutant,
  pollutants, weather, source, ingested_at`

// SQLiteStore persists records in a local SQLite file. The primary keys are
// the identity; upserts use ON CONFLICT DO UPDATE.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path (or ":memory:") and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, storageError("sqlite dsn", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageError("sqlite open", err)
	}
	// One writer at a time; an in-memory database only exists on its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageError("sqlite ping", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, storageError("sqlite schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func buildDSN(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return ":memory:", nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
}

func formatTS(t time.Time) string {
	return normalize(t).Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func observationArgs(obs aqi.Observation) ([]any, error) {
	pollutants, err := json.Marshal(obs.Pollutants)
	if err != nil {
		return nil, err
	}
	weather, err := json.Marshal(obs.Weather)
	if err != nil {
		return nil, err
	}

	var aqiVal, dominant any
	if obs.AQI != nil {
		aqiVal = *obs.AQI
	}
	if obs.DominantPollutant != nil {
		dominant = *obs.DominantPollutant
	}

	return []any{
		obs.Entity,
		string(obs.Granularity),
		formatTS(obs.EventTimestamp),
		aqiVal,
		dominant,
		string(pollutants),
		string(weather),
		obs.Source,
		formatTS(obs.IngestedAt),
	}, nil
}

func (s *SQLiteStore) UpsertObservation(ctx context.Context, obs aqi.Observation) error {
	if err := checkObservation(obs); err != nil {
		return err
	}
	args, err := observationArgs(obs)
	if err != nil {
		return storageError("encode observation", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertObservationSQL, args...); err != nil {
		return storageError("upsert observation", err)
	}
	return nil
}

// UpsertObservations writes every valid record in one transaction.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, batch []aqi.Observation) (res aqi.BatchResult, err error) {
	valid := make([][]any, 0, len(batch))
	for _, obs := range batch {
		if checkObservation(obs) != nil {
			res.Dropped++
			continue
		}
		args, encErr := observationArgs(obs)
		if encErr != nil {
			res.Dropped++
			continue
		}
		valid = append(valid, args)
	}
	if len(valid) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, storageError("begin batch", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertObservationSQL)
	if err != nil {
		return res, storageError("prepare batch", err)
	}
	defer stmt.Close()

	written := 0
	for _, args := range valid {
		r, execErr := stmt.ExecContext(ctx, args...)
		if execErr != nil {
			return res, storageError("bulk upsert observations", execErr)
		}
		n, _ := r.RowsAffected()
		written += int(n)
	}

	if err = tx.Commit(); err != nil {
		return res, storageError("commit batch", err)
	}
	res.Written = written
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (aqi.Observation, error) {
	var (
		obs                      aqi.Observation
		granularity, ts, ingested string
		pollutants, weather      string
		aqiVal                   sql.NullInt64
		dominant                 sql.NullString
	)
	if err := row.Scan(&obs.Entity, &granularity, &ts, &aqiVal, &dominant, &pollutants, &weather, &obs.Source, &ingested); err != nil {
		return aqi.Observation{}, err
	}

	obs.Granularity = aqi.Granularity(granularity)
	var err error
	if obs.EventTimestamp, err = parseTS(ts); err != nil {
		return aqi.Observation{}, err
	}
	if obs.IngestedAt, err = parseTS(ingested); err != nil {
		return aqi.Observation{}, err
	}
	if aqiVal.Valid {
		v := int(aqiVal.Int64)
		obs.AQI = &v
	}
	if dominant.Valid {
		d := dominant.String
		obs.DominantPollutant = &d
	}
	if err := json.Unmarshal([]byte(pollutants), &obs.Pollutants); err != nil {
		return aqi.Observation{}, err
	}
	if err := json.Unmarshal([]byte(weather), &obs.Weather); err != nil {
		return aqi.Observation{}, err
	}
	return obs, nil
}

func (s *SQLiteStore) GetObservation(ctx context.Context, entity string, g aqi.Granularity, ts time.Time) (aqi.Observation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE entity = ? AND granularity = ? AND event_timestamp = ?`,
		entity, string(g), formatTS(ts))

	obs, err := scanObservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return aqi.Observation{}, notFound("observation")
		}
		return aqi.Observation{}, storageError("get observation", err)
	}
	return obs, nil
}

func (s *SQLiteStore) ListObservations(ctx context.Context, entity string, g aqi.Granularity, from, to time.Time) ([]aqi.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE entity = ? AND granularity = ? AND event_timestamp BETWEEN ? AND ?
		 ORDER BY event_timestamp ASC`,
		entity, string(g), formatTS(from), formatTS(to))
	if err != nil {
		return nil, storageError("list observations", err)
	}
	defer rows.Close()

	var out []aqi.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, storageError("scan observation", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list observations", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertFeature(ctx context.Context, rec aqi.FeatureRecord) error {
	if err := checkFeature(rec); err != nil {
		return err
	}
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return storageError("encode features", err)
	}

	_, err = s.db.ExecContext(ctx, upsertFeatureSQL,
		rec.Entity,
		formatTS(rec.EventTimestamp),
		rec.FeatureVersion,
		string(features),
		rec.Source,
		formatTS(rec.CreatedAt),
	)
	if err != nil {
		return storageError("upsert feature record", err)
	}
	return nil
}

func (s *SQLiteStore) GetFeature(ctx context.Context, entity string, ts time.Time) (aqi.FeatureRecord, error) {
	var (
		rec                       aqi.FeatureRecord
		eventTS, created, payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT entity, event_timestamp, feature_version, features, source, created_at
		 FROM features WHERE entity = ? AND event_timestamp = ?`,
		entity, formatTS(ts),
	).Scan(&rec.Entity, &eventTS, &rec.FeatureVersion, &payload, &rec.Source, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return aqi.FeatureRecord{}, notFound("feature record")
		}
		return aqi.FeatureRecord{}, storageError("get feature record", err)
	}

	if rec.EventTimestamp, err = parseTS(eventTS); err != nil {
		return aqi.FeatureRecord{}, storageError("decode feature record", err)
	}
	if rec.CreatedAt, err = parseTS(created); err != nil {
		return aqi.FeatureRecord{}, storageError("decode feature record", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Features); err != nil {
		return aqi.FeatureRecord{}, storageError("decode feature record", err)
	}
	return rec, nil
}

// Count returns the number of stored observations and feature records.
func (s *SQLiteStore) Count(ctx context.Context) (observations, features int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&observations); err != nil {
		return 0, 0, storageError("count observations", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features`).Scan(&features); err != nil {
		return 0, 0, storageError("count features", err)
	}
	return observations, features, nil
}

func (s *SQLiteStore) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
