package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// Collection names.
const (
	ObservationsCollection = "observations"
	FeaturesCollection     = "features"
)

// MongoStore persists records in MongoDB. Identity is enforced by unique
// compound indexes, so repeated upserts converge on one document.
type MongoStore struct {
	client       *mongo.Client
	observations *mongo.Collection
	features     *mongo.Collection
}

// NewMongoStore connects, pings and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, storageError("connect to mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storageError("ping mongo", err)
	}

	s := newMongoStore(client.Database(database))
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func newMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		observations: db.Collection(ObservationsCollection),
		features:     db.Collection(FeaturesCollection),
	}
}

// EnsureIndexes creates the unique identity indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.observations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "entity", Value: 1},
			{Key: "granularity", Value: 1},
			{Key: "event_timestamp", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("uniq_entity_granularity_ts"),
	})
	if err != nil {
		return storageError("create observations index", err)
	}

	_, err = s.features.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "entity", Value: 1},
			{Key: "event_timestamp", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("uniq_entity_ts"),
	})
	if err != nil {
		return storageError("create features index", err)
	}
	return nil
}

func observationFilter(entity string, g aqi.Granularity, ts time.Time) bson.D {
	return bson.D{
		{Key: "entity", Value: entity},
		{Key: "granularity", Value: g},
		{Key: "event_timestamp", Value: normalize(ts)},
	}
}

func featureFilter(entity string, ts time.Time) bson.D {
	return bson.D{
		{Key: "entity", Value: entity},
		{Key: "event_timestamp", Value: normalize(ts)},
	}
}

func (s *MongoStore) UpsertObservation(ctx context.Context, obs aqi.Observation) error {
	if err := checkObservation(obs); err != nil {
		return err
	}
	obs.EventTimestamp = normalize(obs.EventTimestamp)

	_, err := s.observations.UpdateOne(ctx,
		observationFilter(obs.Entity, obs.Granularity, obs.EventTimestamp),
		bson.M{"$set": obs},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return storageError("upsert observation", err)
	}
	return nil
}

// UpsertObservations sends every valid record in one unordered bulk write.
// Written is upserted plus modified documents.
func (s *MongoStore) UpsertObservations(ctx context.Context, batch []aqi.Observation) (aqi.BatchResult, error) {
	var res aqi.BatchResult

	models := make([]mongo.WriteModel, 0, len(batch))
	for _, obs := range batch {
		if checkObservation(obs) != nil {
			res.Dropped++
			continue
		}
		obs.EventTimestamp = normalize(obs.EventTimestamp)
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(observationFilter(obs.Entity, obs.Granularity, obs.EventTimestamp)).
			SetUpdate(bson.M{"$set": obs}).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return res, nil
	}

	out, err := s.observations.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return res, storageError("bulk upsert observations", err)
	}
	res.Written = int(out.UpsertedCount + out.ModifiedCount)
	return res, nil
}

func (s *MongoStore) GetObservation(ctx context.Context, entity string, g aqi.Granularity, ts time.Time) (aqi.Observation, error) {
	var obs aqi.Observation
	err := s.observations.FindOne(ctx, observationFilter(entity, g, ts)).Decode(&obs)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return aqi.Observation{}, notFound("observation")
		}
		return aqi.Observation{}, storageError("get observation", err)
	}
	obs.EventTimestamp = obs.EventTimestamp.UTC()
	obs.IngestedAt = obs.IngestedAt.UTC()
	return obs, nil
}

func (s *MongoStore) ListObservations(ctx context.Context, entity string, g aqi.Granularity, from, to time.Time) ([]aqi.Observation, error) {
	filter := bson.D{
		{Key: "entity", Value: entity},
		{Key: "granularity", Value: g},
		{Key: "event_timestamp", Value: bson.D{
			{Key: "$gte", Value: normalize(from)},
			{Key: "$lte", Value: normalize(to)},
		}},
	}
	cur, err := s.observations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "event_timestamp", Value: 1}}))
	if err != nil {
		return nil, storageError("list observations", err)
	}
	defer cur.Close(ctx)

	var out []aqi.Observation
	if err := cur.All(ctx, &out); err != nil {
		return nil, storageError("decode observations", err)
	}
	for i := range out {
		out[i].EventTimestamp = out[i].EventTimestamp.UTC()
		out[i].IngestedAt = out[i].IngestedAt.UTC()
	}
	return out, nil
}

func (s *MongoStore) UpsertFeature(ctx context.Context, rec aqi.FeatureRecord) error {
	if err := checkFeature(rec); err != nil {
		return err
	}
	rec.EventTimestamp = normalize(rec.EventTimestamp)

	_, err := s.features.UpdateOne(ctx,
		featureFilter(rec.Entity, rec.EventTimestamp),
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return storageError("upsert feature record", err)
	}
	return nil
}

func (s *MongoStore) GetFeature(ctx context.Context, entity string, ts time.Time) (aqi.FeatureRecord, error) {
	var rec aqi.FeatureRecord
	err := s.features.FindOne(ctx, featureFilter(entity, ts)).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return aqi.FeatureRecord{}, notFound("feature record")
		}
		return aqi.FeatureRecord{}, storageError("get feature record", err)
	}
	rec.EventTimestamp = rec.EventTimestamp.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
