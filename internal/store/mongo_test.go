package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

func upsertedReply(n, modified int, upsertedIdx ...int) bson.D {
	upserted := bson.A{}
	for _, i := range upsertedIdx {
		upserted = append(upserted, bson.D{{Key: "index", Value: i}, {Key: "_id", Value: primitive.NewObjectID()}})
	}
	elems := []bson.E{{Key: "n", Value: n}, {Key: "nModified", Value: modified}}
	if len(upserted) > 0 {
		elems = append(elems, bson.E{Key: "upserted", Value: upserted})
	}
	return mtest.CreateSuccessResponse(elems...)
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("ensure indexes", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		require.NoError(mt, s.EnsureIndexes(ctx))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "createIndexes", evt.CommandName)
		indexes, err := evt.Command.Lookup("indexes").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, indexes, 1)
		assert.True(mt, indexes[0].Document().Lookup("unique").Boolean())
	})

	mt.Run("upsert sends an upsert keyed on identity", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		mt.AddMockResponses(upsertedReply(1, 0, 0))

		require.NoError(mt, s.UpsertObservation(ctx, hourlyObs("karachi", t0, 50)))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "update", evt.CommandName)
		updates, err := evt.Command.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, updates, 1)
		stmt := updates[0].Document()
		assert.True(mt, stmt.Lookup("upsert").Boolean())
		assert.Equal(mt, "karachi", stmt.Lookup("q", "entity").StringValue())
		assert.Equal(mt, "hourly", stmt.Lookup("q", "granularity").StringValue())
		assert.True(mt, t0.Equal(stmt.Lookup("q", "event_timestamp").Time()))

		var set struct {
			AQI         int    `bson:"aqi"`
			Granularity string `bson:"granularity"`
		}
		require.NoError(mt, stmt.Lookup("u", "$set").Unmarshal(&set))
		assert.Equal(mt, 50, set.AQI)
		assert.Equal(mt, "hourly", set.Granularity)
	})

	mt.Run("upsert rejects missing identity without I/O", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		err := s.UpsertObservation(ctx, hourlyObs("", t0, 50))
		assert.ErrorIs(mt, err, aqi.ErrStorage)
		assert.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("batch is one bulk write reporting inserted plus modified", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		mt.AddMockResponses(upsertedReply(3, 1, 0, 2))

		batch := []aqi.Observation{
			hourlyObs("karachi", t0, 10),
			hourlyObs("karachi", t0.Add(time.Hour), 20),
			hourlyObs("", t0, 30),
			hourlyObs("karachi", t0.Add(2*time.Hour), 40),
		}
		res, err := s.UpsertObservations(ctx, batch)
		require.NoError(mt, err)
		assert.Equal(mt, 3, res.Written)
		assert.Equal(mt, 1, res.Dropped)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		updates, err := evt.Command.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, updates, 3)
		assert.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("get decodes the stored document", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		doc := bson.D{
			{Key: "entity", Value: "karachi"},
			{Key: "event_timestamp", Value: t0},
			{Key: "granularity", Value: "hourly"},
			{Key: "aqi", Value: 75},
			{Key: "dominant_pollutant", Value: nil},
			{Key: "pollutants", Value: bson.D{{Key: "pm25", Value: 30.5}, {Key: "co", Value: nil}}},
			{Key: "weather", Value: bson.D{{Key: "temperature", Value: 21.0}}},
			{Key: "source", Value: "aqicn"},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aqi.observations", mtest.FirstBatch, doc))

		got, err := s.GetObservation(ctx, "karachi", aqi.Hourly, t0)
		require.NoError(mt, err)
		assert.Equal(mt, 75, *got.AQI)
		assert.Nil(mt, got.DominantPollutant)
		assert.InDelta(mt, 30.5, *got.Pollutants[aqi.PM25], 1e-9)
		assert.Nil(mt, got.Pollutants[aqi.CO])
		assert.True(mt, t0.Equal(got.EventTimestamp))
	})

	mt.Run("get maps no documents to not found", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aqi.observations", mtest.FirstBatch))

		_, err := s.GetObservation(ctx, "karachi", aqi.Hourly, t0)
		assert.ErrorIs(mt, err, aqi.ErrNotFound)
	})

	mt.Run("list returns rows in order", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		first := bson.D{{Key: "entity", Value: "karachi"}, {Key: "event_timestamp", Value: t0}, {Key: "aqi", Value: 1}}
		second := bson.D{{Key: "entity", Value: "karachi"}, {Key: "event_timestamp", Value: t0.Add(time.Hour)}, {Key: "aqi", Value: 2}}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aqi.observations", mtest.FirstBatch, first, second))

		rows, err := s.ListObservations(ctx, "karachi", aqi.Hourly, t0, t0.Add(time.Hour))
		require.NoError(mt, err)
		require.Len(mt, rows, 2)
		assert.Equal(mt, 2, *rows[1].AQI)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "find", evt.CommandName)
		var sort struct {
			EventTimestamp int `bson:"event_timestamp"`
		}
		require.NoError(mt, evt.Command.Lookup("sort").Unmarshal(&sort))
		assert.Equal(mt, 1, sort.EventTimestamp)
	})

	mt.Run("feature upsert and get", func(mt *mtest.T) {
		s := newMongoStore(mt.DB)
		mt.AddMockResponses(upsertedReply(1, 1))

		rec := aqi.FeatureRecord{Entity: "karachi", EventTimestamp: t0, FeatureVersion: "v1", Source: "aqicn", CreatedAt: t0}
		require.NoError(mt, s.UpsertFeature(ctx, rec))

		doc := bson.D{
			{Key: "entity", Value: "karachi"},
			{Key: "event_timestamp", Value: t0},
			{Key: "feature_version", Value: "v1"},
			{Key: "features", Value: bson.D{{Key: "aqi", Value: 75}, {Key: "aqi_lag_1", Value: 50.0}, {Key: "aqi_change_rate", Value: 0.5}}},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aqi.features", mtest.FirstBatch, doc))

		got, err := s.GetFeature(ctx, "karachi", t0)
		require.NoError(mt, err)
		assert.InDelta(mt, 0.5, *got.Features.AQIChangeRate, 1e-9)
		assert.Nil(mt, got.Features.AQILag3)
	})
}
