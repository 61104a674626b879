package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/audit"
	"github.com/i474232898/aqi-feature-store/internal/common"
	"github.com/i474232898/aqi-feature-store/internal/store"
)

const entity = "karachi"

var day1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func seedHour(t *testing.T, s aqi.Store, ts time.Time, value *int) {
	t.Helper()
	obs := aqi.NewObservation(entity, ts, "test")
	obs.AQI = value
	obs.Pollutants.Set(aqi.PM25, 12)
	require.NoError(t, s.UpsertObservation(context.Background(), obs))
}

func TestCoverageCountsHoursAndNulls(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for h := 0; h < 24; h++ {
		if h == 5 || h == 6 {
			continue
		}
		var v *int
		if h != 7 {
			v = common.Ptr(40)
		}
		seedHour(t, s, day1.Add(time.Duration(h)*time.Hour), v)
	}
	seedHour(t, s, day1.AddDate(0, 0, 1).Add(2*time.Hour), common.Ptr(60))

	fc := aqi.NewFeatureComputer(s, "v1")
	obs, err := s.GetObservation(ctx, entity, aqi.Hourly, day1)
	require.NoError(t, err)
	rec, err := fc.Compute(ctx, obs)
	require.NoError(t, err)
	require.NoError(t, s.UpsertFeature(ctx, rec))

	daily := aqi.NewObservation(entity, day1, "aggregate")
	daily.Granularity = aqi.Daily
	daily.AQI = common.Ptr(40)
	require.NoError(t, s.UpsertObservation(ctx, daily))

	report, err := audit.Coverage(ctx, s, entity, day1, day1.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 48, report.ExpectedHours)
	assert.Equal(t, 23, report.StoredHours)
	assert.Equal(t, 1, report.Features)
	assert.False(t, report.Complete())
	require.Len(t, report.Days, 2)
	assert.Equal(t, audit.DayCoverage{Date: "2025-03-01", Hours: 22, Features: 1, Daily: true, DailyAQI: true}, report.Days[0])
	assert.Equal(t, audit.DayCoverage{Date: "2025-03-02", Hours: 1}, report.Days[1])
	assert.Len(t, report.MissingHours, 25)
	assert.Equal(t, day1.Add(5*time.Hour), report.MissingHours[0])

	assert.Equal(t, 1, report.NullCounts["aqi"])
	assert.Equal(t, 0, report.NullCounts["pollutants.pm25"])
	assert.Equal(t, 23, report.NullCounts["weather.temperature"])

	require.NotNil(t, report.First)
	assert.Equal(t, day1, *report.First)
	assert.Equal(t, day1.AddDate(0, 0, 1).Add(2*time.Hour), *report.Last)
}

func TestCoverageEmptyStore(t *testing.T) {
	report, err := audit.Coverage(context.Background(), store.NewMemoryStore(), entity, day1, day1)
	require.NoError(t, err)

	assert.Equal(t, 24, report.ExpectedHours)
	assert.Zero(t, report.StoredHours)
	assert.Nil(t, report.First)
	assert.Len(t, report.MissingHours, 24)
}

func TestCoverageRejectsInvertedRange(t *testing.T) {
	_, err := audit.Coverage(context.Background(), store.NewMemoryStore(), entity, day1, day1.AddDate(0, 0, -1))
	assert.True(t, errors.Is(err, aqi.ErrValidation))
}
