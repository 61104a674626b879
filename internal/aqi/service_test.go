package aqi_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/store"
)

type fakeLive struct {
	obs   *aqi.Observation
	err   error
	calls int
}

func (f *fakeLive) Name() string { return "fake-live" }

func (f *fakeLive) FetchLive(context.Context, aqi.Location) (*aqi.Observation, error) {
	f.calls++
	if f.obs == nil {
		return nil, f.err
	}
	obs := *f.obs
	return &obs, f.err
}

type fakeRange struct {
	rows     []aqi.Observation
	err      error
	calls    int
	from, to time.Time
}

func (f *fakeRange) Name() string { return "fake-range" }

func (f *fakeRange) FetchRange(_ context.Context, _ aqi.Location, from, to time.Time) ([]aqi.Observation, error) {
	f.calls++
	f.from, f.to = from, to
	return f.rows, f.err
}

func TestRunLiveStoresObservationAndFeatures(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	T := at(11, 0)

	require.NoError(t, s.UpsertObservation(ctx, pollutantRow(T.Add(-time.Hour), 50)))

	live := pollutantRow(at(11, 20), 75)
	weather := &fakeRange{rows: []aqi.Observation{weatherRow(at(10, 0), 18), weatherRow(at(11, 0), 20), weatherRow(at(12, 0), 22)}}
	svc := aqi.NewService(s, &fakeLive{obs: &live}, aqi.WithWeatherSeries(weather), aqi.WithFeatureVersion("v1"))

	res, err := svc.RunLive(ctx, aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	assert.Equal(t, aqi.StatusSuccess, res.Status)
	assert.Equal(t, T.Add(-24*time.Hour), weather.from)

	stored, err := s.GetObservation(ctx, "karachi", aqi.Hourly, T)
	require.NoError(t, err)
	assert.Equal(t, 75, *stored.AQI)
	assert.InDelta(t, 20, *stored.Weather[aqi.Temperature], 1e-9)

	rec, err := svc.Feature(ctx, "karachi", T)
	require.NoError(t, err)
	assert.InDelta(t, 50, *rec.Features.AQILag1, 1e-9)
	assert.InDelta(t, 0.5, *rec.Features.AQIChangeRate, 1e-9)
	assert.InDelta(t, 20, *rec.Features.Weather[aqi.Temperature], 1e-9)
	assert.Equal(t, "v1", rec.FeatureVersion)
}

func TestRunLiveJoinsWeatherOnProviderTime(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	live := pollutantRow(at(11, 40), 80)
	weather := &fakeRange{rows: []aqi.Observation{weatherRow(at(11, 0), 20), weatherRow(at(12, 0), 22)}}
	svc := aqi.NewService(s, &fakeLive{obs: &live}, aqi.WithWeatherSeries(weather))

	res, err := svc.RunLive(ctx, aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	require.Equal(t, aqi.StatusSuccess, res.Status)
	assert.Equal(t, at(11, 0), res.Observation.EventTimestamp)

	stored, err := s.GetObservation(ctx, "karachi", aqi.Hourly, at(11, 0))
	require.NoError(t, err)
	assert.InDelta(t, 22, *stored.Weather[aqi.Temperature], 1e-9)

	rec, err := svc.Feature(ctx, "karachi", at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, 11, rec.Features.Hour)
}

func TestRunLiveSkipsWithoutAQI(t *testing.T) {
	s := store.NewMemoryStore()

	res, err := aqi.NewService(s, &fakeLive{}).RunLive(context.Background(), aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	assert.Equal(t, aqi.StatusSkipped, res.Status)

	obs, features := s.Len()
	assert.Zero(t, obs)
	assert.Zero(t, features)
}

func TestRunLiveSkipsInvalidObservation(t *testing.T) {
	s := store.NewMemoryStore()
	bad := pollutantRow(at(11, 0), -3)

	res, err := aqi.NewService(s, &fakeLive{obs: &bad}).RunLive(context.Background(), aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	assert.Equal(t, aqi.StatusSkipped, res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestRunLiveFallsBackToCurrentWeather(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	live := pollutantRow(at(11, 0), 90)
	current := weatherRow(at(11, 5), 31)

	weather := &fakeRange{rows: []aqi.Observation{}}
	cur := &fakeLive{obs: &current}
	svc := aqi.NewService(s, &fakeLive{obs: &live}, aqi.WithWeatherSeries(weather), aqi.WithCurrentWeather(cur))

	res, err := svc.RunLive(ctx, aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	assert.Equal(t, aqi.StatusSuccess, res.Status)
	assert.Equal(t, 1, cur.calls)
	assert.InDelta(t, 31, *res.Observation.Weather[aqi.Temperature], 1e-9)
}

func TestRunLiveWithoutWeatherStillStores(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	live := pollutantRow(at(11, 0), 90)

	res, err := aqi.NewService(s, &fakeLive{obs: &live}).RunLive(ctx, aqi.Location{Entity: "karachi"})
	require.NoError(t, err)
	assert.Equal(t, aqi.StatusSuccess, res.Status)
	assert.Nil(t, res.Feature.Features.Weather[aqi.Temperature])

	rows, err := aqi.NewService(s, nil).Observations(ctx, "karachi", aqi.Hourly, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunLivePropagatesPermanentErrors(t *testing.T) {
	live := &fakeLive{err: aqi.NewError(aqi.KindPermanentProvider, "fake", "status error", nil)}
	_, err := aqi.NewService(store.NewMemoryStore(), live).RunLive(context.Background(), aqi.Location{Entity: "karachi"})
	assert.ErrorIs(t, err, aqi.ErrPermanentProvider)
}
