package aqi_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, aqi.Validate(pollutantRow(at(1, 0), 42)))

	negative := pollutantRow(at(1, 0), -1)
	assert.ErrorIs(t, aqi.Validate(negative), aqi.ErrValidation)

	noEntity := pollutantRow(at(1, 0), 1)
	noEntity.Entity = ""
	assert.ErrorIs(t, aqi.Validate(noEntity), aqi.ErrValidation)

	local := pollutantRow(at(1, 0), 1)
	local.EventTimestamp = time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("PKT", 5*3600))
	assert.ErrorIs(t, aqi.Validate(local), aqi.ErrValidation)

	partialBag := pollutantRow(at(1, 0), 1)
	delete(partialBag.Weather, aqi.Precipitation)
	assert.ErrorIs(t, aqi.Validate(partialBag), aqi.ErrValidation)

	badGranularity := pollutantRow(at(1, 0), 1)
	badGranularity.Granularity = "weekly"
	assert.ErrorIs(t, aqi.Validate(badGranularity), aqi.ErrValidation)
}

func TestRequireAQI(t *testing.T) {
	obs := pollutantRow(at(1, 0), 1)
	assert.NoError(t, aqi.RequireAQI(obs))

	obs.AQI = nil
	assert.NoError(t, aqi.Validate(obs))
	assert.ErrorIs(t, aqi.RequireAQI(obs), aqi.ErrValidation)
}

func TestErrorKinds(t *testing.T) {
	err := aqi.NewError(aqi.KindStorage, "store", "write failed", assert.AnError)
	assert.ErrorIs(t, err, aqi.ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, aqi.ErrTransient)
	assert.Equal(t, aqi.KindStorage, aqi.KindOf(err))
	assert.Contains(t, err.Error(), "storage/store")
	assert.Equal(t, aqi.Kind(""), aqi.KindOf(assert.AnError))
}

func TestAggregateDaily(t *testing.T) {
	day := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	h1 := pollutantRow(day.Add(1*time.Hour), 40)
	h1.Weather.Set(aqi.Precipitation, 0.5)
	h1.Weather.Set(aqi.Temperature, 20)
	h2 := pollutantRow(day.Add(2*time.Hour), 61)
	h2.Weather.Set(aqi.Precipitation, 1.0)
	pm25 := aqi.PM25
	h2.DominantPollutant = &pm25
	other := pollutantRow(day.Add(25*time.Hour), 500)

	daily := aqi.AggregateDaily("karachi", day.Add(13*time.Hour), []aqi.Observation{h1, h2, other})

	assert.Equal(t, aqi.Daily, daily.Granularity)
	assert.Equal(t, day, daily.EventTimestamp)
	assert.Equal(t, 51, *daily.AQI)
	assert.InDelta(t, 50.5, *daily.Pollutants[aqi.PM25], 1e-9)
	assert.InDelta(t, 1.5, *daily.Weather[aqi.Precipitation], 1e-9)
	assert.InDelta(t, 20, *daily.Weather[aqi.Temperature], 1e-9)
	assert.Nil(t, daily.Weather[aqi.Humidity])
	assert.Equal(t, aqi.PM25, *daily.DominantPollutant)
	assert.NoError(t, aqi.Validate(daily))
}

func TestAggregateDailyWithoutHours(t *testing.T) {
	daily := aqi.AggregateDaily("karachi", at(5, 0), nil)
	assert.Nil(t, daily.AQI)
	assert.Len(t, daily.Pollutants, len(aqi.PollutantKeys))
	assert.Equal(t, "aggregate", daily.Source)
}
