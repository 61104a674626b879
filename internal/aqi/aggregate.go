package aqi

import (
	"sort"
	"strings"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/common"
)

// AggregateDaily collapses the hourly observations of one UTC day into a
// daily record. AQI, pollutants and weather are averaged over the hours that
// carry a value; precipitation is summed. Keys with no value stay nil.
func AggregateDaily(entity string, day time.Time, hourly []Observation) Observation {
	day = TruncateDay(day)
	daily := Observation{
		Entity:         entity,
		EventTimestamp: day,
		Granularity:    Daily,
		Pollutants:     NewPollutants(),
		Weather:        NewWeather(),
		IngestedAt:     time.Now().UTC(),
	}

	var (
		aqis      []*float64
		pollutant = make(map[string][]*float64)
		weather   = make(map[string][]*float64)
		sources   = make(map[string]struct{})
		dominant  = make(map[string]int)
	)

	for _, h := range hourly {
		if !TruncateDay(h.EventTimestamp).Equal(day) {
			continue
		}
		if h.AQI != nil {
			v := float64(*h.AQI)
			aqis = append(aqis, &v)
		}
		if h.DominantPollutant != nil {
			dominant[*h.DominantPollutant]++
		}
		for k, v := range h.Pollutants {
			pollutant[k] = append(pollutant[k], v)
		}
		for k, v := range h.Weather {
			weather[k] = append(weather[k], v)
		}
		if h.Source != "" {
			sources[h.Source] = struct{}{}
		}
	}

	daily.AQI = common.RoundInt(common.Mean(aqis))
	for _, k := range PollutantKeys {
		daily.Pollutants[k] = common.Mean(pollutant[k])
	}
	for _, k := range WeatherKeys {
		if k == Precipitation {
			daily.Weather[k] = common.Sum(weather[k])
			continue
		}
		daily.Weather[k] = common.Mean(weather[k])
	}

	// Majority dominant pollutant, ties broken alphabetically.
	best, bestCount := "", 0
	for p, n := range dominant {
		if n > bestCount || (n == bestCount && p < best) {
			best, bestCount = p, n
		}
	}
	if best != "" {
		daily.DominantPollutant = &best
	}

	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)
	daily.Source = strings.Join(names, ",")
	if daily.Source == "" {
		daily.Source = "aggregate"
	}

	return daily
}

// TruncateDay returns midnight UTC of t's UTC day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
