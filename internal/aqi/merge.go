package aqi

import (
	"sort"
	"strings"
	"time"
)

// Suffixes applied to colliding column names in a merged row.
const (
	SuffixPollutants = "_pollutants"
	SuffixWeather    = "_weather"
)

// MergedRow pairs a pollutant-side and a weather-side observation that were
// aligned on time.
type MergedRow struct {
	EventTimestamp time.Time
	Pollutants     Observation
	Weather        Observation
	// Delta is |weather - pollutants| for nearest joins, zero for exact joins.
	Delta time.Duration
}

// ExactJoin inner-joins two hourly series on identical event timestamps.
// Rows present on only one side are dropped. Input order is not assumed;
// the result is ascending by timestamp.
func ExactJoin(pollutants, weather []Observation) []MergedRow {
	byTS := make(map[int64]Observation, len(weather))
	for _, w := range weather {
		k := w.EventTimestamp.UTC().UnixNano()
		if _, dup := byTS[k]; !dup {
			byTS[k] = w
		}
	}

	rows := make([]MergedRow, 0, len(pollutants))
	for _, p := range pollutants {
		w, ok := byTS[p.EventTimestamp.UTC().UnixNano()]
		if !ok {
			continue
		}
		rows = append(rows, MergedRow{
			EventTimestamp: p.EventTimestamp.UTC(),
			Pollutants:     p,
			Weather:        w,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].EventTimestamp.Before(rows[j].EventTimestamp)
	})
	return rows
}

// NearestJoin aligns one instant observation with the weather row closest in
// time. Exact ties go to the earliest weather row. An empty weather series is
// a ValidationError.
func NearestJoin(live Observation, weather []Observation) (MergedRow, error) {
	if len(weather) == 0 {
		return MergedRow{}, NewError(KindValidation, live.Source, "nearest join over empty weather series", nil)
	}

	target := live.EventTimestamp.UTC()
	best := -1
	var bestDelta time.Duration
	for i, w := range weather {
		d := absDuration(w.EventTimestamp.Sub(target))
		switch {
		case best < 0, d < bestDelta:
			best, bestDelta = i, d
		case d == bestDelta && w.EventTimestamp.Before(weather[best].EventTimestamp):
			best = i
		}
	}

	return MergedRow{
		EventTimestamp: target,
		Pollutants:     live,
		Weather:        weather[best],
		Delta:          bestDelta,
	}, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Columns flattens the row into named columns. The join key keeps its bare
// name; every other column present on both sides appears twice, suffixed with
// its provenance.
func (m MergedRow) Columns() map[string]any {
	left := flatten(m.Pollutants)
	right := flatten(m.Weather)

	out := make(map[string]any, len(left)+len(right))
	out["event_timestamp"] = m.EventTimestamp
	if !m.Weather.EventTimestamp.Equal(m.EventTimestamp) {
		out["event_timestamp"+SuffixWeather] = m.Weather.EventTimestamp.UTC()
	}

	for k, v := range left {
		if _, clash := right[k]; clash {
			out[k+SuffixPollutants] = v
			continue
		}
		out[k] = v
	}
	for k, v := range right {
		if _, clash := left[k]; clash {
			out[k+SuffixWeather] = v
			continue
		}
		out[k] = v
	}
	return out
}

func flatten(o Observation) map[string]any {
	cols := map[string]any{
		"entity":             o.Entity,
		"granularity":        string(o.Granularity),
		"aqi":                o.AQI,
		"dominant_pollutant": o.DominantPollutant,
		"source":             o.Source,
		"ingested_at":        o.IngestedAt,
	}
	for k, v := range o.Pollutants {
		cols[k] = v
	}
	for k, v := range o.Weather {
		cols[k] = v
	}
	return cols
}

// Observation converges the row into one canonical observation keyed on the
// pollutant side. Pollutants prefer the pollutant side, weather prefers the
// weather side; either falls back to the other when null.
func (m MergedRow) Observation() Observation {
	p, w := m.Pollutants, m.Weather

	obs := Observation{
		Entity:            p.Entity,
		EventTimestamp:    m.EventTimestamp,
		Granularity:       p.Granularity,
		AQI:               p.AQI,
		DominantPollutant: p.DominantPollutant,
		Pollutants:        preferFirst(PollutantKeys, p.Pollutants, w.Pollutants),
		Weather:           preferFirst(WeatherKeys, w.Weather, p.Weather),
		Source:            joinSources(p.Source, w.Source),
		IngestedAt:        p.IngestedAt,
	}
	if obs.Granularity == "" {
		obs.Granularity = Hourly
	}
	if obs.AQI == nil {
		obs.AQI = w.AQI
	}
	if w.IngestedAt.After(obs.IngestedAt) {
		obs.IngestedAt = w.IngestedAt
	}
	return obs
}

func preferFirst(keys []string, first, second Readings) Readings {
	out := newReadings(keys)
	for _, k := range keys {
		if v := first[k]; v != nil {
			val := *v
			out[k] = &val
		} else if v := second[k]; v != nil {
			val := *v
			out[k] = &val
		}
	}
	return out
}

func joinSources(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "", a == b, strings.Contains(a, b):
		return a
	}
	return a + "+" + b
}
