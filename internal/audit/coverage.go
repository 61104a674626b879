// Package audit reports how completely the store covers a date range.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// DayCoverage summarises one UTC day.
type DayCoverage struct {
	Date     string `json:"date"`
	Hours    int    `json:"hours"`
	Features int    `json:"features"`
	Daily    bool   `json:"daily"`
	DailyAQI bool   `json:"daily_aqi"`
}

// Report is the coverage of one entity over [From, To].
type Report struct {
	Entity        string         `json:"entity"`
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	ExpectedHours int            `json:"expected_hours"`
	StoredHours   int            `json:"stored_hours"`
	Features      int            `json:"features"`
	First         *time.Time     `json:"first,omitempty"`
	Last          *time.Time     `json:"last,omitempty"`
	Days          []DayCoverage  `json:"days"`
	MissingHours  []time.Time    `json:"missing_hours"`
	NullCounts    map[string]int `json:"null_counts"`
}

// Complete reports whether every expected hour is stored.
func (r Report) Complete() bool {
	return r.StoredHours == r.ExpectedHours
}

// Coverage builds the report for the UTC days from..to inclusive.
func Coverage(ctx context.Context, store aqi.Store, entity string, from, to time.Time) (Report, error) {
	start := aqi.TruncateDay(from)
	end := aqi.TruncateDay(to)
	if end.Before(start) {
		return Report{}, aqi.NewError(aqi.KindValidation, "audit", fmt.Sprintf("range end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly)), nil)
	}

	hourly, err := store.ListObservations(ctx, entity, aqi.Hourly, start, end.Add(24*time.Hour-time.Millisecond))
	if err != nil {
		return Report{}, err
	}
	byHour := make(map[time.Time]aqi.Observation, len(hourly))
	for _, obs := range hourly {
		byHour[obs.EventTimestamp.UTC()] = obs
	}

	report := Report{
		Entity:      entity,
		From:        start,
		To:          end,
		StoredHours: len(hourly),
		NullCounts:  nullCounts(hourly),
	}
	if len(hourly) > 0 {
		first, last := hourly[0].EventTimestamp, hourly[len(hourly)-1].EventTimestamp
		report.First, report.Last = &first, &last
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := DayCoverage{Date: d.Format(time.DateOnly)}

		for h := 0; h < 24; h++ {
			ts := d.Add(time.Duration(h) * time.Hour)
			report.ExpectedHours++
			if _, ok := byHour[ts]; !ok {
				report.MissingHours = append(report.MissingHours, ts)
				continue
			}
			day.Hours++

			_, err := store.GetFeature(ctx, entity, ts)
			switch {
			case err == nil:
				day.Features++
			case !errors.Is(err, aqi.ErrNotFound):
				return Report{}, err
			}
		}

		daily, err := store.GetObservation(ctx, entity, aqi.Daily, d)
		switch {
		case err == nil:
			day.Daily = true
			day.DailyAQI = daily.HasAQI()
		case !errors.Is(err, aqi.ErrNotFound):
			return Report{}, err
		}

		report.Features += day.Features
		report.Days = append(report.Days, day)
	}

	return report, nil
}

// nullCounts counts null values per canonical field across observations.
func nullCounts(obs []aqi.Observation) map[string]int {
	counts := map[string]int{"aqi": 0, "dominant_pollutant": 0}
	for _, k := range aqi.PollutantKeys {
		counts["pollutants."+k] = 0
	}
	for _, k := range aqi.WeatherKeys {
		counts["weather."+k] = 0
	}

	for _, o := range obs {
		if o.AQI == nil {
			counts["aqi"]++
		}
		if o.DominantPollutant == nil {
			counts["dominant_pollutant"]++
		}
		for _, k := range aqi.PollutantKeys {
			if o.Pollutants[k] == nil {
				counts["pollutants."+k]++
			}
		}
		for _, k := range aqi.WeatherKeys {
			if o.Weather[k] == nil {
				counts["weather."+k]++
			}
		}
	}
	return counts
}
