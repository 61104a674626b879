package providers

import (
	"fmt"
	"time"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTimestamp parses ISO-8601 with or without a zone suffix. Values
// without a zone are taken as UTC. The result is always in UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// days returns the UTC midnights from from's day to to's day inclusive.
func days(from, to time.Time) []time.Time {
	start := truncateDay(from)
	end := truncateDay(to)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// inDayRange reports whether ts falls inside the UTC days [from, to].
func inDayRange(ts, from, to time.Time) bool {
	start := truncateDay(from)
	end := truncateDay(to).AddDate(0, 0, 1)
	return !ts.Before(start) && ts.Before(end)
}
