// Package backfill drives the source adapters and the store across a date
// range, one unit of days at a time, oldest first.
//
// The skip check (read the store, then fetch and upsert) is not atomic.
// Two runs over overlapping ranges can both fetch the same unit; the last
// upsert wins. Run one backfill per entity at a time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
	"github.com/i474232898/aqi-feature-store/internal/aqi/providers"
)

// Config bounds one backfill run.
type Config struct {
	// Start and End are inclusive UTC days.
	Start time.Time
	End   time.Time
	// BatchDays is the number of days fetched and committed per unit.
	BatchDays int
	// Pace is slept between provider calls.
	Pace time.Duration
	// ComputeFeatures writes feature records for every stored hour.
	ComputeFeatures bool
	FeatureVersion  string
}

// UnitOutcome is the result of one unit of work.
type UnitOutcome struct {
	aqi.Outcome
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Hours int       `json:"hours"`
	Days  int       `json:"days"`
}

// Summary collects the outcomes of a run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	Outcomes    []UnitOutcome `json:"outcomes"`
	Succeeded   int           `json:"succeeded"`
	Skipped     int           `json:"skipped"`
	Interrupted bool          `json:"interrupted"`
}

func (s *Summary) add(o UnitOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Status == aqi.StatusSuccess {
		s.Succeeded++
	} else {
		s.Skipped++
	}
}

// Orchestrator runs backfills.
type Orchestrator struct {
	store    aqi.Store
	weather  aqi.RangeSource
	aqiSrc   aqi.RangeSource
	features *aqi.FeatureComputer
	cfg      Config
	sleep    providers.SleepFunc
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleepFunc replaces the pacing sleep.
func WithSleepFunc(fn providers.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator reading weather and AQI from the given sources.
func New(store aqi.Store, weather, aqiSrc aqi.RangeSource, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchDays < 1 {
		cfg.BatchDays = 1
	}
	o := &Orchestrator{
		store:    store,
		weather:  weather,
		aqiSrc:   aqiSrc,
		features: aqi.NewFeatureComputer(store, cfg.FeatureVersion),
		cfg:      cfg,
		sleep:    providers.SleepContext,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// units splits [Start, End] into ascending batches of BatchDays days.
func (o *Orchestrator) units() [][]time.Time {
	start := aqi.TruncateDay(o.cfg.Start)
	end := aqi.TruncateDay(o.cfg.End)

	var out [][]time.Time
	var cur []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		cur = append(cur, d)
		if len(cur) == o.cfg.BatchDays {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Run processes every unit in ascending order. Cancelling ctx stops the run
// after the in-flight unit; completed units stay committed. Provider failures
// skip the unit; storage failures abort the run with an error.
func (o *Orchestrator) Run(ctx context.Context, loc aqi.Location) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Started: time.Now().UTC()}

	if o.cfg.Start.IsZero() || o.cfg.End.IsZero() {
		return summary, aqi.NewError(aqi.KindValidation, "backfill", "backfill range is not set", nil)
	}
	if o.cfg.End.Before(o.cfg.Start) {
		msg := fmt.Sprintf("backfill end %s is before start %s", o.cfg.End.Format(time.DateOnly), o.cfg.Start.Format(time.DateOnly))
		return summary, aqi.NewError(aqi.KindValidation, "backfill", msg, nil)
	}

	log := o.logger.With("run_id", summary.RunID, "entity", loc.Entity)
	units := o.units()
	log.Info("backfill started", "from", o.cfg.Start.Format(time.DateOnly), "to", o.cfg.End.Format(time.DateOnly), "units", len(units))

	for i, days := range units {
		if ctx.Err() != nil {
			summary.Interrupted = true
			log.Warn("backfill interrupted", "completed_units", i)
			break
		}

		// The unit itself is never cut short.
		outcome, err := o.processUnit(context.WithoutCancel(ctx), log, loc, days)
		if err != nil {
			summary.Finished = time.Now().UTC()
			return summary, err
		}
		summary.add(outcome)

		if outcome.Status == aqi.StatusSkipped {
			log.Warn("unit skipped", "from", outcome.From.Format(time.DateOnly), "reason", outcome.Reason)
		} else {
			log.Info("unit committed", "from", outcome.From.Format(time.DateOnly), "to", outcome.To.Format(time.DateOnly), "hours", outcome.Hours)
		}

		if i < len(units)-1 && outcome.Reason != reasonComplete {
			if err := o.sleep(ctx, o.cfg.Pace); err != nil {
				summary.Interrupted = true
				log.Warn("backfill interrupted", "completed_units", i+1)
				break
			}
		}
	}

	summary.Finished = time.Now().UTC()
	log.Info("backfill finished", "succeeded", summary.Succeeded, "skipped", summary.Skipped, "interrupted", summary.Interrupted)
	return summary, nil
}

const reasonComplete = "already stored"

func (o *Orchestrator) processUnit(ctx context.Context, log *slog.Logger, loc aqi.Location, days []time.Time) (UnitOutcome, error) {
	first, last := days[0], days[len(days)-1]
	out := UnitOutcome{From: first, To: last}
	skip := func(reason string) (UnitOutcome, error) {
		out.Outcome = aqi.Skipped(reason)
		return out, nil
	}

	complete, err := o.complete(ctx, loc.Entity, days)
	if err != nil {
		return out, err
	}
	if complete {
		return skip(reasonComplete)
	}

	weather, err := o.weather.FetchRange(ctx, loc, first, last)
	if err != nil {
		return skip(fmt.Sprintf("weather: %v", err))
	}
	if err := o.sleep(ctx, o.cfg.Pace); err != nil {
		return skip(err.Error())
	}

	pollutants, err := o.aqiSrc.FetchRange(ctx, loc, first, last)
	if err != nil {
		return skip(fmt.Sprintf("aqi: %v", err))
	}
	if len(pollutants) == 0 {
		return skip("no AQI data")
	}

	hourly := o.merge(log, pollutants, weather)
	if len(hourly) == 0 {
		return skip("no valid hourly records")
	}

	res, err := o.store.UpsertObservations(ctx, hourly)
	if err != nil {
		return out, err
	}
	out.Hours = res.Written

	for _, day := range days {
		var hours []aqi.Observation
		for _, h := range hourly {
			if aqi.TruncateDay(h.EventTimestamp).Equal(day) {
				hours = append(hours, h)
			}
		}
		if len(hours) == 0 {
			continue
		}
		daily := aqi.AggregateDaily(loc.Entity, day, hours)
		if err := o.store.UpsertObservation(ctx, daily); err != nil {
			return out, err
		}
		out.Days++
	}

	if o.cfg.ComputeFeatures {
		for _, h := range hourly {
			rec, err := o.features.Compute(ctx, h)
			if err != nil {
				return out, err
			}
			if err := o.store.UpsertFeature(ctx, rec); err != nil {
				return out, err
			}
		}
	}

	out.Outcome = aqi.Succeeded()
	return out, nil
}

// complete reports whether every day already has a daily record with AQI.
func (o *Orchestrator) complete(ctx context.Context, entity string, days []time.Time) (bool, error) {
	for _, day := range days {
		obs, err := o.store.GetObservation(ctx, entity, aqi.Daily, day)
		if err != nil {
			if errors.Is(err, aqi.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if !obs.HasAQI() {
			return false, nil
		}
	}
	return true, nil
}

// merge joins pollutants with weather on the hourly grid. Without weather the
// pollutant rows are kept as they are.
func (o *Orchestrator) merge(log *slog.Logger, pollutants, weather []aqi.Observation) []aqi.Observation {
	var merged []aqi.Observation
	if len(weather) == 0 {
		log.Warn("no weather for unit, storing pollutants only")
		merged = append([]aqi.Observation(nil), pollutants...)
		sort.Slice(merged, func(i, j int) bool {
			return merged[i].EventTimestamp.Before(merged[j].EventTimestamp)
		})
	} else {
		rows := aqi.ExactJoin(pollutants, weather)
		merged = make([]aqi.Observation, 0, len(rows))
		for _, r := range rows {
			merged = append(merged, r.Observation())
		}
		if dropped := len(pollutants) - len(rows); dropped > 0 {
			log.Debug("hours without matching weather dropped", "count", dropped)
		}
	}

	valid := make([]aqi.Observation, 0, len(merged))
	for _, obs := range merged {
		obs.Granularity = aqi.Hourly
		if err := aqi.Validate(obs); err != nil {
			log.Warn("hourly record rejected", "event_timestamp", obs.EventTimestamp, "error", err)
			continue
		}
		valid = append(valid, obs)
	}
	return valid
}
