package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

const (
	openMeteoAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	openMeteoArchiveURL    = "https://archive-api.open-meteo.com/v1/archive"
	openMeteoForecastURL   = "https://api.open-meteo.com/v1/forecast"
)

// gridVar maps one hourly array of the gridded feed onto the canonical model.
type gridVar struct {
	param string
	key   string
	bag   func(*aqi.Observation) aqi.Readings
}

func pollutantBag(o *aqi.Observation) aqi.Readings { return o.Pollutants }
func weatherBag(o *aqi.Observation) aqi.Readings   { return o.Weather }

var airQualityVars = []gridVar{
	{param: "pm2_5", key: aqi.PM25, bag: pollutantBag},
	{param: "pm10", key: aqi.PM10, bag: pollutantBag},
	{param: "nitrogen_dioxide", key: aqi.NO2, bag: pollutantBag},
	{param: "sulphur_dioxide", key: aqi.SO2, bag: pollutantBag},
	{param: "ozone", key: aqi.O3, bag: pollutantBag},
	{param: "carbon_monoxide", key: aqi.CO, bag: pollutantBag},
}

var weatherVars = []gridVar{
	{param: "temperature_2m", key: aqi.Temperature, bag: weatherBag},
	{param: "relative_humidity_2m", key: aqi.Humidity, bag: weatherBag},
	{param: "wind_speed_10m", key: aqi.WindSpeed, bag: weatherBag},
	{param: "wind_direction_10m", key: aqi.WindDirection, bag: weatherBag},
	{param: "surface_pressure", key: aqi.Pressure, bag: weatherBag},
	{param: "precipitation", key: aqi.Precipitation, bag: weatherBag},
}

// usAQIParam carries the US AQI on the air-quality feed.
const usAQIParam = "us_aqi"

// OpenMeteoGrid fetches hourly arrays from an Open-Meteo gridded endpoint
// addressed by coordinates.
//
// Exhaustion policy: Degrade. FetchRange returns an empty slice.
type OpenMeteoGrid struct {
	name    string
	baseURL string
	vars    []gridVar
	withAQI bool
	t       *transport
	cfg     HTTPClientConfig
}

// NewOpenMeteoAirQuality returns the hourly pollutant and US AQI archive.
func NewOpenMeteoAirQuality(cfg HTTPClientConfig) *OpenMeteoGrid {
	return newOpenMeteoGrid("openmeteo-airquality", cfg.baseURL(openMeteoAirQualityURL), airQualityVars, true, cfg)
}

// NewOpenMeteoWeather returns the historical hourly weather archive.
func NewOpenMeteoWeather(cfg HTTPClientConfig) *OpenMeteoGrid {
	return newOpenMeteoGrid("openmeteo-archive", cfg.baseURL(openMeteoArchiveURL), weatherVars, false, cfg)
}

// NewOpenMeteoHourlyWeather returns hourly weather for recent days, where the
// archive has not caught up yet.
func NewOpenMeteoHourlyWeather(cfg HTTPClientConfig) *OpenMeteoGrid {
	return newOpenMeteoGrid("openmeteo-forecast", cfg.baseURL(openMeteoForecastURL), weatherVars, false, cfg)
}

func newOpenMeteoGrid(name, baseURL string, vars []gridVar, withAQI bool, cfg HTTPClientConfig) *OpenMeteoGrid {
	return &OpenMeteoGrid{
		name:    name,
		baseURL: baseURL,
		vars:    vars,
		withAQI: withAQI,
		t:       newTransport(name, cfg),
		cfg:     cfg,
	}
}

func (p *OpenMeteoGrid) Name() string {
	return p.name
}

func (p *OpenMeteoGrid) params() []string {
	out := make([]string, 0, len(p.vars)+1)
	for _, v := range p.vars {
		out = append(out, v.param)
	}
	if p.withAQI {
		out = append(out, usAQIParam)
	}
	return out
}

// FetchRange returns the hours in [from, to] that carry at least one value.
func (p *OpenMeteoGrid) FetchRange(ctx context.Context, loc aqi.Location, from, to time.Time) ([]aqi.Observation, error) {
	if loc.Geo == nil {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "open-meteo requires latitude and longitude", nil)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", loc.Geo.Lat))
		values.Set("longitude", fmt.Sprintf("%f", loc.Geo.Lon))
		values.Set("hourly", strings.Join(p.params(), ","))
		values.Set("start_date", from.UTC().Format("2006-01-02"))
		values.Set("end_date", to.UTC().Format("2006-01-02"))
		values.Set("timezone", "UTC")
		return newGetRequest(fmt.Sprintf("%s?%s", p.baseURL, values.Encode()))
	}

	var payload struct {
		Hourly map[string]json.RawMessage `json:"hourly"`
	}
	if err := p.t.getJSON(ctx, buildRequest, &payload); err != nil {
		if Exhausted(err) {
			p.cfg.logger().Warn("gridded feed unavailable", "provider", p.name, "entity", loc.Entity, "error", err)
			return []aqi.Observation{}, nil
		}
		return nil, err
	}

	return p.decode(loc.Entity, payload.Hourly, from, to)
}

// decode turns the column arrays into observations. Every array present must
// be as long as the time array; an absent variable is null for every hour.
func (p *OpenMeteoGrid) decode(entity string, hourly map[string]json.RawMessage, from, to time.Time) ([]aqi.Observation, error) {
	rawTimes, ok := hourly["time"]
	if !ok {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "payload has no hourly.time", nil)
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "malformed hourly.time", err)
	}

	columns := make(map[string][]*float64, len(p.vars)+1)
	for _, param := range p.params() {
		raw, ok := hourly[param]
		if !ok {
			columns[param] = make([]*float64, len(times))
			continue
		}
		var col []*float64
		if err := json.Unmarshal(raw, &col); err != nil {
			return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, fmt.Sprintf("malformed hourly.%s", param), err)
		}
		if len(col) != len(times) {
			return nil, aqi.NewError(aqi.KindPermanentProvider, p.name,
				fmt.Sprintf("hourly.%s has %d values for %d timestamps", param, len(col), len(times)), nil)
		}
		columns[param] = col
	}

	out := make([]aqi.Observation, 0, len(times))
	for i, s := range times {
		ts, err := parseTimestamp(s)
		if err != nil {
			return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "malformed timestamp", err)
		}
		if !inDayRange(ts, from, to) {
			continue
		}

		obs := aqi.NewObservation(entity, ts, p.name)
		available := false
		for _, v := range p.vars {
			if val := columns[v.param][i]; val != nil {
				v.bag(&obs).Set(v.key, *val)
				available = true
			}
		}
		if p.withAQI {
			if val := columns[usAQIParam][i]; val != nil {
				n := int(math.Round(*val))
				obs.AQI = &n
				available = true
			}
		}
		// Hours the provider has no data for are gaps, not rows.
		if available {
			out = append(out, obs)
		}
	}
	return out, nil
}
