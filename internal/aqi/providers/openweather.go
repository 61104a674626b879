package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// OpenWeatherCurrent fetches current conditions from OpenWeatherMap as a
// weather-only observation.
//
// Exhaustion policy: Degrade. FetchLive returns (nil, nil).
type OpenWeatherCurrent struct {
	name    string
	apiKey  string
	baseURL string
	t       *transport
	cfg     HTTPClientConfig
}

// NewOpenWeatherCurrent creates the OpenWeatherMap current weather adapter.
func NewOpenWeatherCurrent(cfg HTTPClientConfig, apiKey string) *OpenWeatherCurrent {
	return &OpenWeatherCurrent{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: cfg.baseURL("https://api.openweathermap.org/data/2.5/weather"),
		t:       newTransport("openweathermap", cfg),
		cfg:     cfg,
	}
}

func (p *OpenWeatherCurrent) Name() string {
	return p.name
}

// FetchLive returns a weather-only observation for the location.
func (p *OpenWeatherCurrent) FetchLive(ctx context.Context, loc aqi.Location) (*aqi.Observation, error) {
	if p.apiKey == "" {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "openweather api key is not configured", nil)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if loc.Geo != nil {
			values.Set("lat", fmt.Sprintf("%f", loc.Geo.Lat))
			values.Set("lon", fmt.Sprintf("%f", loc.Geo.Lon))
		} else {
			q := loc.Entity
			if loc.Country != "" {
				q = fmt.Sprintf("%s,%s", loc.Entity, loc.Country)
			}
			values.Set("q", q)
		}

		return newGetRequest(fmt.Sprintf("%s?%s", p.baseURL, values.Encode()))
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
			Deg   *float64 `json:"deg"`
		} `json:"wind"`
		Rain struct {
			OneH   *float64 `json:"1h"`
			ThreeH *float64 `json:"3h"`
		} `json:"rain"`
	}

	if err := p.t.getJSON(ctx, buildRequest, &payload); err != nil {
		if Exhausted(err) {
			p.cfg.logger().Warn("current weather unavailable", "provider", p.name, "entity", loc.Entity, "error", err)
			return nil, nil
		}
		return nil, err
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = unixUTC(payload.Dt)
	}

	obs := aqi.NewObservation(loc.Entity, ts, p.name)
	setIf(obs.Weather, aqi.Temperature, payload.Main.Temp)
	setIf(obs.Weather, aqi.Humidity, payload.Main.Humidity)
	setIf(obs.Weather, aqi.Pressure, payload.Main.Pressure)
	setIf(obs.Weather, aqi.WindSpeed, payload.Wind.Speed)
	setIf(obs.Weather, aqi.WindDirection, payload.Wind.Deg)

	precip := payload.Rain.OneH
	if precip == nil {
		precip = payload.Rain.ThreeH
	}
	setIf(obs.Weather, aqi.Precipitation, precip)

	return &obs, nil
}

func setIf(r aqi.Readings, key string, v *float64) {
	if v != nil {
		r.Set(key, *v)
	}
}
