package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

// iqairMain maps IQAir's main pollutant codes.
var iqairMain = map[string]string{
	"p2": aqi.PM25,
	"p1": aqi.PM10,
	"o3": aqi.O3,
	"n2": aqi.NO2,
	"s2": aqi.SO2,
	"co": aqi.CO,
}

// IQAirCity fetches the current US AQI and weather for a city from IQAir.
//
// Exhaustion policy: Degrade. FetchLive returns (nil, nil).
type IQAirCity struct {
	name    string
	apiKey  string
	baseURL string
	t       *transport
	cfg     HTTPClientConfig
}

// NewIQAirCity creates the IQAir city adapter.
func NewIQAirCity(cfg HTTPClientConfig, apiKey string) *IQAirCity {
	return &IQAirCity{
		name:    "iqair",
		apiKey:  apiKey,
		baseURL: cfg.baseURL("https://api.airvisual.com/v2/city"),
		t:       newTransport("iqair", cfg),
		cfg:     cfg,
	}
}

func (p *IQAirCity) Name() string {
	return p.name
}

// FetchLive returns the current IQAir US AQI and weather for the city.
func (p *IQAirCity) FetchLive(ctx context.Context, loc aqi.Location) (*aqi.Observation, error) {
	if p.apiKey == "" {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "iqair api key is not configured", nil)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("city", loc.Entity)
		values.Set("state", loc.State)
		values.Set("country", loc.Country)
		values.Set("key", p.apiKey)
		return newGetRequest(fmt.Sprintf("%s?%s", p.baseURL, values.Encode()))
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			Current struct {
				Pollution struct {
					TS     string `json:"ts"`
					AQIUS  *int   `json:"aqius"`
					MainUS string `json:"mainus"`
				} `json:"pollution"`
				Weather struct {
					TP *float64 `json:"tp"`
					PR *float64 `json:"pr"`
					HU *float64 `json:"hu"`
					WS *float64 `json:"ws"`
					WD *float64 `json:"wd"`
				} `json:"weather"`
			} `json:"current"`
		} `json:"data"`
	}

	if err := p.t.getJSON(ctx, buildRequest, &payload); err != nil {
		if Exhausted(err) {
			p.cfg.logger().Warn("iqair unavailable", "provider", p.name, "entity", loc.Entity, "error", err)
			return nil, nil
		}
		return nil, err
	}
	if payload.Status != "success" {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, fmt.Sprintf("status %q", payload.Status), nil)
	}

	pollution := payload.Data.Current.Pollution
	ts, err := parseTimestamp(pollution.TS)
	if err != nil {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.name, "malformed pollution.ts", err)
	}

	obs := aqi.NewObservation(loc.Entity, ts, p.name)
	obs.AQI = pollution.AQIUS
	if code, ok := iqairMain[pollution.MainUS]; ok {
		obs.DominantPollutant = &code
	}

	w := payload.Data.Current.Weather
	setIf(obs.Weather, aqi.Temperature, w.TP)
	setIf(obs.Weather, aqi.Pressure, w.PR)
	setIf(obs.Weather, aqi.Humidity, w.HU)
	setIf(obs.Weather, aqi.WindSpeed, w.WS)
	setIf(obs.Weather, aqi.WindDirection, w.WD)

	return &obs, nil
}
