package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/aqi-feature-store/internal/aqi"
)

const aqicnBaseURL = "https://api.waqi.info"

// aqicnPollutants maps iaqi keys onto the canonical pollutant taxonomy.
var aqicnPollutants = map[string]string{
	"pm25": aqi.PM25,
	"pm10": aqi.PM10,
	"no2":  aqi.NO2,
	"so2":  aqi.SO2,
	"o3":   aqi.O3,
	"co":   aqi.CO,
}

// aqicnWeather maps the iaqi weather keys that have a canonical name.
var aqicnWeather = map[string]string{
	"t": aqi.Temperature,
	"h": aqi.Humidity,
	"w": aqi.WindSpeed,
	"p": aqi.Pressure,
}

type aqicnEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type aqicnFeed struct {
	AQI         json.RawMessage `json:"aqi"`
	Idx         int             `json:"idx"`
	DominentPol string          `json:"dominentpol"`
	IAQI        map[string]struct {
		V *float64 `json:"v"`
	} `json:"iaqi"`
	Time struct {
		ISO string `json:"iso"`
		S   string `json:"s"`
		V   int64  `json:"v"`
	} `json:"time"`
	City struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
	} `json:"city"`
	History *struct {
		Hourly []aqicnFeed `json:"hourly"`
	} `json:"history"`
	Hourly []aqicnFeed `json:"hourly"`
}

// aqicnClient is shared by the AQICN adapters.
type aqicnClient struct {
	name    string
	token   string
	baseURL string
	t       *transport
	cfg     HTTPClientConfig
}

func newAQICNClient(name string, cfg HTTPClientConfig, token string) aqicnClient {
	return aqicnClient{
		name:    name,
		token:   token,
		baseURL: strings.TrimRight(cfg.baseURL(aqicnBaseURL), "/"),
		t:       newTransport(name, cfg),
		cfg:     cfg,
	}
}

// fetch GETs path and returns the decoded feed. A status other than "ok" is
// a PermanentProviderError.
func (c aqicnClient) fetch(ctx context.Context, path string, query url.Values) (aqicnFeed, error) {
	if c.token == "" {
		return aqicnFeed{}, aqi.NewError(aqi.KindPermanentProvider, c.name, "aqicn token is not configured", nil)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		for k, v := range query {
			values[k] = v
		}
		values.Set("token", c.token)
		return newGetRequest(fmt.Sprintf("%s%s?%s", c.baseURL, path, values.Encode()))
	}

	var env aqicnEnvelope
	if err := c.t.getJSON(ctx, buildRequest, &env); err != nil {
		return aqicnFeed{}, err
	}
	if env.Status != "ok" {
		msg := strings.Trim(string(env.Data), `"`)
		return aqicnFeed{}, aqi.NewError(aqi.KindPermanentProvider, c.name,
			fmt.Sprintf("status %q: %s", env.Status, msg), nil)
	}

	var feed aqicnFeed
	if err := json.Unmarshal(env.Data, &feed); err != nil {
		return aqicnFeed{}, aqi.NewError(aqi.KindPermanentProvider, c.name, "malformed data block", err)
	}
	return feed, nil
}

func (f aqicnFeed) timestamp() (time.Time, error) {
	switch {
	case f.Time.ISO != "":
		return parseTimestamp(f.Time.ISO)
	case f.Time.V > 0:
		return unixUTC(f.Time.V), nil
	case f.Time.S != "":
		return parseTimestamp(f.Time.S)
	}
	return time.Time{}, fmt.Errorf("missing time")
}

// aqiValue reads the aqi field, which is a number or the string "-".
func (f aqicnFeed) aqiValue() *int {
	raw := bytes.TrimSpace(f.AQI)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		v := int(math.Round(n))
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			v := int(math.Round(parsed))
			return &v
		}
	}
	return nil
}

func (f aqicnFeed) toObservation(entity, source string) (aqi.Observation, error) {
	ts, err := f.timestamp()
	if err != nil {
		return aqi.Observation{}, aqi.NewError(aqi.KindPermanentProvider, source, "malformed observation", err)
	}

	obs := aqi.NewObservation(entity, ts, source)
	obs.AQI = f.aqiValue()
	if f.DominentPol != "" {
		if code, ok := aqicnPollutants[f.DominentPol]; ok {
			obs.DominantPollutant = &code
		} else {
			dom := f.DominentPol
			obs.DominantPollutant = &dom
		}
	}
	for k, v := range f.IAQI {
		if v.V == nil {
			continue
		}
		if code, ok := aqicnPollutants[k]; ok {
			obs.Pollutants.Set(code, *v.V)
		} else if name, ok := aqicnWeather[k]; ok {
			obs.Weather.Set(name, *v.V)
		}
	}
	return obs, nil
}

// records returns the history rows in data.history.hourly or data.hourly.
func (f aqicnFeed) records() []aqicnFeed {
	if f.History != nil && len(f.History.Hourly) > 0 {
		return f.History.Hourly
	}
	return f.Hourly
}

// normalizeHistory converts rows, keeps those inside [from, to] and sorts
// them ascending with one row per timestamp.
func normalizeHistory(rows []aqicnFeed, entity, source string, from, to time.Time) ([]aqi.Observation, error) {
	out := make([]aqi.Observation, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		obs, err := r.toObservation(entity, source)
		if err != nil {
			return nil, err
		}
		if !inDayRange(obs.EventTimestamp, from, to) {
			continue
		}
		k := obs.EventTimestamp.Unix()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EventTimestamp.Before(out[j].EventTimestamp)
	})
	return out, nil
}

// AQICNLive fetches the current city feed.
//
// Exhaustion policy: Degrade. After the last failed attempt FetchLive
// returns (nil, nil).
type AQICNLive struct {
	client aqicnClient
}

// NewAQICNLive creates the AQICN live feed adapter.
func NewAQICNLive(cfg HTTPClientConfig, token string) *AQICNLive {
	return &AQICNLive{client: newAQICNClient("aqicn", cfg, token)}
}

func (p *AQICNLive) Name() string {
	return p.client.name
}

// FetchLive returns the current AQICN reading for the location's city.
func (p *AQICNLive) FetchLive(ctx context.Context, loc aqi.Location) (*aqi.Observation, error) {
	feed, err := p.client.fetch(ctx, "/feed/"+url.PathEscape(loc.Entity)+"/", nil)
	if err != nil {
		if Exhausted(err) {
			p.client.cfg.logger().Warn("live AQI unavailable", "provider", p.client.name, "entity", loc.Entity, "error", err)
			return nil, nil
		}
		return nil, err
	}

	obs, err := feed.toObservation(loc.Entity, p.client.name)
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// AQICNStationResolver resolves a city name to its AQICN station.
//
// Exhaustion policy: Raise. Callers cannot address coordinate-based
// providers without it.
type AQICNStationResolver struct {
	client aqicnClient
}

// NewAQICNStationResolver creates a resolver backed by the AQICN city feed.
func NewAQICNStationResolver(cfg HTTPClientConfig, token string) *AQICNStationResolver {
	return &AQICNStationResolver{client: newAQICNClient("aqicn-station", cfg, token)}
}

// Resolve returns the station id, name and coordinates behind loc.Entity.
func (r *AQICNStationResolver) Resolve(ctx context.Context, loc aqi.Location) (aqi.StationMeta, error) {
	feed, err := r.client.fetch(ctx, "/feed/"+url.PathEscape(loc.Entity)+"/", nil)
	if err != nil {
		return aqi.StationMeta{}, raise(r.client.name, err)
	}
	if len(feed.City.Geo) < 2 {
		return aqi.StationMeta{}, aqi.NewError(aqi.KindPermanentProvider, r.client.name, "station has no geo", nil)
	}
	return aqi.StationMeta{
		StationID:   feed.Idx,
		StationName: feed.City.Name,
		Geo:         aqi.Geo{Lat: feed.City.Geo[0], Lon: feed.City.Geo[1]},
	}, nil
}

// AQICNCityHistory fetches the city history one UTC day per request.
//
// Exhaustion policy: Degrade per day. A day whose retries run out is left
// out of the result.
type AQICNCityHistory struct {
	client aqicnClient
}

// NewAQICNCityHistory creates the per-day AQICN city history adapter.
func NewAQICNCityHistory(cfg HTTPClientConfig, token string) *AQICNCityHistory {
	return &AQICNCityHistory{client: newAQICNClient("aqicn-history", cfg, token)}
}

func (p *AQICNCityHistory) Name() string {
	return p.client.name
}

// FetchRange requests each UTC day in [from, to] and concatenates the hours.
func (p *AQICNCityHistory) FetchRange(ctx context.Context, loc aqi.Location, from, to time.Time) ([]aqi.Observation, error) {
	var out []aqi.Observation
	for _, day := range days(from, to) {
		q := url.Values{}
		q.Set("date", day.Format("2006-01-02"))
		feed, err := p.client.fetch(ctx, "/feed/"+url.PathEscape(loc.Entity)+"/history/", q)
		if err != nil {
			if Exhausted(err) {
				p.client.cfg.logger().Warn("history day unavailable", "provider", p.client.name, "day", day.Format("2006-01-02"), "error", err)
				continue
			}
			return nil, err
		}
		rows, err := normalizeHistory(feed.records(), loc.Entity, p.client.name, day, day)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// AQICNStationHistory fetches the station history feed, addressed by the
// resolved station id.
//
// Exhaustion policy: Degrade. Returns an empty slice.
type AQICNStationHistory struct {
	client aqicnClient
}

// NewAQICNStationHistory creates the AQICN station history adapter.
func NewAQICNStationHistory(cfg HTTPClientConfig, token string) *AQICNStationHistory {
	return &AQICNStationHistory{client: newAQICNClient("aqicn-station-history", cfg, token)}
}

func (p *AQICNStationHistory) Name() string {
	return p.client.name
}

// FetchRange returns the station history filtered to the UTC days [from, to].
func (p *AQICNStationHistory) FetchRange(ctx context.Context, loc aqi.Location, from, to time.Time) ([]aqi.Observation, error) {
	if loc.StationID == 0 {
		return nil, aqi.NewError(aqi.KindPermanentProvider, p.client.name, "location has no resolved station", nil)
	}

	feed, err := p.client.fetch(ctx, fmt.Sprintf("/api/feed/@%d/history/", loc.StationID), nil)
	if err != nil {
		if Exhausted(err) {
			p.client.cfg.logger().Warn("station history unavailable", "provider", p.client.name, "station", loc.StationID, "error", err)
			return []aqi.Observation{}, nil
		}
		return nil, err
	}
	return normalizeHistory(feed.records(), loc.Entity, p.client.name, from, to)
}
