package aqi

import (
	"time"
)

// Granularity tags the logical feed a record belongs to. Identity is
// (entity, event_timestamp) inside one granularity.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == Hourly || g == Daily
}

// Pollutant codes.
const (
	PM25 = "pm25"
	PM10 = "pm10"
	NO2  = "no2"
	SO2  = "so2"
	O3   = "o3"
	CO   = "co"
)

// Weather variables.
const (
	Temperature   = "temperature"
	Humidity      = "humidity"
	WindSpeed     = "wind_speed"
	WindDirection = "wind_direction"
	Pressure      = "pressure"
	Precipitation = "precipitation"
)

var (
	PollutantKeys = []string{PM25, PM10, NO2, SO2, O3, CO}
	WeatherKeys   = []string{Temperature, Humidity, WindSpeed, WindDirection, Pressure, Precipitation}
)

// Readings maps a taxonomy key to a nullable value.
type Readings map[string]*float64

// NewPollutants returns a bag carrying every pollutant key set to nil.
func NewPollutants() Readings {
	return newReadings(PollutantKeys)
}

// NewWeather returns a bag carrying every weather key set to nil.
func NewWeather() Readings {
	return newReadings(WeatherKeys)
}

func newReadings(keys []string) Readings {
	r := make(Readings, len(keys))
	for _, k := range keys {
		r[k] = nil
	}
	return r
}

// Set stores v under key when key is part of the bag's taxonomy.
func (r Readings) Set(key string, v float64) {
	if _, ok := r[key]; ok {
		r[key] = &v
	}
}

// Clone returns a deep copy.
func (r Readings) Clone() Readings {
	if r == nil {
		return nil
	}
	out := make(Readings, len(r))
	for k, v := range r {
		if v != nil {
			val := *v
			out[k] = &val
		} else {
			out[k] = nil
		}
	}
	return out
}

// Geo is a WGS84 coordinate pair.
type Geo struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// Location is what adapters are asked to fetch for. Geo and StationID are
// filled from StationMeta when the entity was resolved.
type Location struct {
	Entity    string
	State     string
	Country   string
	Geo       *Geo
	StationID int
}

// WithStation returns a copy of l addressed by the resolved station.
func (l Location) WithStation(meta StationMeta) Location {
	geo := meta.Geo
	l.Geo = &geo
	l.StationID = meta.StationID
	return l
}

// Observation is the canonical record every adapter normalizes into.
type Observation struct {
	Entity            string      `json:"entity" bson:"entity" validate:"required"`
	EventTimestamp    time.Time   `json:"event_timestamp" bson:"event_timestamp"`
	Granularity       Granularity `json:"granularity" bson:"granularity" validate:"required,oneof=hourly daily"`
	AQI               *int        `json:"aqi" bson:"aqi" validate:"omitempty,gte=0"`
	DominantPollutant *string     `json:"dominant_pollutant" bson:"dominant_pollutant"`
	Pollutants        Readings    `json:"pollutants" bson:"pollutants" validate:"required"`
	Weather           Readings    `json:"weather" bson:"weather" validate:"required"`
	Source            string      `json:"source" bson:"source" validate:"required"`
	IngestedAt        time.Time   `json:"ingested_at" bson:"ingested_at"`
}

// NewObservation returns an hourly observation with empty taxonomy bags.
func NewObservation(entity string, ts time.Time, source string) Observation {
	return Observation{
		Entity:         entity,
		EventTimestamp: ts.UTC(),
		Granularity:    Hourly,
		Pollutants:     NewPollutants(),
		Weather:        NewWeather(),
		Source:         source,
		IngestedAt:     time.Now().UTC(),
	}
}

// HasAQI reports whether the observation carries a usable AQI value.
func (o Observation) HasAQI() bool {
	return o.AQI != nil
}

// StationMeta is the resolution of an entity to a provider station.
type StationMeta struct {
	StationID   int    `json:"station_id"`
	StationName string `json:"station_name"`
	Geo         Geo    `json:"geo"`
}

// Features holds the derived values of one FeatureRecord.
type Features struct {
	AQI           *int     `json:"aqi" bson:"aqi"`
	AQILag1       *float64 `json:"aqi_lag_1" bson:"aqi_lag_1"`
	AQILag3       *float64 `json:"aqi_lag_3" bson:"aqi_lag_3"`
	AQILag24      *float64 `json:"aqi_lag_24" bson:"aqi_lag_24"`
	AQIChangeRate *float64 `json:"aqi_change_rate" bson:"aqi_change_rate"`
	Hour          int      `json:"hour" bson:"hour"`
	Day           int      `json:"day" bson:"day"`
	Month         int      `json:"month" bson:"month"`
	Weather       Readings `json:"weather" bson:"weather"`
}

// FeatureRecord is the persisted feature row for (entity, event_timestamp).
type FeatureRecord struct {
	Entity         string    `json:"entity" bson:"entity"`
	EventTimestamp time.Time `json:"event_timestamp" bson:"event_timestamp"`
	FeatureVersion string    `json:"feature_version" bson:"feature_version"`
	Features       Features  `json:"features" bson:"features"`
	Source         string    `json:"source" bson:"source"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}
