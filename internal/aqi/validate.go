package aqi

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate enforces the canonical data contract. Violations are
// ValidationErrors and abort only the offending record.
func Validate(obs Observation) error {
	if err := validate.Struct(obs); err != nil {
		return NewError(KindValidation, obs.Source, "observation failed validation", err)
	}
	if obs.EventTimestamp.IsZero() {
		return NewError(KindValidation, obs.Source, "event_timestamp is required", nil)
	}
	if obs.EventTimestamp.Location() != time.UTC {
		return NewError(KindValidation, obs.Source, "event_timestamp must be UTC", nil)
	}
	if err := checkTaxonomy("pollutants", obs.Pollutants, PollutantKeys); err != nil {
		return NewError(KindValidation, obs.Source, err.Error(), nil)
	}
	if err := checkTaxonomy("weather", obs.Weather, WeatherKeys); err != nil {
		return NewError(KindValidation, obs.Source, err.Error(), nil)
	}
	return nil
}

// RequireAQI additionally rejects observations without an AQI value.
func RequireAQI(obs Observation) error {
	if err := Validate(obs); err != nil {
		return err
	}
	if obs.AQI == nil {
		return NewError(KindValidation, obs.Source, "aqi is required", nil)
	}
	return nil
}

func checkTaxonomy(name string, r Readings, keys []string) error {
	for _, k := range keys {
		if _, ok := r[k]; !ok {
			return fmt.Errorf("%s missing key %q", name, k)
		}
	}
	return nil
}
