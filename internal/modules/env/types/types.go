package types

import "time"

// Reading is one decoded environmental sample from the sensor.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Light       int       `json:"light"`
	Pressure    float64   `json:"pressure"`
	Noise       float64   `json:"noise"`
	ETVOC       int       `json:"etvoc"`
	ECO2        int       `json:"eco2"`
	Discomfort  float64   `json:"discomfort"`
	HeatStroke  float64   `json:"heat_stroke"`
}

// FieldsEqual reports whether two readings carry the same measured values.
// Timestamps are ignored: two samples taken at different times from a frozen
// sensor compare equal.
func (r Reading) FieldsEqual(o Reading) bool {
	return r.Temperature == o.Temperature &&
		r.Humidity == o.Humidity &&
		r.Light == o.Light &&
		r.Pressure == o.Pressure &&
		r.Noise == o.Noise &&
		r.ETVOC == o.ETVOC &&
		r.ECO2 == o.ECO2 &&
		r.Discomfort == o.Discomfort &&
		r.HeatStroke == o.HeatStroke
}
