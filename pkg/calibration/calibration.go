// Package calibration converts raw channel readings into engineering units.
package calibration

import (
	"fmt"
	"math"

	"github.com/ericogr/labtelemetry/pkg/sensor"
	"github.com/ericogr/labtelemetry/pkg/tctable"
)

type Kind string

const (
	KindMissingReference Kind = "missing_reference"
	KindLookup           Kind = "lookup"
	KindInvalidRaw       Kind = "invalid_raw"
	KindInvalidParams    Kind = "invalid_params"
	KindUnknownSensor    Kind = "unknown_sensor"
)

// ConversionError is never fatal; callers record an invalid sample instead.
type ConversionError struct {
	Kind Kind
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversion %s: %v", e.Kind, e.Err)
	}
	return "conversion " + string(e.Kind)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Engine dispatches a raw value to the conversion of its sensor type.
// It holds no state besides the table provider.
type Engine struct {
	Tables tctable.Provider
}

func New(tables tctable.Provider) Engine {
	if tables == nil {
		tables = tctable.NIST{}
	}
	return Engine{Tables: tables}
}

// Convert returns the engineering value for raw. reference is the
// cold-junction temperature in °C and is only used by thermocouples.
// Raw thermocouple values are millivolts, frequency values are Hz.
func (e Engine) Convert(st sensor.SensorType, raw, reference float64) (float64, error) {
	if !finite(raw) {
		return math.NaN(), &ConversionError{Kind: KindInvalidRaw, Err: fmt.Errorf("raw value %v", raw)}
	}
	switch s := st.(type) {
	case sensor.LinearVoltage:
		v := (raw - s.Offset) * s.Scale
		if s.ClampMin != nil && v < *s.ClampMin {
			v = *s.ClampMin
		}
		return v, nil
	case sensor.FrequencyCount:
		if s.KFactor <= 0 || !finite(s.KFactor) {
			return math.NaN(), &ConversionError{Kind: KindInvalidParams, Err: fmt.Errorf("k-factor %v", s.KFactor)}
		}
		return raw / s.KFactor, nil
	case sensor.ThermocoupleSingleEnded:
		return e.thermocouple(s.Type, raw, reference)
	case sensor.ThermocoupleDifferential:
		return e.thermocouple(s.Type, raw, reference)
	default:
		return math.NaN(), &ConversionError{Kind: KindUnknownSensor, Err: fmt.Errorf("%T", st)}
	}
}

func (e Engine) thermocouple(tcType string, millivolts, reference float64) (float64, error) {
	if !finite(reference) {
		return math.NaN(), &ConversionError{Kind: KindMissingReference}
	}
	tables := e.Tables
	if tables == nil {
		tables = tctable.NIST{}
	}
	c, err := tables.InverseMillivolts(tcType, millivolts, reference)
	if err != nil {
		return math.NaN(), &ConversionError{Kind: KindLookup, Err: err}
	}
	return c, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
