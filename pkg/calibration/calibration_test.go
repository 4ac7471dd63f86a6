package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/ericogr/labtelemetry/pkg/sensor"
	"github.com/ericogr/labtelemetry/pkg/tctable"
)

func floatPtr(v float64) *float64 { return &v }

func TestLinearVoltage(t *testing.T) {
	e := New(nil)
	pressure := sensor.LinearVoltage{Scale: 7.5, Offset: 0.5, ClampMin: floatPtr(0)}

	tests := []struct {
		raw  float64
		want float64
	}{
		{0.5, 0},
		{4.5, 30},
		{0.3, 0},
		{2.5, 15},
	}
	for _, tt := range tests {
		got, err := e.Convert(pressure, tt.raw, math.NaN())
		if err != nil {
			t.Fatalf("Convert(%v): %v", tt.raw, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("Convert(%v) = %v; want %v", tt.raw, got, tt.want)
		}
	}

	// without a clamp the noise floor goes negative
	got, err := e.Convert(sensor.LinearVoltage{Scale: 7.5, Offset: 0.5}, 0.3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-(-1.5)) > 1e-12 {
		t.Fatalf("unclamped Convert(0.3) = %v; want -1.5", got)
	}
}

func TestFrequencyCount(t *testing.T) {
	e := New(nil)
	got, err := e.Convert(sensor.FrequencyCount{KFactor: 98}, 98.0, math.NaN())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1.0 {
		t.Fatalf("Convert(98 Hz) = %v; want 1.0", got)
	}

	_, err = e.Convert(sensor.FrequencyCount{KFactor: 0}, 98.0, 0)
	var ce *ConversionError
	if !errors.As(err, &ce) || ce.Kind != KindInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}
}

func TestThermocouple(t *testing.T) {
	e := New(tctable.NIST{})
	for _, st := range []sensor.SensorType{
		sensor.ThermocoupleSingleEnded{Type: "T"},
		sensor.ThermocoupleDifferential{Type: "T"},
	} {
		got, err := e.Convert(st, 0.0, 0.0)
		if err != nil {
			t.Fatalf("%T: unexpected error: %v", st, err)
		}
		if math.Abs(got) > 0.01 {
			t.Fatalf("%T: Convert(0 mV, ref 0) = %v; want ~0", st, got)
		}
	}
}

func TestThermocoupleMissingReference(t *testing.T) {
	e := New(nil)
	for _, ref := range []float64{math.NaN(), math.Inf(1)} {
		v, err := e.Convert(sensor.ThermocoupleDifferential{Type: "T"}, 1.0, ref)
		var ce *ConversionError
		if !errors.As(err, &ce) || ce.Kind != KindMissingReference {
			t.Fatalf("ref %v: expected missing reference, got %v", ref, err)
		}
		if !math.IsNaN(v) {
			t.Fatalf("ref %v: expected NaN value, got %v", ref, v)
		}
	}
}

func TestLookupError(t *testing.T) {
	_, err := New(nil).Convert(sensor.ThermocoupleSingleEnded{Type: "Z"}, 1.0, 20)
	var ce *ConversionError
	if !errors.As(err, &ce) || ce.Kind != KindLookup {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if !errors.Is(err, tctable.ErrUnsupportedType) {
		t.Fatalf("expected wrapped ErrUnsupportedType, got %v", err)
	}
}

func TestInvalidRaw(t *testing.T) {
	_, err := New(nil).Convert(sensor.LinearVoltage{Scale: 1}, math.NaN(), 0)
	var ce *ConversionError
	if !errors.As(err, &ce) || ce.Kind != KindInvalidRaw {
		t.Fatalf("expected invalid raw, got %v", err)
	}
}

func TestConvertIsPure(t *testing.T) {
	e := New(nil)
	inputs := []struct {
		st  sensor.SensorType
		raw float64
		ref float64
	}{
		{sensor.LinearVoltage{Scale: 7.5, Offset: 0.5, ClampMin: floatPtr(0)}, 3.217, math.NaN()},
		{sensor.FrequencyCount{KFactor: 98}, 123.456, math.NaN()},
		{sensor.ThermocoupleDifferential{Type: "T"}, 1.234, 22.7},
		{sensor.ThermocoupleSingleEnded{Type: "K"}, 4.5, 19.1},
	}
	for _, in := range inputs {
		a, errA := e.Convert(in.st, in.raw, in.ref)
		b, errB := e.Convert(in.st, in.raw, in.ref)
		if errA != nil || errB != nil {
			t.Fatalf("%T: unexpected errors %v / %v", in.st, errA, errB)
		}
		if math.Float64bits(a) != math.Float64bits(b) {
			t.Fatalf("%T: results differ: %v vs %v", in.st, a, b)
		}
	}
}
