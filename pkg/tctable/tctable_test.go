package tctable

import (
	"errors"
	"math"
	"testing"
)

func TestMillivoltsReferencePoints(t *testing.T) {
	tests := []struct {
		tc   string
		c    float64
		want float64
	}{
		{"T", 0, 0},
		{"T", 25, 0.992},
		{"T", 100, 4.279},
		{"T", -100, -3.379},
		{"K", 0, 0},
		{"K", 100, 4.096},
		{"K", 500, 20.644},
		{"k", 25, 1.000},
	}
	for _, tt := range tests {
		got, err := Millivolts(tt.tc, tt.c)
		if err != nil {
			t.Fatalf("Millivolts(%s, %v): %v", tt.tc, tt.c, err)
		}
		if math.Abs(got-tt.want) > 0.002 {
			t.Fatalf("Millivolts(%s, %v) = %.4f; want %.3f", tt.tc, tt.c, got, tt.want)
		}
	}
}

func TestInverseZeroAtZeroReference(t *testing.T) {
	got, err := NIST{}.InverseMillivolts("T", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got) > 0.01 {
		t.Fatalf("inverse(0 mV, ref 0) = %f; want ~0", got)
	}
}

func TestInverseAppliesColdJunction(t *testing.T) {
	// 0 mV across the thermocouple means both junctions share the same temperature.
	got, err := NIST{}.InverseMillivolts("T", 0, 23.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-23.5) > 0.01 {
		t.Fatalf("inverse(0 mV, ref 23.5) = %f; want 23.5", got)
	}

	// 100 °C hot junction with a 25 °C reference produces E(100) - E(25).
	mv := 4.279 - 0.992
	got, err = NIST{}.InverseMillivolts("T", mv, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-100) > 0.1 {
		t.Fatalf("inverse(%.3f mV, ref 25) = %f; want ~100", mv, got)
	}
}

func TestInverseRoundTrip(t *testing.T) {
	for _, tc := range Supported() {
		for _, c := range []float64{-150, -20, 0, 37, 250} {
			mv, err := Millivolts(tc, c)
			if err != nil {
				t.Fatalf("Millivolts(%s, %v): %v", tc, c, err)
			}
			got, err := NIST{}.InverseMillivolts(tc, mv, 0)
			if err != nil {
				t.Fatalf("InverseMillivolts(%s, %v): %v", tc, mv, err)
			}
			if math.Abs(got-c) > 1e-6 {
				t.Fatalf("%s round trip at %v °C got %v", tc, c, got)
			}
		}
	}
}

func TestInverseErrors(t *testing.T) {
	if _, err := (NIST{}).InverseMillivolts("Q", 1, 20); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := (NIST{}).InverseMillivolts("T", 500, 20); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for huge voltage, got %v", err)
	}
	if _, err := (NIST{}).InverseMillivolts("T", 1, math.NaN()); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for NaN reference, got %v", err)
	}
}
