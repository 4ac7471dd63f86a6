// Package tctable provides thermocouple reference functions derived from the
// NIST ITS-90 polynomials. Voltages are in millivolts and temperatures in °C.
package tctable

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("tctable: unsupported thermocouple type")
	ErrOutOfRange      = errors.New("tctable: value outside reference range")
)

// Provider converts a measured thermocouple voltage into a hot-junction
// temperature, compensating for the reference (cold) junction.
type Provider interface {
	InverseMillivolts(tcType string, millivolts, referenceC float64) (float64, error)
}

type segment struct {
	lo, hi float64
	c      []float64
}

type table struct {
	segments []segment
	// K type carries an extra exponential term above 0 °C.
	expA0, expA1, expA2 float64
}

var tables = map[string]table{
	"T": {
		segments: []segment{
			{lo: -270, hi: 0, c: []float64{
				0.000000000000e+00,
				0.387481063640e-01,
				0.441944343470e-04,
				0.118443231050e-06,
				0.200329735540e-07,
				0.901380195590e-09,
				0.226511565930e-10,
				0.360711542050e-12,
				0.384939398830e-14,
				0.282135219250e-16,
				0.142515947790e-18,
				0.487686622860e-21,
				0.107955392700e-23,
				0.139450270620e-26,
				0.797951539270e-30,
			}},
			{lo: 0, hi: 400, c: []float64{
				0.000000000000e+00,
				0.387481063640e-01,
				0.332922278800e-04,
				0.206182434040e-06,
				-0.218822568460e-08,
				0.109968809280e-10,
				-0.308157587720e-13,
				0.454791352900e-16,
				-0.275129016730e-19,
			}},
		},
	},
	"K": {
		segments: []segment{
			{lo: -270, hi: 0, c: []float64{
				0.000000000000e+00,
				0.394501280250e-01,
				0.236223735980e-04,
				-0.328589067840e-06,
				-0.499048287770e-08,
				-0.675090591730e-10,
				-0.574103274280e-12,
				-0.310888728940e-14,
				-0.104516093650e-16,
				-0.198892668780e-19,
				-0.163226974860e-22,
			}},
			{lo: 0, hi: 1372, c: []float64{
				-0.176004136860e-01,
				0.389212049750e-01,
				0.185587700320e-04,
				-0.994575928740e-07,
				0.318409457190e-09,
				-0.560728448890e-12,
				0.560750590590e-15,
				-0.320207200030e-18,
				0.971511471520e-22,
				-0.121047212750e-25,
			}},
		},
		expA0: 0.118597600000e+00,
		expA1: -0.118343200000e-03,
		expA2: 0.126968600000e+03,
	},
}

func lookup(tcType string) (table, error) {
	t, ok := tables[strings.ToUpper(strings.TrimSpace(tcType))]
	if !ok {
		return table{}, fmt.Errorf("%w: %q", ErrUnsupportedType, tcType)
	}
	return t, nil
}

func (t table) bounds() (float64, float64) {
	return t.segments[0].lo, t.segments[len(t.segments)-1].hi
}

func (t table) emf(celsius float64) float64 {
	seg := t.segments[len(t.segments)-1]
	for _, s := range t.segments {
		if celsius <= s.hi {
			seg = s
			break
		}
	}
	var e float64
	for i := len(seg.c) - 1; i >= 0; i-- {
		e = e*celsius + seg.c[i]
	}
	if t.expA0 != 0 && celsius > 0 {
		d := celsius - t.expA2
		e += t.expA0 * math.Exp(t.expA1*d*d)
	}
	return e
}

// Millivolts returns the thermoelectric voltage of a thermocouple with its
// reference junction at 0 °C.
func Millivolts(tcType string, celsius float64) (float64, error) {
	t, err := lookup(tcType)
	if err != nil {
		return math.NaN(), err
	}
	lo, hi := t.bounds()
	if math.IsNaN(celsius) || celsius < lo || celsius > hi {
		return math.NaN(), fmt.Errorf("%w: %.2f °C for type %s", ErrOutOfRange, celsius, tcType)
	}
	return t.emf(celsius), nil
}

// NIST is the default Provider. It inverts the forward polynomials by
// bisection, which keeps the inverse consistent with Millivolts.
type NIST struct{}

const (
	bisectIterations = 80
	bisectTolerance  = 1e-9
)

func (NIST) InverseMillivolts(tcType string, millivolts, referenceC float64) (float64, error) {
	t, err := lookup(tcType)
	if err != nil {
		return math.NaN(), err
	}
	if math.IsNaN(millivolts) || math.IsInf(millivolts, 0) {
		return math.NaN(), fmt.Errorf("%w: voltage %v", ErrOutOfRange, millivolts)
	}
	refEMF, err := Millivolts(tcType, referenceC)
	if err != nil {
		return math.NaN(), fmt.Errorf("reference junction: %w", err)
	}
	target := millivolts + refEMF

	lo, hi := t.bounds()
	if target < t.emf(lo) || target > t.emf(hi) {
		return math.NaN(), fmt.Errorf("%w: %.4f mV for type %s", ErrOutOfRange, target, tcType)
	}
	for i := 0; i < bisectIterations && hi-lo > bisectTolerance; i++ {
		mid := (lo + hi) / 2
		if t.emf(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

// Supported lists the thermocouple types known to NIST.
func Supported() []string {
	return []string{"K", "T"}
}
