package sensor

import (
	"math"
	"time"
)

type WiringMode string

const (
	SingleEnded  WiringMode = "single_ended"
	Differential WiringMode = "differential"
)

// SensorType is the closed set of calibration variants a channel can carry.
// Only types in this package implement it.
type SensorType interface {
	// Kind is the configuration name of the variant.
	Kind() string
	// NeedsReference reports whether conversion requires the cold-junction temperature.
	NeedsReference() bool
	// HardwarePaced reports whether the raw value is only meaningful when
	// integrated over exactly one device interval.
	HardwarePaced() bool
	sealed()
}

// LinearVoltage maps a voltage to engineering units: (raw - Offset) * Scale,
// floored at ClampMin when set.
type LinearVoltage struct {
	Scale    float64
	Offset   float64
	ClampMin *float64
}

// FrequencyCount maps a pulse frequency in Hz to flow: raw / KFactor.
type FrequencyCount struct {
	KFactor float64
}

// ThermocoupleSingleEnded is a thermocouple measured against ground.
type ThermocoupleSingleEnded struct {
	Type string
}

// ThermocoupleDifferential is a thermocouple measured across two inputs.
type ThermocoupleDifferential struct {
	Type string
}

func (LinearVoltage) Kind() string            { return "linear_voltage" }
func (FrequencyCount) Kind() string           { return "frequency_count" }
func (ThermocoupleSingleEnded) Kind() string  { return "thermocouple" }
func (ThermocoupleDifferential) Kind() string { return "thermocouple" }

func (LinearVoltage) NeedsReference() bool            { return false }
func (FrequencyCount) NeedsReference() bool           { return false }
func (ThermocoupleSingleEnded) NeedsReference() bool  { return true }
func (ThermocoupleDifferential) NeedsReference() bool { return true }

func (LinearVoltage) HardwarePaced() bool            { return false }
func (FrequencyCount) HardwarePaced() bool           { return true }
func (ThermocoupleSingleEnded) HardwarePaced() bool  { return false }
func (ThermocoupleDifferential) HardwarePaced() bool { return false }

func (LinearVoltage) sealed()            {}
func (FrequencyCount) sealed()           {}
func (ThermocoupleSingleEnded) sealed()  {}
func (ThermocoupleDifferential) sealed() {}

// Channel describes one physical sensor lead. It is built once from the run
// configuration and never mutated afterwards.
type Channel struct {
	ID     string
	Label  string
	Wiring WiringMode
	Sensor SensorType

	// Input is the AIN index for analog channels and the DIO index for
	// frequency channels. Negative is the AIN index of the negative lead
	// for differential channels.
	Input           int
	Negative        int
	Range           float64
	ResolutionIndex int

	// Quantity and Unit name the converted value, e.g. "Pressure" and "PSI".
	Quantity string
	Unit     string
}

// Name returns the label used in log headers and chart legends.
func (c Channel) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return c.ID
}

// Sample is one channel's reading within a cycle.
type Sample struct {
	ChannelID string  `json:"channel"`
	Raw       float64 `json:"raw"`
	Value     float64 `json:"value"`
	Valid     bool    `json:"valid"`
}

// InvalidSample is the representation of a failed read or conversion.
func InvalidSample(channelID string) Sample {
	return Sample{ChannelID: channelID, Raw: math.NaN(), Value: math.NaN()}
}

// CycleRecord is the immutable result of one sampling pass.
type CycleRecord struct {
	Seq       uint64
	Timestamp time.Time
	Elapsed   time.Duration
	Reference float64
	Samples   []Sample
}

// NeedsHardwarePacing reports whether any channel requires device-timed intervals.
func NeedsHardwarePacing(channels []Channel) bool {
	for _, ch := range channels {
		if ch.Sensor != nil && ch.Sensor.HardwarePaced() {
			return true
		}
	}
	return false
}

// NeedsReference reports whether any channel uses cold-junction compensation.
func NeedsReference(channels []Channel) bool {
	for _, ch := range channels {
		if ch.Sensor != nil && ch.Sensor.NeedsReference() {
			return true
		}
	}
	return false
}

// RawQuantity names the electrical quantity a sensor type reads and its unit.
func RawQuantity(st SensorType) (string, string) {
	switch st.(type) {
	case FrequencyCount:
		return "Frequency", "Hz"
	case ThermocoupleSingleEnded, ThermocoupleDifferential:
		return "Voltage", "mV"
	default:
		return "Voltage", "V"
	}
}
