package config

import (
	"fmt"
	"strings"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

const (
	defaultAnalogRange       = 10.0
	defaultThermocoupleRange = 0.1
	// index 8 trades speed for the noise floor thermocouples need
	defaultThermocoupleResolution = 8
	defaultThermocoupleType       = "T"
)

// SensorChannels builds the immutable channel list in declared order.
func (c *Config) SensorChannels() ([]sensor.Channel, error) {
	out := make([]sensor.Channel, 0, len(c.Channels))
	for i := range c.Channels {
		ch, err := c.Channels[i].Channel()
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", c.Channels[i].ID, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// Channel converts one channel entry, filling in per-sensor defaults.
func (c *ChannelConfig) Channel() (sensor.Channel, error) {
	ch := sensor.Channel{
		ID:       c.ID,
		Label:    c.Label,
		Wiring:   sensor.SingleEnded,
		Input:    c.Input,
		Range:    c.Range,
		Quantity: c.Quantity,
		Unit:     c.Unit,
	}
	if c.Wiring == string(sensor.Differential) {
		ch.Wiring = sensor.Differential
		if c.Negative == nil {
			return ch, fmt.Errorf("differential wiring needs a negative input")
		}
		ch.Negative = *c.Negative
	}
	if c.ResolutionIndex != nil {
		ch.ResolutionIndex = *c.ResolutionIndex
	}

	switch c.Sensor {
	case "linear_voltage":
		lv := sensor.LinearVoltage{Scale: c.Scale, Offset: c.Offset}
		if c.ClampMin != nil {
			v := *c.ClampMin
			lv.ClampMin = &v
		}
		ch.Sensor = lv
		setDefault(&ch.Range, defaultAnalogRange)
		setDefaultString(&ch.Quantity, "Value")
		setDefaultString(&ch.Unit, "units")
	case "frequency_count":
		if ch.Wiring == sensor.Differential {
			return ch, fmt.Errorf("frequency counters are single ended")
		}
		ch.Sensor = sensor.FrequencyCount{KFactor: c.KFactor}
		setDefaultString(&ch.Quantity, "Flow")
		setDefaultString(&ch.Unit, "L/min")
	case "thermocouple":
		tc := strings.ToUpper(c.ThermocoupleType)
		if tc == "" {
			tc = defaultThermocoupleType
		}
		if ch.Wiring == sensor.Differential {
			ch.Sensor = sensor.ThermocoupleDifferential{Type: tc}
		} else {
			ch.Sensor = sensor.ThermocoupleSingleEnded{Type: tc}
		}
		setDefault(&ch.Range, defaultThermocoupleRange)
		if c.ResolutionIndex == nil {
			ch.ResolutionIndex = defaultThermocoupleResolution
		}
		setDefaultString(&ch.Quantity, "Temp")
		setDefaultString(&ch.Unit, "°C")
	default:
		return ch, fmt.Errorf("unknown sensor %q", c.Sensor)
	}
	return ch, nil
}

func setDefault(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDefaultString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
