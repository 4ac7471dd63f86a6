// Package collector runs one acquisition: it programs the device, paces
// sampling cycles, converts and dispatches each cycle, and tears everything
// down exactly once.
package collector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/device"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

// Step is one register write of the configuration plan. Enables marks a
// write that switches an output on and must be undone at shutdown.
type Step struct {
	Channel  string
	Register string
	Value    float64
	Enables  bool
}

// Plan lists the register writes for channels in order. The shared counter
// clock is set up before the first counter and enabled after the last one.
func Plan(channels []sensor.Channel) []Step {
	var steps []Step
	clockSetup := false
	for _, ch := range channels {
		switch ch.Sensor.(type) {
		case sensor.FrequencyCount:
			if !clockSetup {
				steps = append(steps,
					Step{Register: device.RegClock0Divisor, Value: 1},
					Step{Register: device.RegClock0RollValue, Value: 0},
				)
				clockSetup = true
			}
			n := ch.Input
			steps = append(steps,
				Step{Channel: ch.ID, Register: device.DIOEFIndex(n), Value: device.EFIndexFrequencyIn},
				Step{Channel: ch.ID, Register: device.DIOEFClockSource(n), Value: 0},
				Step{Channel: ch.ID, Register: device.DIOEFConfigA(n), Value: 0},
				Step{Channel: ch.ID, Register: device.DIOEFEnable(n), Value: 1, Enables: true},
			)
		default:
			negative := float64(device.NegativeGround)
			if ch.Wiring == sensor.Differential {
				negative = float64(ch.Negative)
			}
			steps = append(steps, Step{Channel: ch.ID, Register: device.AINNegative(ch.Input), Value: negative})
			if ch.Range > 0 {
				steps = append(steps, Step{Channel: ch.ID, Register: device.AINRange(ch.Input), Value: ch.Range})
			}
			steps = append(steps, Step{Channel: ch.ID, Register: device.AINResolution(ch.Input), Value: float64(ch.ResolutionIndex)})
		}
	}
	if clockSetup {
		steps = append(steps, Step{Register: device.RegClock0Enable, Value: 1, Enables: true})
	}
	return steps
}

// Configure applies the plan. It returns the outputs it switched on, also
// when a later step fails, so shutdown can switch them off again.
func Configure(dev device.Device, channels []sensor.Channel, log *zap.Logger) ([]string, error) {
	var enabled []string
	for _, st := range Plan(channels) {
		if err := dev.Configure(st.Register, st.Value); err != nil {
			if st.Channel != "" {
				return enabled, fmt.Errorf("configure channel %s: %s=%v: %w", st.Channel, st.Register, st.Value, err)
			}
			return enabled, fmt.Errorf("configure %s=%v: %w", st.Register, st.Value, err)
		}
		log.Debug("register configured", zap.String("register", st.Register), zap.Float64("value", st.Value))
		if st.Enables {
			enabled = append(enabled, st.Register)
		}
	}
	return enabled, nil
}
