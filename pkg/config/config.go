package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/ericogr/labtelemetry/pkg/tctable"
)

var valid = validator.New()

// Config is the full run configuration. Keys mirror the YAML file, the
// --flags and the LABTELEMETRY_* environment variables.
type Config struct {
	Duration  time.Duration   `yaml:"duration" mapstructure:"duration" validate:"gt=0"`
	Interval  time.Duration   `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
	Banner    bool            `yaml:"banner" mapstructure:"banner"`
	Device    DeviceConfig    `yaml:"device" mapstructure:"device"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Channels  []ChannelConfig `yaml:"channels" mapstructure:"channels" validate:"required,min=1,dive"`
	Persist   PersistConfig   `yaml:"persist" mapstructure:"persist"`
	Chart     ChartConfig     `yaml:"chart" mapstructure:"chart"`
	Console   ConsoleConfig   `yaml:"console" mapstructure:"console"`
	MQTT      MQTTConfig      `yaml:"mqtt" mapstructure:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type DeviceConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver" validate:"oneof=sim simulation ads1115"`
	Selector   string `yaml:"selector" mapstructure:"selector"`
	I2CBus     string `yaml:"i2c_bus" mapstructure:"i2c_bus"`
	I2CAddress int    `yaml:"i2c_address" mapstructure:"i2c_address" validate:"gte=0,lte=127"`
	SampleRate int    `yaml:"sample_rate" mapstructure:"sample_rate" validate:"oneof=8 16 32 64 128 250 475 860"`
	// DisableOnShutdown lists extra registers written to 0 at shutdown.
	DisableOnShutdown []string `yaml:"disable_on_shutdown,omitempty" mapstructure:"disable_on_shutdown"`
}

type ReferenceConfig struct {
	Register string `yaml:"register" mapstructure:"register" validate:"required"`
	Kelvin   bool   `yaml:"kelvin" mapstructure:"kelvin"`
}

type ChannelConfig struct {
	ID     string `yaml:"id" mapstructure:"id" validate:"required"`
	Label  string `yaml:"label,omitempty" mapstructure:"label"`
	Input  int    `yaml:"input" mapstructure:"input" validate:"gte=0"`
	Wiring string `yaml:"wiring,omitempty" mapstructure:"wiring" validate:"omitempty,oneof=single_ended differential"`
	// Negative is the AIN index of the negative lead for differential wiring.
	Negative        *int    `yaml:"negative,omitempty" mapstructure:"negative" validate:"omitempty,gte=0"`
	Range           float64 `yaml:"range,omitempty" mapstructure:"range" validate:"gte=0"`
	ResolutionIndex *int    `yaml:"resolution_index,omitempty" mapstructure:"resolution_index" validate:"omitempty,gte=0"`

	Sensor           string   `yaml:"sensor" mapstructure:"sensor" validate:"required,oneof=linear_voltage frequency_count thermocouple"`
	Scale            float64  `yaml:"scale,omitempty" mapstructure:"scale"`
	Offset           float64  `yaml:"offset,omitempty" mapstructure:"offset"`
	ClampMin         *float64 `yaml:"clamp_min,omitempty" mapstructure:"clamp_min"`
	KFactor          float64  `yaml:"k_factor,omitempty" mapstructure:"k_factor"`
	ThermocoupleType string   `yaml:"thermocouple_type,omitempty" mapstructure:"thermocouple_type"`

	Quantity string `yaml:"quantity,omitempty" mapstructure:"quantity"`
	Unit     string `yaml:"unit,omitempty" mapstructure:"unit"`
}

type PersistConfig struct {
	Path   string `yaml:"path" mapstructure:"path" validate:"required"`
	Append bool   `yaml:"append" mapstructure:"append"`
}

type ChartConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	History     int           `yaml:"history" mapstructure:"history" validate:"gt=0"`
	Width       int           `yaml:"width" mapstructure:"width" validate:"gt=0"`
	RenderEvery int           `yaml:"render_every" mapstructure:"render_every" validate:"gt=0"`
	Buffer      int           `yaml:"buffer" mapstructure:"buffer" validate:"gt=0"`
	Budget      time.Duration `yaml:"budget" mapstructure:"budget" validate:"gt=0"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Server   string `yaml:"server" mapstructure:"server" validate:"required_if=Enabled true"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
}

type MetricsConfig struct {
	// Addr is the listen address of /metrics and /health; empty disables it.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level        string        `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format       string        `yaml:"format" mapstructure:"format" validate:"oneof=console json"`
	Path         string        `yaml:"path" mapstructure:"path"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" validate:"gte=0"`
	RotationTime time.Duration `yaml:"rotation_time" mapstructure:"rotation_time" validate:"gte=0"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func DefaultConfig() Config {
	return Config{
		Duration: time.Minute,
		Interval: time.Second,
		Banner:   true,
		Device: DeviceConfig{
			Driver:     "sim",
			I2CBus:     "",
			I2CAddress: 0x48,
			SampleRate: 128,
		},
		Reference: ReferenceConfig{Register: "TEMPERATURE_DEVICE_K", Kelvin: true},
		Channels: []ChannelConfig{
			{
				ID: "pressure", Label: "Pressure", Input: 0, Wiring: "single_ended",
				Sensor: "linear_voltage", Scale: 7.5, Offset: 0.5, ClampMin: floatPtr(0),
				Quantity: "Pressure", Unit: "PSI",
			},
			{
				ID: "tc0", Label: "AIN2-AIN3", Input: 2, Wiring: "differential", Negative: intPtr(3),
				Sensor: "thermocouple", ThermocoupleType: "T",
			},
		},
		Persist: PersistConfig{Path: "telemetry_log.csv"},
		Chart: ChartConfig{
			Enabled:     true,
			History:     600,
			Width:       60,
			RenderEvery: 5,
			Buffer:      64,
			Budget:      50 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Server:   "tcp://localhost:1883",
			ClientID: "labtelemetry",
			Topic:    "labtelemetry",
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "console",
			MaxAge:       7 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
	}
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if c.Interval > c.Duration {
		return fmt.Errorf("interval %s is longer than duration %s", c.Interval, c.Duration)
	}
	seen := make(map[string]bool, len(c.Channels))
	var errs error
	for i := range c.Channels {
		ch := &c.Channels[i]
		if seen[ch.ID] {
			errs = multierr.Append(errs, fmt.Errorf("channel %q: duplicate id", ch.ID))
		}
		seen[ch.ID] = true
		if err := ch.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %q: %w", ch.ID, err))
		}
	}
	return errs
}

func (c *ChannelConfig) Validate() error {
	switch c.Sensor {
	case "linear_voltage":
		if c.Scale == 0 {
			return errors.New("scale must be non-zero")
		}
	case "frequency_count":
		if c.KFactor <= 0 {
			return errors.New("k_factor must be > 0")
		}
		if c.Wiring == "differential" {
			return errors.New("frequency counters are single ended")
		}
	case "thermocouple":
		if c.ThermocoupleType != "" && !supportedType(c.ThermocoupleType) {
			return fmt.Errorf("thermocouple type %q not supported (have %s)", c.ThermocoupleType, strings.Join(tctable.Supported(), ", "))
		}
	}
	if c.Wiring == "differential" {
		if c.Negative == nil {
			return errors.New("differential wiring needs a negative input")
		}
		if *c.Negative == c.Input {
			return errors.New("negative input equals positive input")
		}
	}
	return nil
}

func supportedType(t string) bool {
	for _, s := range tctable.Supported() {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}
