// Package device is the acquisition interface: a named-register view of a
// data acquisition instrument plus an interval timer for paced sampling.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrUnsupportedRegister = errors.New("device: unsupported register")
	ErrClosed              = errors.New("device: closed")
)

// Device is exclusively owned by one acquisition run.
type Device interface {
	// Configure writes value to a named register.
	Configure(register string, value float64) error
	// Read returns the current value of a named register.
	Read(register string) (float64, error)
	// WaitForNextInterval blocks until the next boundary of a fixed-period
	// interval started on the first call. It returns the number of
	// boundaries that had already passed and were skipped.
	WaitForNextInterval(ctx context.Context, period time.Duration) (int, error)
	// CleanInterval releases the interval timer.
	CleanInterval()
	Close() error
}

type Config struct {
	Driver     string
	Selector   string
	I2CBus     string
	I2CAddress int
	SampleRate int
	// Clock drives interval timing; nil means the wall clock.
	Clock clockwork.Clock
}

// Open connects to the device selected by cfg.Driver.
func Open(cfg Config) (Device, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	switch strings.ToLower(cfg.Driver) {
	case "sim", "simulation", "":
		return NewSim(cfg), nil
	case "ads1115":
		return NewADS1115(cfg)
	default:
		return nil, fmt.Errorf("unknown device driver %q", cfg.Driver)
	}
}

// Register names follow the LabJack T-series naming so the same channel
// configuration drives every backend.
const (
	RegDeviceTemperatureK = "TEMPERATURE_DEVICE_K"
	RegClock0Enable       = "DIO_EF_CLOCK0_ENABLE"
	RegClock0Divisor      = "DIO_EF_CLOCK0_DIVISOR"
	RegClock0RollValue    = "DIO_EF_CLOCK0_ROLL_VALUE"

	// NegativeGround selects single-ended measurement on AIN#_NEGATIVE_CH.
	NegativeGround = 199
	// EFIndexFrequencyIn measures rising-to-rising edge periods.
	EFIndexFrequencyIn = 3
)

func AIN(n int) string              { return fmt.Sprintf("AIN%d", n) }
func AINNegative(n int) string      { return fmt.Sprintf("AIN%d_NEGATIVE_CH", n) }
func AINRange(n int) string         { return fmt.Sprintf("AIN%d_RANGE", n) }
func AINResolution(n int) string    { return fmt.Sprintf("AIN%d_RESOLUTION_INDEX", n) }
func DIOEFIndex(n int) string       { return fmt.Sprintf("DIO%d_EF_INDEX", n) }
func DIOEFClockSource(n int) string { return fmt.Sprintf("DIO%d_EF_CLOCK_SOURCE", n) }
func DIOEFConfigA(n int) string     { return fmt.Sprintf("DIO%d_EF_CONFIG_A", n) }
func DIOEFEnable(n int) string      { return fmt.Sprintf("DIO%d_EF_ENABLE", n) }
func DIOEFReadA(n int) string       { return fmt.Sprintf("DIO%d_EF_READ_A", n) }
func DIOEFReadBF(n int) string      { return fmt.Sprintf("DIO%d_EF_READ_B_F", n) }

// intervalTimer keeps absolute boundaries so work done between waits does
// not stretch the period.
type intervalTimer struct {
	clock  clockwork.Clock
	period time.Duration
	next   time.Time
}

// wait blocks until the next boundary. Boundaries that already passed while
// the caller was busy are skipped and counted, so the returned wake-up is
// always a full period after the previous boundary.
func (t *intervalTimer) wait(ctx context.Context, period time.Duration) (int, error) {
	if period <= 0 {
		return 0, fmt.Errorf("interval period must be > 0, got %s", period)
	}
	now := t.clock.Now()
	if t.next.IsZero() || period != t.period {
		t.period = period
		t.next = now.Add(period)
	}
	skipped := 0
	for t.next.Before(now) {
		t.next = t.next.Add(period)
		skipped++
	}
	if d := t.next.Sub(now); d > 0 {
		timer := t.clock.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return skipped, ctx.Err()
		case <-timer.Chan():
		}
	}
	t.next = t.next.Add(period)
	return skipped, nil
}

func (t *intervalTimer) clean() {
	t.next = time.Time{}
	t.period = 0
}
