package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	ads1115Inputs = 4
)

// full-scale range in volts per PGA setting
var pgaFullScale = []float64{6.144, 4.096, 2.048, 1.024, 0.512, 0.256}

// differential input pairs supported by the ADS1115 multiplexer
var diffMux = map[[2]int]byte{
	{0, 1}: 0x0,
	{0, 3}: 0x1,
	{1, 3}: 0x2,
	{2, 3}: 0x3,
}

var reAINSetting = regexp.MustCompile(`^AIN(\d+)_(NEGATIVE_CH|RANGE|RESOLUTION_INDEX)$`)

// ADS1115 exposes a TI ADS1115 on an I²C bus through the register view.
// It has no device temperature sensor and no counters, so reference and
// frequency registers report ErrUnsupportedRegister.
type ADS1115 struct {
	dev        *i2c.Dev
	bus        i2c.BusCloser
	sampleRate int
	mux        [ads1115Inputs]byte
	pga        [ads1115Inputs]byte
	timer      intervalTimer
	closed     bool
}

func NewADS1115(cfg Config) (Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	addr := cfg.I2CAddress
	if addr == 0 {
		addr = 0x48
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 128
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return newADS1115(&i2c.Dev{Addr: uint16(addr), Bus: bus}, bus, rate, clock), nil
}

func newADS1115(dev *i2c.Dev, bus i2c.BusCloser, sampleRate int, clock clockwork.Clock) *ADS1115 {
	a := &ADS1115{dev: dev, bus: bus, sampleRate: sampleRate, timer: intervalTimer{clock: clock}}
	for i := range a.mux {
		a.mux[i] = singleEndedMux(i)
		a.pga[i] = 0x1
	}
	return a
}

func singleEndedMux(input int) byte { return 0x4 + byte(input) }

func (a *ADS1115) Configure(register string, value float64) error {
	if a.closed {
		return ErrClosed
	}
	m := reAINSetting.FindStringSubmatch(register)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedRegister, register)
	}
	input, _ := strconv.Atoi(m[1])
	if input >= ads1115Inputs {
		return fmt.Errorf("%w: %s (ADS1115 has %d inputs)", ErrUnsupportedRegister, register, ads1115Inputs)
	}
	switch m[2] {
	case "NEGATIVE_CH":
		neg := int(value)
		if neg == NegativeGround {
			a.mux[input] = singleEndedMux(input)
			return nil
		}
		mux, ok := diffMux[[2]int{input, neg}]
		if !ok {
			return fmt.Errorf("invalid differential pair AIN%d-AIN%d", input, neg)
		}
		a.mux[input] = mux
	case "RANGE":
		a.pga[input] = pgaForRange(value)
	case "RESOLUTION_INDEX":
		// conversions are always 16 bit
	}
	return nil
}

// pgaForRange picks the narrowest full-scale range that still covers volts.
func pgaForRange(volts float64) byte {
	pga := byte(0)
	for i, fs := range pgaFullScale {
		if fs >= volts {
			pga = byte(i)
		}
	}
	return pga
}

func (a *ADS1115) Read(register string) (float64, error) {
	if a.closed {
		return 0, ErrClosed
	}
	m := reAIN.FindStringSubmatch(register)
	if m == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedRegister, register)
	}
	input, _ := strconv.Atoi(m[1])
	if input >= ads1115Inputs {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedRegister, register)
	}
	msb, lsb := configWord(a.mux[input], a.pga[input], a.sampleRate)
	if err := a.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	// wait for the single-shot conversion
	delayMs := int(1000.0/float64(a.sampleRate)) + 2
	a.timer.clock.Sleep(time.Duration(delayMs) * time.Millisecond)
	readBuf := make([]byte, 2)
	if err := a.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return float64(raw) * pgaFullScale[a.pga[input]] / 32768.0, nil
}

func (a *ADS1115) WaitForNextInterval(ctx context.Context, period time.Duration) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.timer.wait(ctx, period)
}

func (a *ADS1115) CleanInterval() { a.timer.clean() }

func (a *ADS1115) Close() error {
	if a.closed {
		return ErrClosed
	}
	a.closed = true
	if a.bus != nil {
		return a.bus.Close()
	}
	return nil
}

func configWord(mux, pga byte, sampleRate int) (byte, byte) {
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF)
}
