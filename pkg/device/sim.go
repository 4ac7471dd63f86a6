package device

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Write is one recorded Configure call.
type Write struct {
	Register string
	Value    float64
}

// SimDevice is an in-memory instrument. Unless a value is pinned with
// SetValue it synthesizes plausible readings: millivolt-level signals on
// narrow-range analog inputs, 0.5-4.5 V elsewhere, a room-temperature device
// sensor and ~98 Hz on enabled frequency counters.
type SimDevice struct {
	mu        sync.Mutex
	registers map[string]float64
	pinned    map[string]float64
	readErrs  map[string]error
	cfgErrs   map[string]error
	writes    []Write
	rnd       *rand.Rand
	timer     intervalTimer
	closed    bool
}

var (
	reAIN      = regexp.MustCompile(`^AIN(\d+)$`)
	reEFReadA  = regexp.MustCompile(`^DIO(\d+)_EF_READ_A$`)
	reEFReadBF = regexp.MustCompile(`^DIO(\d+)_EF_READ_B_F$`)
)

func NewSim(cfg Config) *SimDevice {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SimDevice{
		registers: make(map[string]float64),
		pinned:    make(map[string]float64),
		readErrs:  make(map[string]error),
		cfgErrs:   make(map[string]error),
		rnd:       rand.New(rand.NewSource(1)),
		timer:     intervalTimer{clock: clock},
	}
}

// SetValue pins the value returned by Read for register.
func (s *SimDevice) SetValue(register string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[register] = v
}

// FailRead makes every Read of register return err; nil clears it.
func (s *SimDevice) FailRead(register string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErrs, register)
		return
	}
	s.readErrs[register] = err
}

// FailConfigure makes Configure of register return err.
func (s *SimDevice) FailConfigure(register string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfgErrs[register] = err
}

// Writes returns every Configure call in order.
func (s *SimDevice) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Closed reports whether Close has been called.
func (s *SimDevice) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SimDevice) Configure(register string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err, ok := s.cfgErrs[register]; ok {
		return err
	}
	s.writes = append(s.writes, Write{Register: register, Value: value})
	s.registers[register] = value
	return nil
}

func (s *SimDevice) Read(register string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if err, ok := s.readErrs[register]; ok {
		return 0, err
	}
	if v, ok := s.pinned[register]; ok {
		return v, nil
	}
	if register == RegDeviceTemperatureK {
		return 298.15 + s.rnd.Float64()*0.2 - 0.1, nil
	}
	if m := reAIN.FindStringSubmatch(register); m != nil {
		n, _ := strconv.Atoi(m[1])
		if r, ok := s.registers[AINRange(n)]; ok && r <= 0.1 {
			return 0.0005 + s.rnd.Float64()*0.0001, nil
		}
		return 0.5 + s.rnd.Float64()*4.0, nil
	}
	if m := reEFReadA.FindStringSubmatch(register); m != nil {
		n, _ := strconv.Atoi(m[1])
		if s.registers[DIOEFEnable(n)] != 1 {
			return 0, fmt.Errorf("%s: extended feature not enabled", register)
		}
		return float64(s.rnd.Intn(1000)), nil
	}
	if m := reEFReadBF.FindStringSubmatch(register); m != nil {
		n, _ := strconv.Atoi(m[1])
		if s.registers[DIOEFEnable(n)] != 1 || s.registers[RegClock0Enable] != 1 {
			return 0, fmt.Errorf("%s: extended feature not enabled", register)
		}
		return 98 + s.rnd.Float64()*4 - 2, nil
	}
	if v, ok := s.registers[register]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedRegister, register)
}

func (s *SimDevice) WaitForNextInterval(ctx context.Context, period time.Duration) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return s.timer.wait(ctx, period)
}

func (s *SimDevice) CleanInterval() {
	s.timer.clean()
}

func (s *SimDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}
