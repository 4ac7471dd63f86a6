package collector

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/device"
)

type closer struct {
	name string
	fn   func() error
}

// Shutdown releases everything a run acquired. Run executes at most once;
// every step is attempted even when an earlier one fails.
//
// Order: outputs switched off, device interval and handle released, log
// closed, then the remaining closers in registration order.
type Shutdown struct {
	log *zap.Logger

	mu      sync.Mutex
	dev     device.Device
	outputs []string
	extra   []string
	persist io.Closer
	closers []closer

	once sync.Once
	err  error
}

func NewShutdown(log *zap.Logger) *Shutdown {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shutdown{log: log}
}

// SetDevice hands over the device. extra registers are written to 0 as well.
func (s *Shutdown) SetDevice(dev device.Device, extra []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = dev
	s.extra = extra
}

// AddOutputs records registers that were switched on.
func (s *Shutdown) AddOutputs(registers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, registers...)
}

func (s *Shutdown) SetPersist(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = c
}

func (s *Shutdown) AddCloser(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Run performs the teardown and returns the combined step errors. Later
// calls return the same result without doing anything.
func (s *Shutdown) Run() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.err = s.run()
	})
	return s.err
}

func (s *Shutdown) run() error {
	var errs error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		s.log.Warn("shutdown step failed", zap.String("step", name), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if s.dev != nil {
		for _, reg := range s.disableList() {
			step("disable "+reg, s.dev.Configure(reg, 0))
		}
		s.dev.CleanInterval()
		step("close device", s.dev.Close())
	}
	if s.persist != nil {
		step("close log", s.persist.Close())
	}
	for _, c := range s.closers {
		step("close "+c.name, c.fn())
	}
	s.log.Info("shutdown complete", zap.Int("errors", len(multierr.Errors(errs))))
	return errs
}

// disableList returns enabled outputs newest first, then the extras, each
// register once.
func (s *Shutdown) disableList() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(reg string) {
		if reg == "" || seen[reg] {
			return
		}
		seen[reg] = true
		out = append(out, reg)
	}
	for i := len(s.outputs) - 1; i >= 0; i-- {
		add(s.outputs[i])
	}
	for _, reg := range s.extra {
		add(reg)
	}
	return out
}
