package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/device"
	"github.com/ericogr/labtelemetry/pkg/metrics"
)

type Pacing int

const (
	// SoftwarePaced waits interval minus the cycle time after each cycle.
	SoftwarePaced Pacing = iota
	// HardwarePaced waits for the device interval boundary before each cycle.
	HardwarePaced
)

func (p Pacing) String() string {
	if p == HardwarePaced {
		return "hardware"
	}
	return "software"
}

// Stop says why the scheduler returned.
type Stop string

const (
	StopDuration  Stop = "duration elapsed"
	StopCancelled Stop = "cancelled"
	StopError     Stop = "error"
)

type Stats struct {
	Cycles   int
	Overruns int
	Stop     Stop
}

// Scheduler drives cycles on a single goroutine until the duration has
// elapsed or ctx is done. Cancellation is observed between cycles only.
type Scheduler struct {
	Interval time.Duration
	Duration time.Duration
	Pacing   Pacing
	Device   device.Device
	Clock    clockwork.Clock
	Log      *zap.Logger
	Metrics  metrics.Recorder
}

func (s *Scheduler) Run(ctx context.Context, cycle func(ctx context.Context) error) (Stats, error) {
	if s.Interval <= 0 {
		return Stats{Stop: StopError}, fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rec := s.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	var stats Stats
	overran := false
	start := clock.Now()
	log.Info("sampling started",
		zap.Stringer("pacing", s.Pacing),
		zap.Duration("interval", s.Interval),
		zap.Duration("duration", s.Duration))

	for {
		if s.Pacing == HardwarePaced {
			skipped, err := s.Device.WaitForNextInterval(ctx, s.Interval)
			if overran || skipped > 0 {
				rec.Overrun(skipped)
			}
			if err != nil {
				if ctx.Err() != nil {
					stats.Stop = StopCancelled
					return stats, nil
				}
				stats.Stop = StopError
				return stats, fmt.Errorf("wait for interval: %w", err)
			}
			if skipped > 0 {
				log.Warn("interval boundaries skipped", zap.Int("skipped", skipped), zap.Int("cycle", stats.Cycles+1))
				if !overran {
					stats.Overruns++
				}
			}
			overran = false
		}
		if ctx.Err() != nil {
			stats.Stop = StopCancelled
			return stats, nil
		}
		if clock.Since(start) > s.Duration {
			stats.Stop = StopDuration
			return stats, nil
		}

		cycleStart := clock.Now()
		// a started cycle always completes
		if err := cycle(context.WithoutCancel(ctx)); err != nil {
			stats.Stop = StopError
			return stats, err
		}
		stats.Cycles++
		took := clock.Since(cycleStart)
		rec.CycleCompleted(took)

		if took > s.Interval {
			log.Warn("cycle overran interval",
				zap.Int("cycle", stats.Cycles),
				zap.Duration("took", took),
				zap.Duration("interval", s.Interval))
			stats.Overruns++
			overran = true
		}

		if s.Pacing == SoftwarePaced {
			if overran {
				rec.Overrun(0)
				overran = false
				continue
			}
			select {
			case <-ctx.Done():
			case <-clock.After(s.Interval - took):
			}
		}
	}
}
