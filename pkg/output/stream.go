package output

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

const (
	DefaultBuffer = 64
	DefaultBudget = 50 * time.Millisecond

	drainTimeout = 2 * time.Second
)

// ErrSinkBusy is returned by Close when a sink is still inside Publish after
// the stream stopped feeding it. That sink is closed once Publish returns.
var ErrSinkBusy = errors.New("chart sink still publishing")

// Stream fans cycle records out to chart sinks from a single render
// goroutine. Push never blocks the acquisition loop longer than the budget.
// Push and Close are called from the acquisition goroutine only.
type Stream struct {
	sinks  []ChartSink
	queue  chan []Point
	budget time.Duration
	log    *zap.Logger
	onDrop func(n int)

	drain time.Duration

	dropped   atomic.Uint64
	closed    atomic.Bool
	abandoned atomic.Bool
	once      sync.Once
	sinkOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	err       error
	sinkErr   error
}

type StreamOption func(*Stream)

// WithDropHook is called with the number of points dropped by each Push that
// missed its budget.
func WithDropHook(fn func(n int)) StreamOption {
	return func(s *Stream) { s.onDrop = fn }
}

func NewStream(sinks []ChartSink, buffer int, budget time.Duration, log *zap.Logger, opts ...StreamOption) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		sinks:  sinks,
		queue:  make(chan []Point, buffer),
		budget: budget,
		log:    log,
		drain:  drainTimeout,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.render()
	return s
}

func (s *Stream) render() {
	defer func() {
		close(s.done)
		if s.abandoned.Load() {
			if err := s.closeSinks(); err != nil {
				s.log.Warn("closing chart sinks failed", zap.Error(err))
			}
		}
	}()
	for pts := range s.queue {
		for _, sink := range s.sinks {
			select {
			case <-s.stop:
				return
			default:
			}
			if err := sink.Publish(pts); err != nil {
				s.log.Warn("chart sink publish failed", zap.Error(err))
			}
		}
	}
}

func (s *Stream) closeSinks() error {
	s.sinkOnce.Do(func() {
		for _, sink := range s.sinks {
			s.sinkErr = multierr.Append(s.sinkErr, sink.Close())
		}
	})
	return s.sinkErr
}

// Push enqueues the record's points. It reports false when the queue stayed
// full for the whole budget and the points were dropped.
func (s *Stream) Push(rec sensor.CycleRecord) bool {
	if s.closed.Load() {
		return false
	}
	pts := Points(rec)
	select {
	case s.queue <- pts:
		return true
	default:
	}
	timer := time.NewTimer(s.budget)
	defer timer.Stop()
	select {
	case s.queue <- pts:
		return true
	case <-timer.C:
		s.dropped.Add(uint64(len(pts)))
		if s.onDrop != nil {
			s.onDrop(len(pts))
		}
		s.log.Debug("chart points dropped", zap.Uint64("seq", rec.Seq), zap.Int("points", len(pts)))
		return false
	}
}

// Dropped returns the total number of points dropped so far.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Close drains queued points, then closes every sink. When the drain takes
// too long the remaining points are discarded and no further Publish call is
// started; sinks are never closed while a Publish is in flight. Safe to call
// more than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.queue)
		select {
		case <-s.done:
			s.err = s.closeSinks()
			return
		case <-time.After(s.drain):
		}
		s.log.Warn("chart stream did not drain in time", zap.Int("pending", len(s.queue)))
		close(s.stop)
		select {
		case <-s.done:
			s.err = s.closeSinks()
			return
		case <-time.After(s.drain):
		}
		s.abandoned.Store(true)
		select {
		case <-s.done:
			s.err = s.closeSinks()
		default:
			s.log.Warn("chart sink still publishing, closing it when the publish returns")
			s.err = ErrSinkBusy
		}
	})
	return s.err
}
