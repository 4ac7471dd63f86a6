package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/calibration"
	"github.com/ericogr/labtelemetry/pkg/device"
	"github.com/ericogr/labtelemetry/pkg/metrics"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

const kelvinOffset = 273.15

// RecordSink durably stores cycle records. A failing append ends the run.
type RecordSink interface {
	Append(rec sensor.CycleRecord) error
}

// ChartFeed receives records for live display and may drop them.
type ChartFeed interface {
	Push(rec sensor.CycleRecord) bool
}

// Reference locates the shared cold-junction temperature.
type Reference struct {
	Register string
	// Kelvin means the register reports kelvin rather than degrees Celsius.
	Kelvin bool
}

// Executor performs one sampling pass per call to Cycle.
type Executor struct {
	Device    device.Device
	Channels  []sensor.Channel
	Engine    calibration.Engine
	Reference Reference
	Persist   RecordSink
	Chart     ChartFeed
	Clock     clockwork.Clock
	Log       *zap.Logger
	Metrics   metrics.Recorder

	started  bool
	start    time.Time
	seq      uint64
	needsRef bool
}

// Start fixes the run origin used for timestamps and elapsed time.
func (e *Executor) Start() {
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	if e.Log == nil {
		e.Log = zap.NewNop()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.Nop{}
	}
	if e.Engine.Tables == nil {
		e.Engine = calibration.New(nil)
	}
	e.start = e.Clock.Now()
	e.needsRef = sensor.NeedsReference(e.Channels)
	e.started = true
}

// Cycle samples every channel and hands the record to the sinks. Only a
// persistence failure is returned; channel failures become invalid samples.
func (e *Executor) Cycle(ctx context.Context) error {
	rec := e.Sample()
	return e.Dispatch(rec)
}

// Sample reads the reference once and then every channel in order.
func (e *Executor) Sample() sensor.CycleRecord {
	if !e.started {
		e.Start()
	}
	e.seq++
	// wall time of the run start plus monotonic elapsed never goes backwards
	elapsed := e.Clock.Since(e.start)
	rec := sensor.CycleRecord{
		Seq:       e.seq,
		Timestamp: e.start.Add(elapsed),
		Elapsed:   elapsed,
		Reference: e.readReference(),
		Samples:   make([]sensor.Sample, 0, len(e.Channels)),
	}
	for _, ch := range e.Channels {
		rec.Samples = append(rec.Samples, e.sample(ch, rec.Reference))
	}
	return rec
}

func (e *Executor) readReference() float64 {
	if e.Reference.Register == "" {
		return math.NaN()
	}
	v, err := e.Device.Read(e.Reference.Register)
	if err == nil && e.Reference.Kelvin {
		v -= kelvinOffset
	}
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite value %v", v)
	}
	if err != nil {
		if e.needsRef {
			e.Log.Warn("reference temperature unavailable", zap.Uint64("seq", e.seq), zap.String("register", e.Reference.Register), zap.Error(err))
			e.Metrics.InvalidSample("reference", "read")
		} else {
			e.Log.Debug("reference temperature unavailable", zap.String("register", e.Reference.Register), zap.Error(err))
		}
		return math.NaN()
	}
	return v
}

func (e *Executor) sample(ch sensor.Channel, reference float64) sensor.Sample {
	raw, err := e.readRaw(ch)
	if err != nil {
		e.Log.Warn("channel read failed", zap.Uint64("seq", e.seq), zap.String("channel", ch.ID), zap.Error(err))
		e.Metrics.InvalidSample(ch.ID, "read")
		return sensor.InvalidSample(ch.ID)
	}
	v, err := e.Engine.Convert(ch.Sensor, raw, reference)
	if err != nil {
		stage := "convert"
		var ce *calibration.ConversionError
		if errors.As(err, &ce) {
			stage = string(ce.Kind)
		}
		e.Log.Warn("channel conversion failed", zap.Uint64("seq", e.seq), zap.String("channel", ch.ID), zap.Float64("raw", raw), zap.Error(err))
		e.Metrics.InvalidSample(ch.ID, stage)
		return sensor.InvalidSample(ch.ID)
	}
	e.Metrics.ChannelValue(ch.ID, v)
	return sensor.Sample{ChannelID: ch.ID, Raw: raw, Value: v, Valid: true}
}

// readRaw returns volts for linear channels, millivolts for thermocouples
// and hertz for counters.
func (e *Executor) readRaw(ch sensor.Channel) (float64, error) {
	switch ch.Sensor.(type) {
	case sensor.FrequencyCount:
		// reading A latches the period so B_F belongs to the same edge pair
		if _, err := e.Device.Read(device.DIOEFReadA(ch.Input)); err != nil {
			return math.NaN(), err
		}
		return e.Device.Read(device.DIOEFReadBF(ch.Input))
	case sensor.ThermocoupleSingleEnded, sensor.ThermocoupleDifferential:
		v, err := e.Device.Read(device.AIN(ch.Input))
		if err != nil {
			return math.NaN(), err
		}
		return v * 1000, nil
	default:
		return e.Device.Read(device.AIN(ch.Input))
	}
}

// Dispatch persists the record, then offers it to the live chart.
func (e *Executor) Dispatch(rec sensor.CycleRecord) error {
	if e.Persist != nil {
		if err := e.Persist.Append(rec); err != nil {
			return fmt.Errorf("persist cycle %d: %w", rec.Seq, err)
		}
	}
	if e.Chart != nil {
		e.Chart.Push(rec)
	}
	return nil
}
