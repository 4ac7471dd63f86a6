package collector

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/calibration"
	"github.com/ericogr/labtelemetry/pkg/config"
	"github.com/ericogr/labtelemetry/pkg/device"
	"github.com/ericogr/labtelemetry/pkg/metrics"
	"github.com/ericogr/labtelemetry/pkg/output"
	"github.com/ericogr/labtelemetry/pkg/output/csvlog"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

// Collector owns one acquisition run from device open to shutdown.
type Collector struct {
	cfg      *config.Config
	channels []sensor.Channel
	log      *zap.Logger
	clock    clockwork.Clock
	metrics  metrics.Recorder
	open     func(device.Config) (device.Device, error)
	sinks    []output.ChartSink
	closers  []closer
}

type Option func(*Collector)

func WithClock(c clockwork.Clock) Option { return func(col *Collector) { col.clock = c } }

func WithMetrics(r metrics.Recorder) Option { return func(col *Collector) { col.metrics = r } }

// WithDeviceOpener replaces device.Open.
func WithDeviceOpener(open func(device.Config) (device.Device, error)) Option {
	return func(col *Collector) { col.open = open }
}

// WithChartSinks sets the live chart sinks. The run closes them.
func WithChartSinks(sinks ...output.ChartSink) Option {
	return func(col *Collector) { col.sinks = append(col.sinks, sinks...) }
}

// WithCloser adds a step run at the end of shutdown.
func WithCloser(name string, fn func() error) Option {
	return func(col *Collector) { col.closers = append(col.closers, closer{name: name, fn: fn}) }
}

func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Collector, error) {
	channels, err := cfg.SensorChannels()
	if err != nil {
		return nil, err
	}
	c := &Collector{
		cfg:      cfg,
		channels: channels,
		log:      log,
		clock:    clockwork.NewRealClock(),
		metrics:  metrics.Nop{},
		open:     device.Open,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

func (c *Collector) Channels() []sensor.Channel { return c.channels }

type Result struct {
	Stats
	Pacing       Pacing
	Rows         int
	DroppedChart uint64
	// ShutdownErr holds teardown failures; they never fail the run.
	ShutdownErr error
}

// Run acquires until the configured duration elapses or ctx is cancelled.
// Shutdown runs on every return path, including panics.
func (c *Collector) Run(ctx context.Context) (res Result, err error) {
	sd := NewShutdown(c.log)
	stream := output.NewStream(c.sinks, c.cfg.Chart.Buffer, c.cfg.Chart.Budget, c.log,
		output.WithDropHook(c.metrics.ChartDropped))
	sd.AddCloser("live chart", stream.Close)
	for _, cl := range c.closers {
		sd.AddCloser(cl.name, cl.fn)
	}
	defer func() {
		res.DroppedChart = stream.Dropped()
		res.ShutdownErr = sd.Run()
		if res.ShutdownErr != nil {
			c.log.Warn("shutdown finished with errors", zap.Error(res.ShutdownErr))
		}
	}()

	dev, err := c.open(device.Config{
		Driver:     c.cfg.Device.Driver,
		Selector:   c.cfg.Device.Selector,
		I2CBus:     c.cfg.Device.I2CBus,
		I2CAddress: c.cfg.Device.I2CAddress,
		SampleRate: c.cfg.Device.SampleRate,
		Clock:      c.clock,
	})
	if err != nil {
		return res, fmt.Errorf("open device: %w", err)
	}
	sd.SetDevice(dev, c.cfg.Device.DisableOnShutdown)
	c.log.Info("device opened", zap.String("driver", c.cfg.Device.Driver), zap.Int("channels", len(c.channels)))

	enabled, err := Configure(dev, c.channels, c.log)
	sd.AddOutputs(enabled...)
	if err != nil {
		return res, err
	}

	plog, err := csvlog.Open(c.cfg.Persist.Path, c.channels, csvlog.Options{Append: c.cfg.Persist.Append})
	if err != nil {
		return res, fmt.Errorf("open log: %w", err)
	}
	sd.SetPersist(plog)
	defer func() { res.Rows = plog.Rows() }()

	res.Pacing = SoftwarePaced
	if sensor.NeedsHardwarePacing(c.channels) {
		res.Pacing = HardwarePaced
	}

	exec := &Executor{
		Device:   dev,
		Channels: c.channels,
		Engine:   calibration.New(nil),
		Reference: Reference{
			Register: c.cfg.Reference.Register,
			Kelvin:   c.cfg.Reference.Kelvin,
		},
		Persist: plog,
		Chart:   stream,
		Clock:   c.clock,
		Log:     c.log,
		Metrics: c.metrics,
	}
	sched := &Scheduler{
		Interval: c.cfg.Interval,
		Duration: c.cfg.Duration,
		Pacing:   res.Pacing,
		Device:   dev,
		Clock:    c.clock,
		Log:      c.log,
		Metrics:  c.metrics,
	}
	exec.Start()
	res.Stats, err = sched.Run(ctx, exec.Cycle)
	c.log.Info("sampling stopped",
		zap.String("reason", string(res.Stop)),
		zap.Int("cycles", res.Cycles),
		zap.Int("overruns", res.Overruns),
		zap.String("log", plog.Path()))
	return res, err
}
