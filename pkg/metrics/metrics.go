// Package metrics exposes acquisition counters on a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "labtelemetry"

// Recorder is what the acquisition loop reports to.
type Recorder interface {
	CycleCompleted(d time.Duration)
	Overrun(skipped int)
	InvalidSample(channel, stage string)
	ChannelValue(channel string, v float64)
	ChartDropped(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CycleCompleted(time.Duration) {}
func (Nop) Overrun(int)                  {}
func (Nop) InvalidSample(string, string) {}
func (Nop) ChannelValue(string, float64) {}
func (Nop) ChartDropped(int)             {}

type Prometheus struct {
	reg           *prometheus.Registry
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	overruns      prometheus.Counter
	skipped       prometheus.Counter
	invalid       *prometheus.CounterVec
	value         *prometheus.GaugeVec
	dropped       prometheus.Counter
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p := &Prometheus{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed sampling cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent reading, converting and dispatching one cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_overruns_total",
			Help:      "Cycles that took longer than the sampling interval",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_intervals_total",
			Help:      "Interval boundaries missed because a cycle overran",
		}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_samples_total",
			Help:      "Samples recorded as invalid, by channel and failing stage",
		}, []string{"channel", "stage"}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Last converted value per channel",
		}, []string{"channel"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_points_dropped_total",
			Help:      "Live chart points dropped because the renderer fell behind",
		}),
	}
	reg.MustRegister(p.cycles, p.cycleDuration, p.overruns, p.skipped, p.invalid, p.value, p.dropped)
	return p
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

func (p *Prometheus) CycleCompleted(d time.Duration) {
	p.cycles.Inc()
	p.cycleDuration.Observe(d.Seconds())
}

// Overrun counts one overrunning cycle and the boundaries it skipped.
func (p *Prometheus) Overrun(skipped int) {
	p.overruns.Inc()
	if skipped > 0 {
		p.skipped.Add(float64(skipped))
	}
}

func (p *Prometheus) InvalidSample(channel, stage string) {
	p.invalid.WithLabelValues(channel, stage).Inc()
}

func (p *Prometheus) ChannelValue(channel string, v float64) {
	p.value.WithLabelValues(channel).Set(v)
}

func (p *Prometheus) ChartDropped(n int) { p.dropped.Add(float64(n)) }
