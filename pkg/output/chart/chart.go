// Package chart keeps a rolling history per channel and renders it as
// lipgloss sparklines, one line per channel in legend order.
package chart

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ericogr/labtelemetry/pkg/output"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

const (
	DefaultHistory = 600
	DefaultWidth   = 60
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

var (
	gapStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	lineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
)

type Options struct {
	History     int
	Width       int
	RenderEvery int
}

// Legend is one chart line, fixed when the chart is created.
type Legend struct {
	ChannelID string
	Label     string
	Unit      string
}

type Chart struct {
	mu      sync.Mutex
	w       io.Writer
	legends []Legend
	buffers map[string]*Buffer
	width   int
	every   int
	batches int
	last    output.Point
}

// New creates a chart whose legends follow the channel order.
func New(w io.Writer, channels []sensor.Channel, opts Options) *Chart {
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.RenderEvery <= 0 {
		opts.RenderEvery = 1
	}
	c := &Chart{
		w:       w,
		buffers: make(map[string]*Buffer, len(channels)),
		width:   opts.Width,
		every:   opts.RenderEvery,
	}
	for _, ch := range channels {
		c.legends = append(c.legends, Legend{ChannelID: ch.ID, Label: ch.Name(), Unit: ch.Unit})
		c.buffers[ch.ID] = NewBuffer(opts.History)
	}
	return c
}

func (c *Chart) Legends() []Legend { return c.legends }

// Publish records a cycle's points and re-renders every RenderEvery cycles.
// Points for channels without a legend are ignored.
func (c *Chart) Publish(pts []output.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pts {
		b, ok := c.buffers[p.ChannelID]
		if !ok {
			continue
		}
		v := p.Value
		if !p.Valid {
			v = math.NaN()
		}
		b.Push(v, p.Elapsed)
		c.last = p
	}
	c.batches++
	if c.batches%c.every != 0 || c.w == nil {
		return nil
	}
	_, err := io.WriteString(c.w, c.render())
	return err
}

// History returns the points currently held for a channel.
func (c *Chart) History(channelID string) []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[channelID]
	if !ok {
		return nil
	}
	return b.LastN(b.Max)
}

// Render returns the current frame.
func (c *Chart) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.render()
}

func (c *Chart) render() string {
	labelWidth := 0
	for _, l := range c.legends {
		labelWidth = max(labelWidth, len(l.Label))
	}
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("t=%.1fs", c.last.Elapsed.Seconds())))
	sb.WriteByte('\n')
	for _, l := range c.legends {
		b := c.buffers[l.ChannelID]
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, l.Label)))
		sb.WriteByte(' ')
		sb.WriteString(Sparkline(b.LastN(c.width), c.width))
		sb.WriteByte(' ')
		if last := b.Last(); math.IsNaN(last) {
			sb.WriteString(staleStyle.Render("NaN"))
		} else {
			sb.WriteString(valueStyle.Render(strings.TrimSpace(fmt.Sprintf("%.2f %s", last, l.Unit))))
		}
		if lo, hi, ok := b.Extremes(); ok {
			sb.WriteString("  ")
			sb.WriteString(headerStyle.Render(fmt.Sprintf("min %.2f max %.2f", lo, hi)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Sparkline scales points to their own valid range. Missing history is
// left-padded and NaN points are drawn as gaps.
func Sparkline(points []Point, width int) string {
	if width <= 0 {
		return ""
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if !math.IsNaN(p.Value) {
			lo = math.Min(lo, p.Value)
			hi = math.Max(hi, p.Value)
		}
	}
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		span = 1
	}

	var sb strings.Builder
	sb.WriteString(gapStyle.Render(strings.Repeat("╌", width-len(points))))
	for _, p := range points {
		if math.IsNaN(p.Value) {
			sb.WriteString(gapStyle.Render("╌"))
			continue
		}
		idx := int((p.Value - lo) / span * 7)
		idx = max(0, min(7, idx))
		sb.WriteString(lineStyle.Render(string(sparkBlocks[idx])))
	}
	return sb.String()
}

func (c *Chart) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil || c.batches == 0 || c.batches%c.every == 0 {
		return nil
	}
	// final frame for the points since the last render
	_, err := io.WriteString(c.w, c.render())
	return err
}
