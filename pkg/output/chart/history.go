package chart

import (
	"math"
	"time"
)

// Point is a single value in a channel's history. NaN marks a gap.
type Point struct {
	Value   float64
	Elapsed time.Duration
}

// Buffer is a fixed-capacity ring of the most recent points for one channel.
// Min and Peak cover every valid value pushed, not only those still held.
type Buffer struct {
	Points []Point
	Max    int
	Min    float64
	Peak   float64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		Points: make([]Point, 0, capacity),
		Max:    capacity,
		Min:    math.MaxFloat64,
		Peak:   -math.MaxFloat64,
	}
}

func (b *Buffer) Push(v float64, elapsed time.Duration) {
	p := Point{Value: v, Elapsed: elapsed}
	if len(b.Points) >= b.Max {
		copy(b.Points, b.Points[1:])
		b.Points[len(b.Points)-1] = p
	} else {
		b.Points = append(b.Points, p)
	}
	if math.IsNaN(v) {
		return
	}
	if v < b.Min {
		b.Min = v
	}
	if v > b.Peak {
		b.Peak = v
	}
}

// Last returns the most recent value, NaN if empty.
func (b *Buffer) Last() float64 {
	if len(b.Points) == 0 {
		return math.NaN()
	}
	return b.Points[len(b.Points)-1].Value
}

// Extremes returns the run-wide minimum and peak of valid values, false
// before the first valid value.
func (b *Buffer) Extremes() (float64, float64, bool) {
	return b.Min, b.Peak, b.Peak >= b.Min
}

// LastN returns a copy of the last n points.
func (b *Buffer) LastN(n int) []Point {
	if n <= 0 || len(b.Points) == 0 {
		return nil
	}
	start := len(b.Points) - n
	if start < 0 {
		start = 0
	}
	out := make([]Point, len(b.Points[start:]))
	copy(out, b.Points[start:])
	return out
}
