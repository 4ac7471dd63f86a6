package output

import (
	"time"

	"github.com/ericogr/labtelemetry/pkg/sensor"
)

// Point is one converted value on the live chart. Value is NaN for an
// invalid sample so renderers can show a gap.
type Point struct {
	Seq       uint64        `json:"seq"`
	ChannelID string        `json:"channel"`
	Elapsed   time.Duration `json:"-"`
	Time      time.Time     `json:"time"`
	Value     float64       `json:"value"`
	Valid     bool          `json:"valid"`
}

// ChartSink receives the points of each cycle in tick order.
type ChartSink interface {
	Publish([]Point) error
	Close() error
}

// Points flattens a cycle record into chart points in channel order.
func Points(rec sensor.CycleRecord) []Point {
	pts := make([]Point, 0, len(rec.Samples))
	for _, s := range rec.Samples {
		pts = append(pts, Point{
			Seq:       rec.Seq,
			ChannelID: s.ChannelID,
			Elapsed:   rec.Elapsed,
			Time:      rec.Timestamp,
			Value:     s.Value,
			Valid:     s.Valid,
		})
	}
	return pts
}
