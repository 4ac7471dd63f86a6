package console

import (
	"fmt"
	"time"

	"github.com/ericogr/labtelemetry/pkg/output"
)

type ConsoleOutput struct{}

func NewConsole() output.ChartSink { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(points []output.Point) error {
	for _, p := range points {
		if !p.Valid {
			fmt.Printf("%s seq=%d channel=%s elapsed=%.3f value=NaN\n", p.Time.Format(time.RFC3339), p.Seq, p.ChannelID, p.Elapsed.Seconds())
			continue
		}
		fmt.Printf("%s seq=%d channel=%s elapsed=%.3f value=%.6f\n", p.Time.Format(time.RFC3339), p.Seq, p.ChannelID, p.Elapsed.Seconds(), p.Value)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
