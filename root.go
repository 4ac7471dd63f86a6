package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ericogr/labtelemetry/pkg/collector"
	"github.com/ericogr/labtelemetry/pkg/config"
	"github.com/ericogr/labtelemetry/pkg/logger"
	"github.com/ericogr/labtelemetry/pkg/metrics"
	"github.com/ericogr/labtelemetry/pkg/output"
	"github.com/ericogr/labtelemetry/pkg/output/chart"
	"github.com/ericogr/labtelemetry/pkg/output/console"
	"github.com/ericogr/labtelemetry/pkg/output/mqtt"
)

const (
	colorReset = "\x1b[0m"
	colorCyan  = "\x1b[1;36m"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "labtelemetry",
		Short:         "Sample lab sensors, log every cycle to CSV and chart it live",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}
	config.BindFlags(cmd.Flags())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def := config.DefaultConfig()
			b, err := def.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func printBanner(w io.Writer, text string) {
	fig := figure.NewFigure(text, "", true)
	for _, line := range fig.Slicify() {
		fmt.Fprintln(w, colorCyan+line+colorReset)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))
	if cfg.Banner {
		printBanner(out, "labtelemetry")
	}

	channels, err := cfg.SensorChannels()
	if err != nil {
		log.Error("invalid channels", zap.Error(err))
		return err
	}

	opts := []collector.Option{}
	if cfg.Metrics.Addr != "" {
		prom := metrics.NewPrometheus()
		srv := metrics.NewServer(cfg.Metrics.Addr, prom.Registry(), log)
		if err := srv.Start(); err != nil {
			log.Error("metrics server failed to start", zap.String("addr", cfg.Metrics.Addr), zap.Error(err))
			return fmt.Errorf("metrics server: %w", err)
		}
		opts = append(opts, collector.WithMetrics(prom), collector.WithCloser("metrics server", srv.Shutdown))
	}

	var sinks []output.ChartSink
	if cfg.Chart.Enabled {
		sinks = append(sinks, chart.New(out, channels, chart.Options{
			History:     cfg.Chart.History,
			Width:       cfg.Chart.Width,
			RenderEvery: cfg.Chart.RenderEvery,
		}))
	}
	if cfg.Console.Enabled {
		sinks = append(sinks, console.NewConsole())
	}
	if cfg.MQTT.Enabled {
		m, err := mqtt.NewMQTT(cfg.MQTT, channels, runID, cfg.Chart.Budget)
		if err != nil {
			// the live stream is optional, the CSV log is not
			log.Warn("mqtt stream disabled", zap.String("server", cfg.MQTT.Server), zap.Error(err))
		} else {
			sinks = append(sinks, m)
		}
	}
	opts = append(opts, collector.WithChartSinks(sinks...))

	col, err := collector.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	log.Info("run starting",
		zap.Duration("duration", cfg.Duration),
		zap.Duration("interval", cfg.Interval),
		zap.String("log", cfg.Persist.Path))

	res, err := col.Run(ctx)
	if err != nil {
		log.Error("run failed", zap.Int("cycles", res.Cycles), zap.Error(err))
		return err
	}
	log.Info("run complete",
		zap.String("stop", string(res.Stop)),
		zap.Int("cycles", res.Cycles),
		zap.Int("rows", res.Rows),
		zap.Int("overruns", res.Overruns),
		zap.Uint64("chart_points_dropped", res.DroppedChart))
	return nil
}
