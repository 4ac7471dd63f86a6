package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers the command line flags. Flag names are the config
// keys so viper can bind them directly.
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.StringP("config", "c", "", "path to YAML config file")
	fs.Duration("duration", d.Duration, "total acquisition time")
	fs.Duration("interval", d.Interval, "sampling interval")
	fs.Bool("banner", d.Banner, "print the startup banner")

	fs.String("device.driver", d.Device.Driver, "acquisition driver: sim|ads1115")
	fs.String("device.selector", d.Device.Selector, "device selector (serial number, address or ANY)")
	fs.String("device.i2c_bus", d.Device.I2CBus, "I2C bus for the ads1115 driver (e.g. '2' -> /dev/i2c-2)")
	fs.String("device.i2c_address", "0x48", "I2C address (decimal or 0x hex)")

	fs.String("persist.path", d.Persist.Path, "CSV log file")
	fs.Bool("persist.append", d.Persist.Append, "append to an existing log with the same header")

	fs.Bool("chart.enabled", d.Chart.Enabled, "render the live chart to stdout")
	fs.Int("chart.render_every", d.Chart.RenderEvery, "render the chart every N cycles")
	fs.Bool("console.enabled", d.Console.Enabled, "print every point to stdout")

	fs.Bool("mqtt.enabled", d.MQTT.Enabled, "stream points to MQTT")
	fs.String("mqtt.server", d.MQTT.Server, "MQTT server (tcp://host:port)")
	fs.String("mqtt.topic", d.MQTT.Topic, "MQTT topic base")

	fs.String("metrics.addr", d.Metrics.Addr, "listen address for /metrics and /health (empty disables)")

	fs.String("log.level", d.Log.Level, "log level: debug|info|warn|error")
	fs.String("log.format", d.Log.Format, "console log format: console|json")
	fs.String("log.path", d.Log.Path, "directory for rotated JSON logs (empty disables)")
}
