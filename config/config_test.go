package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrwynneiii/iqtx/config"
	"github.com/jrwynneiii/iqtx/flow"
	"github.com/jrwynneiii/iqtx/iq"
)

const hclProfile = `
device {
  sample_rate = 2000000
  center_freq = 1575420000
  wire_format = "sc16"
  sink        = "tcp://127.0.0.1:5555"
}

stream {
  repeat        = true
  close_timeout = "500ms"
}

log {
  level = "debug"
}
`

const tomlProfile = `
[device]
sample_rate = 4000000.0
format = "cu8"
sink = "fifo:///tmp/hackrf.pipe"
buffer_pairs = 65536

[stream]
trailing = "drop"
underrun = "fail"
block_size = 4096

[monitor]
listen = "127.0.0.1:8077"
`

func writeProfile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)

	assert.Equal(t, 2600000.0, c.Device.SampleRate)
	assert.Equal(t, uint64(1575420000), c.Device.CenterFreq)
	assert.Equal(t, "sc8", c.Device.Format)
	assert.Equal(t, "null:", c.Device.Sink)
	assert.Equal(t, flow.DefaultBlockSize, c.Stream.BlockSize)
	assert.Equal(t, 2*time.Second, c.Stream.CloseTimeout)
	assert.Equal(t, 500, c.TUI.RefreshMs)
	assert.True(t, c.TUI.EnableLogOutput)
	assert.Equal(t, log.InfoLevel, c.LogLevel())
}

func TestHCLProfile(t *testing.T) {
	c, err := config.Load(writeProfile(t, "bench.hcl", hclProfile))
	require.NoError(t, err)

	assert.Equal(t, 2000000.0, c.Device.SampleRate)
	assert.Equal(t, "sc16", c.Device.WireFormat)
	assert.Equal(t, "tcp://127.0.0.1:5555", c.Device.Sink)
	assert.True(t, c.Stream.Repeat)
	assert.Equal(t, 500*time.Millisecond, c.Stream.CloseTimeout)
	assert.Equal(t, log.DebugLevel, c.LogLevel())
	// untouched keys keep their defaults
	assert.Equal(t, "sc8", c.Device.Format)
	assert.Equal(t, "pad", c.Stream.Trailing)
}

func TestTOMLProfile(t *testing.T) {
	c, err := config.Load(writeProfile(t, "hackrf.toml", tomlProfile))
	require.NoError(t, err)

	assert.Equal(t, 4000000.0, c.Device.SampleRate)
	assert.Equal(t, "cu8", c.Device.Format)
	assert.Equal(t, 65536, c.Device.BufferPairs)
	assert.Equal(t, "drop", c.Stream.Trailing)
	assert.Equal(t, "fail", c.Stream.Underrun)
	assert.Equal(t, 4096, c.Stream.BlockSize)
	assert.Equal(t, "127.0.0.1:8077", c.Monitor.Listen)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("IQTX_DEVICE__SAMPLE_RATE", "8000000")
	t.Setenv("IQTX_STREAM__REPEAT", "false")
	t.Setenv("IQTX_MONITOR__LISTEN", ":9000")

	c, err := config.Load(writeProfile(t, "bench.hcl", hclProfile))
	require.NoError(t, err)
	assert.Equal(t, 8000000.0, c.Device.SampleRate)
	assert.False(t, c.Stream.Repeat)
	assert.Equal(t, ":9000", c.Monitor.Listen)
	assert.Equal(t, "sc16", c.Device.WireFormat)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load(writeProfile(t, "bench.yaml", "device: {}"))
	assert.ErrorContains(t, err, "unsupported extension")

	_, err = config.Load(writeProfile(t, "broken.toml", "[device\nsample_rate = "))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		description string
		mutate      func(*config.Config)
		message     string
	}{
		{"zero sample rate", func(c *config.Config) { c.Device.SampleRate = 0 }, "device.sample_rate"},
		{"unknown format", func(c *config.Config) { c.Device.Format = "s12" }, "device.format"},
		{"unknown wire format", func(c *config.Config) { c.Device.WireFormat = "u16" }, "device.wire_format"},
		{"unknown sink", func(c *config.Config) { c.Device.Sink = "usb://hackrf" }, "device.sink"},
		{"negative buffer", func(c *config.Config) { c.Device.BufferPairs = -1 }, "device.buffer_pairs"},
		{"zero block size", func(c *config.Config) { c.Stream.BlockSize = 0 }, "stream.block_size"},
		{"unknown trailing policy", func(c *config.Config) { c.Stream.Trailing = "wrap" }, "stream.trailing"},
		{"unknown underrun policy", func(c *config.Config) { c.Stream.Underrun = "retry" }, "stream.underrun"},
		{"unknown log level", func(c *config.Config) { c.Log.Level = "chatty" }, "log.level"},
		{"zero refresh", func(c *config.Config) { c.TUI.RefreshMs = 0 }, "tui.refresh_ms"},
	}

	for _, test := range tests {
		c := config.Default()
		test.mutate(&c)
		assert.ErrorContains(t, c.Validate(), test.message, test.description)
	}

	t.Setenv("IQTX_DEVICE__SAMPLE_RATE", "-1")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "device.sample_rate")
}

func TestDeviceConfig(t *testing.T) {
	c := config.Default()
	c.Device.WireFormat = "sc16"
	c.Device.Gain = 14
	d := c.DeviceConfig("gpssim.bin")

	assert.Equal(t, "gpssim.bin", d.Path)
	assert.Equal(t, iq.SC8, d.FileFormat)
	assert.Equal(t, iq.SC16, d.WireFormat)
	assert.Equal(t, 14.0, d.Gain)
	assert.Equal(t, 2600000.0, d.SampleRate)
	assert.NoError(t, d.Validate())

	c.Device.WireFormat = ""
	assert.Equal(t, iq.FormatUnknown, c.DeviceConfig("gpssim.bin").WireFormat)
}

func TestFlowOptions(t *testing.T) {
	c := config.Default()
	opts := c.FlowOptions()
	assert.Len(t, opts, 5)
	ctrl := flow.New(opts...)
	assert.Equal(t, flow.Idle, ctrl.State())
}
