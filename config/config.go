// Package config loads iqtx settings from built-in defaults, an optional HCL
// or TOML file and IQTX_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml"

	"github.com/jrwynneiii/iqtx/flow"
	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/sink"
	"github.com/jrwynneiii/iqtx/source"
)

// EnvPrefix marks environment overrides. A double underscore separates the
// section from the key, e.g. IQTX_DEVICE__SAMPLE_RATE.
const EnvPrefix = "IQTX_"

var options = map[string]any{
	"device.sample_rate":    2600000.0,
	"device.center_freq":    1575420000,
	"device.gain":           0.0,
	"device.format":         "sc8",
	"device.wire_format":    "",
	"device.sink":           "null:",
	"device.buffer_pairs":   0,
	"stream.block_size":     flow.DefaultBlockSize,
	"stream.trailing":       "pad",
	"stream.underrun":       "continue",
	"stream.repeat":         false,
	"stream.close_timeout":  "2s",
	"log.level":             "info",
	"tui.refresh_ms":        500,
	"tui.enable_log_output": true,
	"monitor.listen":        "",
}

type Config struct {
	Device  Device  `koanf:"device"`
	Stream  Stream  `koanf:"stream"`
	Log     Log     `koanf:"log"`
	TUI     TUI     `koanf:"tui"`
	Monitor Monitor `koanf:"monitor"`
}

type Device struct {
	SampleRate float64 `koanf:"sample_rate"`
	CenterFreq uint64  `koanf:"center_freq"`
	Gain       float64 `koanf:"gain"`
	// Format of the sample file. Containers with a header override it.
	Format string `koanf:"format"`
	// WireFormat defaults to Format.
	WireFormat  string `koanf:"wire_format"`
	Sink        string `koanf:"sink"`
	BufferPairs int    `koanf:"buffer_pairs"`
}

type Stream struct {
	BlockSize    int           `koanf:"block_size"`
	Trailing     string        `koanf:"trailing"`
	Underrun     string        `koanf:"underrun"`
	Repeat       bool          `koanf:"repeat"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

type Log struct {
	Level string `koanf:"level"`
}

type TUI struct {
	RefreshMs       int  `koanf:"refresh_ms"`
	EnableLogOutput bool `koanf:"enable_log_output"`
}

type Monitor struct {
	// Listen is the address of the status server; empty disables it.
	Listen string `koanf:"listen"`
}

// mapProvider feeds an already parsed map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Default returns the built-in configuration without file or environment
// overrides.
func Default() Config {
	k := koanf.New(".")
	k.Load(mapProvider(maps.Unflatten(options, ".")), nil)
	var c Config
	k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"})
	return c
}

// Load layers defaults, the file at path (if not empty) and the environment,
// then validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(maps.Unflatten(options, ".")), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var c Config
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	log.Debugf("Loading config file %s", path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		if err := k.Load(file.Provider(path), hcl.Parser(true)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		tree, err := toml.LoadFile(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := k.Load(mapProvider(tree.ToMap()), nil); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config file %s: unsupported extension, want .hcl or .toml", path)
	}
	return nil
}

// Validate rejects values no run could use.
func (c Config) Validate() error {
	var errs []error
	if c.Device.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("device.sample_rate must be positive, have %v", c.Device.SampleRate))
	}
	if c.Device.BufferPairs < 0 {
		errs = append(errs, fmt.Errorf("device.buffer_pairs must not be negative, have %d", c.Device.BufferPairs))
	}
	if c.Device.Format != "" {
		if _, err := iq.ParseFormat(c.Device.Format); err != nil {
			errs = append(errs, fmt.Errorf("device.format: %w", err))
		}
	}
	if c.Device.WireFormat != "" {
		if _, err := iq.ParseFormat(c.Device.WireFormat); err != nil {
			errs = append(errs, fmt.Errorf("device.wire_format: %w", err))
		}
	}
	if _, err := sink.ParseTarget(c.Device.Sink); err != nil {
		errs = append(errs, fmt.Errorf("device.sink: %w", err))
	}
	if c.Stream.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("stream.block_size must be positive, have %d", c.Stream.BlockSize))
	}
	if _, err := source.ParseTrailPolicy(c.Stream.Trailing); err != nil {
		errs = append(errs, fmt.Errorf("stream.trailing: %w", err))
	}
	if _, err := flow.ParseUnderrunPolicy(c.Stream.Underrun); err != nil {
		errs = append(errs, fmt.Errorf("stream.underrun: %w", err))
	}
	if c.Stream.CloseTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.close_timeout must not be negative, have %s", c.Stream.CloseTimeout))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.TUI.RefreshMs <= 0 {
		errs = append(errs, fmt.Errorf("tui.refresh_ms must be positive, have %d", c.TUI.RefreshMs))
	}
	return errors.Join(errs...)
}

// DeviceConfig builds the per-run device settings for path. Call it on a
// validated Config.
func (c Config) DeviceConfig(path string) sink.DeviceConfig {
	var fileFormat, wireFormat iq.Format
	if c.Device.Format != "" {
		fileFormat, _ = iq.ParseFormat(c.Device.Format)
	}
	if c.Device.WireFormat != "" {
		wireFormat, _ = iq.ParseFormat(c.Device.WireFormat)
	}
	return sink.DeviceConfig{
		Path:        path,
		SampleRate:  c.Device.SampleRate,
		CenterFreq:  c.Device.CenterFreq,
		Gain:        c.Device.Gain,
		FileFormat:  fileFormat,
		WireFormat:  wireFormat,
		Sink:        c.Device.Sink,
		BufferPairs: c.Device.BufferPairs,
	}
}

// FlowOptions turns the stream section into controller options.
func (c Config) FlowOptions() []flow.Option {
	trailing, _ := source.ParseTrailPolicy(c.Stream.Trailing)
	underrun, _ := flow.ParseUnderrunPolicy(c.Stream.Underrun)
	return []flow.Option{
		flow.WithBlockSize(c.Stream.BlockSize),
		flow.WithTrailing(trailing),
		flow.WithUnderrunPolicy(underrun),
		flow.WithRepeat(c.Stream.Repeat),
		flow.WithCloseTimeout(c.Stream.CloseTimeout),
	}
}

// LogLevel is the parsed log.level, defaulting to info.
func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
