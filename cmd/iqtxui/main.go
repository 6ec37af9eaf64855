package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/config"
	"github.com/jrwynneiii/iqtx/flow"
	"github.com/jrwynneiii/iqtx/monitor"
	"github.com/jrwynneiii/iqtx/tui"
)

var cli struct {
	Verbose    bool     `help:"Prints debug output by default"`
	Config     string   `help:"Path to an HCL or TOML config file"`
	Sink       string   `help:"Transmit target, see iqtx --help"`
	SampleRate float64  `help:"Sample rate in I/Q pairs per second"`
	Format     string   `help:"Sample format of raw input files"`
	Repeat     bool     `help:"Start over at the end of the file until stopped"`
	Listen     string   `help:"Serve run status over HTTP and websocket on this address"`
	NoLog      bool     `help:"Hide the log pane"`
	Paths      []string `arg:"" help:"Sample files or directories containing them"`
}

var sampleExts = []string{".bin", ".iq", ".raw", ".cs8", ".cu8", ".cs16", ".cf32", ".zst", ".zstd", ".ziq", ".wav"}

func main() {
	_ = kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	conf, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}
	if !cli.Verbose {
		log.SetLevel(conf.LogLevel())
	}
	if cli.Sink != "" {
		conf.Device.Sink = cli.Sink
	}
	if cli.SampleRate != 0 {
		conf.Device.SampleRate = cli.SampleRate
	}
	if cli.Format != "" {
		conf.Device.Format = cli.Format
	}
	if cli.Repeat {
		conf.Stream.Repeat = true
	}
	if cli.Listen != "" {
		conf.Monitor.Listen = cli.Listen
	}
	if err := conf.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	files, err := collectFiles(cli.Paths)
	if err != nil {
		log.Fatalf("Error reading directory: %s", err.Error())
	}
	if len(files) == 0 {
		log.Fatalf("No sample files found")
	}

	ctrl := flow.New(conf.FlowOptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if conf.Monitor.Listen != "" {
		srv := monitor.New(ctrl, monitor.DefaultInterval)
		go func() {
			if err := srv.ListenAndServe(ctx, conf.Monitor.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Monitor stopped: %v", err)
			}
		}()
	}

	tuiDef := tui.TuiConf{
		RefreshMs:       conf.TUI.RefreshMs,
		EnableLogOutput: conf.TUI.EnableLogOutput && !cli.NoLog,
	}
	tui.StartTransmitUI(ctrl, files, conf.DeviceConfig, tuiDef)

	if err := ctrl.Stop(); err != nil {
		log.Errorf("Last run failed: %v", err)
	}
}

// collectFiles expands directories to the sample files they contain. Plain
// files are kept whatever their extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !slices.Contains(sampleExts, strings.ToLower(filepath.Ext(entry.Name()))) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}
