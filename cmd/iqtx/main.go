package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/config"
	"github.com/jrwynneiii/iqtx/flow"
	"github.com/jrwynneiii/iqtx/monitor"
	"github.com/jrwynneiii/iqtx/sink"
	"github.com/jrwynneiii/iqtx/source"
)

const (
	RC_SUCCESS      = 0
	RC_IO_ERROR     = 1
	RC_CONFIG_ERROR = 2
	RC_DEVICE_ERROR = 3
	RC_UNDERRUN     = 4
	RC_STREAM_ERROR = 5
)

var cli struct {
	Verbose    bool    `help:"Prints debug output by default"`
	Config     string  `help:"Path to an HCL or TOML config file"`
	Sink       string  `help:"Transmit target: null:, a file path, fifo://path, tcp://host:port, mdns://instance or serial://port?baud=N"`
	SampleRate float64 `help:"Sample rate in I/Q pairs per second"`
	Freq       uint64  `help:"Center frequency in Hz"`
	Gain       float64 `help:"Transmit gain in dB"`
	Format     string  `help:"Sample format of a raw input file (sc8, cu8, sc16, cf32)"`
	WireFormat string  `help:"Sample format sent to the device; defaults to the file format"`
	Repeat     bool    `help:"Start over at the end of the file until interrupted"`
	Listen     string  `help:"Serve run status over HTTP and websocket on this address"`
	Discover   bool    `help:"List network sinks advertised over mDNS and exit"`
	File       string  `arg:"" optional:"" help:"Path to a sample file"`
}

func main() {
	_ = kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cli.Discover {
		os.Exit(discover())
	}
	if cli.File == "" {
		log.Errorf("No sample file given")
		os.Exit(RC_CONFIG_ERROR)
	}

	conf, err := config.Load(cli.Config)
	if err != nil {
		log.Errorf("Could not load config: %v", err)
		os.Exit(RC_CONFIG_ERROR)
	}
	if !cli.Verbose {
		log.SetLevel(conf.LogLevel())
	}
	applyFlags(&conf)
	if err := conf.Validate(); err != nil {
		log.Errorf("Invalid settings: %v", err)
		os.Exit(RC_CONFIG_ERROR)
	}

	ctrl := flow.New(conf.FlowOptions()...)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if conf.Monitor.Listen != "" {
		srv := monitor.New(ctrl, monitor.DefaultInterval)
		go func() {
			if err := srv.ListenAndServe(ctx, conf.Monitor.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Monitor stopped: %v", err)
			}
		}()
	}

	if err := ctrl.Start(cli.File, conf.DeviceConfig(cli.File)); err != nil {
		log.Errorf("Could not start transmission: %v", err)
		os.Exit(exitCode(err))
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			log.Infof("Interrupted, stopping transmission")
			ctrl.Stop()
			break wait
		case <-ctrl.Done():
			break wait
		case <-ticker.C:
			st := ctrl.Stats()
			log.Infof("Sent %d blocks (%s of signal)\tUnderruns: %d\tPasses: %d\tRMS: %.3f", st.Blocks, st.Elapsed().Round(time.Millisecond), st.Underruns, st.Passes, st.RMS)
		}
	}

	st := ctrl.Stats()
	log.Infof("Transmission %s after %d blocks, %d underruns", st.State, st.Blocks, st.Underruns)
	err = ctrl.Err()
	if err != nil {
		log.Errorf("Transmission failed: %v", err)
	}
	cancel()
	os.Exit(exitCode(err))
}

// applyFlags lets command line flags override the loaded config.
func applyFlags(conf *config.Config) {
	if cli.Sink != "" {
		conf.Device.Sink = cli.Sink
	}
	if cli.SampleRate != 0 {
		conf.Device.SampleRate = cli.SampleRate
	}
	if cli.Freq != 0 {
		conf.Device.CenterFreq = cli.Freq
	}
	if cli.Gain != 0 {
		conf.Device.Gain = cli.Gain
	}
	if cli.Format != "" {
		conf.Device.Format = cli.Format
	}
	if cli.WireFormat != "" {
		conf.Device.WireFormat = cli.WireFormat
	}
	if cli.Repeat {
		conf.Stream.Repeat = true
	}
	if cli.Listen != "" {
		conf.Monitor.Listen = cli.Listen
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return RC_SUCCESS
	case errors.Is(err, source.ErrNotFound), errors.Is(err, source.ErrPermissionDenied):
		return RC_IO_ERROR
	case errors.Is(err, sink.ErrUnderrun):
		return RC_UNDERRUN
	case errors.Is(err, sink.ErrDeviceUnavailable), errors.Is(err, sink.ErrDeviceError):
		return RC_DEVICE_ERROR
	}
	return RC_STREAM_ERROR
}

func discover() int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	log.Infof("Browsing for %s sinks...", sink.Service)
	endpoints, err := sink.Discover(ctx, sink.Service)
	if err != nil {
		log.Errorf("Discovery failed: %v", err)
		return RC_DEVICE_ERROR
	}
	if len(endpoints) == 0 {
		log.Infof("No sinks found")
	}
	for _, e := range endpoints {
		fmt.Printf("mdns://%s\t%s\t%s\n", url.PathEscape(e.Instance), e.Addr(), strings.Join(e.Text, " "))
	}
	return RC_SUCCESS
}
