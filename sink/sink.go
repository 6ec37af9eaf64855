// Package sink paces converted sample blocks out to a transmit transport at
// the device sample rate.
//
// A Sink models the device's internal buffer: BufferPairs pairs that drain at
// SampleRate. Write blocks while that buffer is full and reports ErrUnderrun
// when it ran dry before the next block arrived.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
)

var (
	ErrDeviceUnavailable = errors.New("transmit device unavailable")
	ErrDeviceError       = errors.New("transmit device error")
	// ErrUnderrun is returned by Write when the device buffer emptied before
	// the block was queued. The block has still been written.
	ErrUnderrun = errors.New("transmit underrun")
)

// DefaultBufferTime sizes the device buffer when BufferPairs is not set.
const DefaultBufferTime = 100 * time.Millisecond

// DeviceConfig is captured when a run starts and never changes during it.
type DeviceConfig struct {
	// Path is the sample file being transmitted.
	Path string
	// SampleRate in complex samples (I/Q pairs) per second.
	SampleRate float64
	// CenterFreq in Hz.
	CenterFreq uint64
	// Gain in dB.
	Gain       float64
	FileFormat iq.Format
	WireFormat iq.Format
	// Sink is the transport target, see ParseTarget.
	Sink        string
	BufferPairs int
}

// Validate checks the fields a sink needs to pace output.
func (c DeviceConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, have %v", c.SampleRate)
	}
	if c.WireFormat == iq.FormatUnknown {
		return errors.New("wire format is not set")
	}
	if c.BufferPairs < 0 {
		return fmt.Errorf("buffer size must not be negative, have %d", c.BufferPairs)
	}
	if _, err := ParseTarget(c.Sink); err != nil {
		return err
	}
	return nil
}

// Buffer returns BufferPairs, or DefaultBufferTime worth of pairs when unset.
func (c DeviceConfig) Buffer() int {
	if c.BufferPairs > 0 {
		return c.BufferPairs
	}
	n := int(c.SampleRate * DefaultBufferTime.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

func (c DeviceConfig) String() string {
	return fmt.Sprintf("%s -> %s at %.0f S/s (%s on the wire, %d Hz, %.1f dB)",
		c.Path, c.Sink, c.SampleRate, c.WireFormat, c.CenterFreq, c.Gain)
}

// Sink accepts blocks in the wire format at a bounded rate. A Sink is driven
// by one goroutine at a time.
type Sink interface {
	Write(ctx context.Context, b iq.Block) error
	Close(timeout time.Duration) error
}

// Open resolves cfg.Sink to a transport and wraps it in a pacer.
func Open(cfg DeviceConfig) (*Paced, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	target, _ := ParseTarget(cfg.Sink)
	out, err := target.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, target, err)
	}
	log.Debugf("Opened %s sink for %s", target.Kind, cfg)
	return NewPaced(cfg, out), nil
}

// discard is the null: transport.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }

var _ io.WriteCloser = discard{}
