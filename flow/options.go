package flow

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/sink"
	"github.com/jrwynneiii/iqtx/source"
)

const (
	// DefaultBlockSize is 256 KiB of sc8, one HackRF transfer.
	DefaultBlockSize    = 131072
	DefaultCloseTimeout = 2 * time.Second
)

// Source is the part of a source.Handle the pipeline uses.
type Source interface {
	ReadBlock(pairs int) (iq.Block, error)
	Format() iq.Format
	Offset() int64
	Size() int64
	Rewind() error
	Close() error
}

type (
	SourceOpener func(path string, opts source.Options) (Source, error)
	SinkOpener   func(cfg sink.DeviceConfig) (sink.Sink, error)
)

func openSource(path string, opts source.Options) (Source, error) {
	h, err := source.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func openSink(cfg sink.DeviceConfig) (sink.Sink, error) {
	s, err := sink.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithSourceOpener replaces source.Open.
func WithSourceOpener(f SourceOpener) Option {
	return func(c *Controller) { c.openSource = f }
}

// WithSinkOpener replaces sink.Open.
func WithSinkOpener(f SinkOpener) Option {
	return func(c *Controller) { c.openSink = f }
}

// WithBlockSize sets the number of pairs moved per loop iteration. It also
// bounds how long Stop waits for the loop to notice.
func WithBlockSize(pairs int) Option {
	return func(c *Controller) {
		if pairs > 0 {
			c.blockSize = pairs
		}
	}
}

func WithTrailing(p source.TrailPolicy) Option {
	return func(c *Controller) { c.trailing = p }
}

func WithUnderrunPolicy(p UnderrunPolicy) Option {
	return func(c *Controller) { c.underrun = p }
}

// WithRepeat rewinds the file at end of stream instead of stopping.
func WithRepeat(repeat bool) Option {
	return func(c *Controller) { c.repeat = repeat }
}

// WithCloseTimeout bounds how long a finished run lets the sink drain.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Controller) { c.closeTimeout = d }
}

// WithEventHandler calls f for every event, in the order the events
// happened. f runs on the goroutine that caused the event, usually the
// pipeline, and must return quickly. It must not call Start or Stop.
func WithEventHandler(f func(Event)) Option {
	return func(c *Controller) { c.handler = f }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}
