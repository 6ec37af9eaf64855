// Package flow runs the transmit pipeline: it reads blocks from a sample
// file, converts them to the wire format and writes them to a paced sink on a
// goroutine of its own, under a small start/stop state machine.
package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/sink"
	"github.com/jrwynneiii/iqtx/source"
)

// Controller owns at most one run at a time. Start and Stop may be called
// from any goroutine; State, Stats and Err never wait on a transition.
type Controller struct {
	mu      sync.Mutex
	opening bool
	state   atomic.Int32
	current atomic.Pointer[run]
	events  *hub

	// emitMu is taken before mu is released on a transition, so events
	// leave in the order the transitions happened.
	emitMu sync.Mutex

	openSource   SourceOpener
	openSink     SinkOpener
	blockSize    int
	trailing     source.TrailPolicy
	underrun     UnderrunPolicy
	repeat       bool
	closeTimeout time.Duration
	handler      func(Event)
	log          *log.Logger
}

func New(opts ...Option) *Controller {
	c := &Controller{
		events:       newHub(),
		openSource:   openSource,
		openSink:     openSink,
		blockSize:    DefaultBlockSize,
		closeTimeout: DefaultCloseTimeout,
		log:          log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Err is the error that ended the latest run, or nil.
func (c *Controller) Err() error {
	if r := c.current.Load(); r != nil {
		return r.Err()
	}
	return nil
}

// Subscribe returns a channel of events and a func that ends the
// subscription. Events are dropped for subscribers that do not keep up.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Done is closed when the latest run has finished and released its handles.
func (c *Controller) Done() <-chan struct{} {
	if r := c.current.Load(); r != nil {
		return r.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Start opens path and the sink described by cfg and starts streaming. It is
// only allowed when no run is active and no other Start is opening its
// handles. If either open fails the error is returned and the controller
// stays in its current state.
//
// The handles are opened without holding the controller lock, so State and
// Stop answer at once while a slow sink connects.
//
// An unset cfg.FileFormat is taken from the file, and an unset
// cfg.WireFormat is the file format.
func (c *Controller) Start(path string, cfg sink.DeviceConfig) error {
	c.mu.Lock()
	if c.opening {
		c.mu.Unlock()
		return fmt.Errorf("%w: another start is opening %s", ErrInvalidState, path)
	}
	if st := c.State(); st != Idle && st != Stopped && st != Failed {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, st)
	}
	c.opening = true
	c.mu.Unlock()

	cfg, src, snk, err := c.open(path, cfg)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	r := newRun(cfg, src, snk, c.log)
	c.current.Store(r)
	ev := c.transition(r, Running)
	c.emitMu.Lock()
	c.mu.Unlock()

	r.log.Info("Starting run", "path", path, "sink", cfg.Sink, "rate", cfg.SampleRate, "file", cfg.FileFormat, "wire", cfg.WireFormat)
	c.deliver(ev)
	c.emitMu.Unlock()
	go c.pipeline(r)
	return nil
}

// open opens the source and then the sink for a run, resolving the formats
// cfg leaves unset.
func (c *Controller) open(path string, cfg sink.DeviceConfig) (sink.DeviceConfig, Source, sink.Sink, error) {
	cfg.Path = path
	src, err := c.openSource(path, source.Options{Format: cfg.FileFormat, Trailing: c.trailing})
	if err != nil {
		return cfg, nil, nil, err
	}
	if f := src.Format(); f != cfg.FileFormat {
		if cfg.FileFormat != iq.FormatUnknown {
			c.log.Warn("File declares its own sample format", "path", path, "configured", cfg.FileFormat, "file", f)
		}
		cfg.FileFormat = f
	}
	if cfg.WireFormat == iq.FormatUnknown {
		cfg.WireFormat = cfg.FileFormat
	}
	snk, err := c.openSink(cfg)
	if err != nil {
		src.Close()
		return cfg, nil, nil, err
	}
	return cfg, src, snk, nil
}

// Stop ends the active run and waits until its handles are closed. It
// returns the error that ended the run, if any. Without an active run Stop
// does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.current.Load()
	switch c.State() {
	case Running:
	case Stopping:
		c.mu.Unlock()
		<-r.done
		return r.Err()
	default:
		c.mu.Unlock()
		return nil
	}
	ev := c.transition(r, Stopping)
	r.cancel()
	c.emitMu.Lock()
	c.mu.Unlock()
	r.log.Info("Stopping run")
	c.deliver(ev)
	c.emitMu.Unlock()

	<-r.done
	return r.Err()
}

// transition must be called with c.mu held.
func (c *Controller) transition(r *run, s State) Event {
	c.state.Store(int32(s))
	return Event{Run: r.id.String(), Kind: EventState, State: s, Err: r.Err(), Time: time.Now()}
}

// emit sends an event that is not tied to a state transition.
func (c *Controller) emit(e Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.deliver(e)
}

// deliver must be called with emitMu held.
func (c *Controller) deliver(e Event) {
	c.events.publish(e)
	if c.handler != nil {
		c.handler(e)
	}
}

func (c *Controller) pipeline(r *run) {
	defer close(r.done)

	final, err := c.loop(r)
	if err != nil {
		r.log.Error("Run failed", "err", err)
	}
	if cerr := r.close(c.closeTimeout); cerr != nil {
		r.log.Warn("Closing run", "err", cerr)
	}

	c.mu.Lock()
	r.setErr(err)
	ev := c.transition(r, final)
	c.emitMu.Lock()
	c.mu.Unlock()

	st := r.stats()
	r.log.Info("Run finished", "state", final, "blocks", st.Blocks, "pairs", st.Pairs, "underruns", st.Underruns, "elapsed", time.Since(st.Started).Round(time.Millisecond))
	c.deliver(ev)
	c.emitMu.Unlock()
}

// loop moves blocks until the file ends, the run is stopped or something
// fails. The stop signal is checked once per block and also ends a pacing
// wait in the sink.
func (c *Controller) loop(r *run) (State, error) {
	var passBlocks uint64
	for {
		if r.ctx.Err() != nil {
			return Stopped, nil
		}

		b, err := r.src.ReadBlock(c.blockSize)
		if errors.Is(err, source.ErrEndOfStream) {
			if !c.repeat || passBlocks == 0 {
				r.log.Info("End of stream", "offset", r.src.Offset())
				return Stopped, nil
			}
			if err := r.src.Rewind(); err != nil {
				return Failed, fmt.Errorf("rewinding %s: %w", r.cfg.Path, err)
			}
			passBlocks = 0
			r.passes.Add(1)
			r.offset.Store(0)
			r.log.Debug("Rewound", "pass", r.passes.Load()+1)
			c.emit(Event{Run: r.id.String(), Kind: EventRewind, State: Running, Time: time.Now()})
			continue
		}
		if err != nil {
			return Failed, fmt.Errorf("reading %s: %w", r.cfg.Path, err)
		}
		r.offset.Store(r.src.Offset())

		out, err := iq.Convert(b, r.cfg.FileFormat, r.cfg.WireFormat)
		if err != nil {
			return Failed, err
		}
		if rms, peak, err := r.meter.Level(out, r.cfg.WireFormat); err == nil {
			r.rms.Store(math.Float64bits(rms))
			r.peak.Store(math.Float64bits(peak))
		}

		err = r.snk.Write(r.ctx, out)
		switch {
		case err == nil:
		case errors.Is(err, sink.ErrUnderrun):
			n := r.underruns.Add(1)
			r.log.Warn("Underrun", "block", b.Seq, "count", n)
			c.emit(Event{Run: r.id.String(), Kind: EventUnderrun, State: Running, Err: err, Time: time.Now()})
			if c.underrun == UnderrunFail {
				r.count(out, r.cfg.WireFormat)
				return Failed, err
			}
		case r.ctx.Err() != nil:
			return Stopped, nil
		default:
			return Failed, err
		}
		r.count(out, r.cfg.WireFormat)
		passBlocks++
	}
}

// meterPairs bounds the pairs the level meter reads from each block.
const meterPairs = 4096

// run is one Start to Stopped or Failed cycle. Everything in it is created
// fresh by Start.
type run struct {
	id      xid.ID
	cfg     sink.DeviceConfig
	src     Source
	snk     sink.Sink
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	log     *log.Logger
	started time.Time
	size    int64
	closed  sync.Once
	meter   iq.Meter

	blocks    atomic.Uint64
	pairs     atomic.Uint64
	bytes     atomic.Uint64
	underruns atomic.Uint64
	passes    atomic.Uint64
	offset    atomic.Int64
	rms       atomic.Uint64
	peak      atomic.Uint64

	errMu sync.Mutex
	err   error
}

func newRun(cfg sink.DeviceConfig, src Source, snk sink.Sink, l *log.Logger) *run {
	id := xid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		id:      id,
		cfg:     cfg,
		src:     src,
		snk:     snk,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     l.With("run", id.String()),
		started: time.Now(),
		size:    src.Size(),
		meter:   iq.Meter{Pairs: meterPairs},
	}
}

func (r *run) count(b iq.Block, f iq.Format) {
	r.blocks.Add(1)
	r.pairs.Add(uint64(b.Pairs(f)))
	r.bytes.Add(uint64(len(b.Data)))
}

func (r *run) close(timeout time.Duration) error {
	var err error
	r.closed.Do(func() {
		r.cancel()
		err = errors.Join(r.snk.Close(timeout), r.src.Close())
	})
	return err
}

func (r *run) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.err = err
}

func (r *run) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}
