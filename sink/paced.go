package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
)

// clock is swapped out in tests.
type clock struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var wallClock = clock{now: time.Now, sleep: sleepContext}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StallTimeout is how long a single transport write may block beyond its own
// playout time before the device is considered failed.
const StallTimeout = 2 * time.Second

// writeDeadliner is implemented by transports whose blocked writes can be
// interrupted in place, such as sockets and pipes.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// aborter is implemented by transports whose Close waits for queued bytes.
// Abort releases them without waiting.
type aborter interface {
	Abort() error
}

// Paced writes blocks to a transport no faster than the device would drain
// them. It keeps the time at which the modelled device buffer runs empty;
// everything queued before that instant is still waiting to be sent.
type Paced struct {
	mu       sync.Mutex
	cfg      DeviceConfig
	out      io.WriteCloser
	clock    clock
	width    int
	capacity int
	chunk    int
	stall    time.Duration
	started  bool
	emptyAt  time.Time
	pairs    uint64
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

var _ Sink = (*Paced)(nil)

// NewPaced paces out at cfg.SampleRate with a buffer of cfg.Buffer() pairs.
// cfg is assumed to be valid.
func NewPaced(cfg DeviceConfig, out io.WriteCloser) *Paced {
	return newPaced(cfg, out, wallClock)
}

func newPaced(cfg DeviceConfig, out io.WriteCloser, c clock) *Paced {
	return &Paced{
		cfg:      cfg,
		out:      out,
		clock:    c,
		width:    cfg.WireFormat.PairWidth(),
		capacity: cfg.Buffer(),
		chunk:    max(1, cfg.Buffer()/2),
		stall:    StallTimeout,
	}
}

func (p *Paced) duration(pairs int) time.Duration {
	return time.Duration(float64(pairs) * float64(time.Second) / p.cfg.SampleRate)
}

// Write queues b, waiting while the modelled buffer has no room for it. Blocks
// go out in pieces of at most half the buffer, so the buffer is never filled
// to the brim between pieces. A cancelled ctx ends the wait, or a transport
// write that is blocked, with ctx.Err() and the rest of the block is not
// written.
//
// If the buffer ran dry before or while b was queued, b is still written and
// ErrUnderrun is returned. Transport failures, including a write stalled for
// longer than StallTimeout, wrap ErrDeviceError.
func (p *Paced) Write(ctx context.Context, b iq.Block) error {
	if len(b.Data)%p.width != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of %s pairs", iq.ErrMalformedBlock, len(b.Data), p.cfg.WireFormat)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: sink is closed", ErrDeviceError)
	}

	underrun := false
	now := p.clock.now()
	if !p.started {
		p.started = true
		p.emptyAt = now
	} else if now.After(p.emptyAt) {
		underrun = true
		log.Debugf("Device buffer ran dry %s before block %d", now.Sub(p.emptyAt), b.Seq)
		p.emptyAt = now
	}

	data := b.Data
	for len(data) > 0 {
		chunk := min(len(data)/p.width, p.chunk)
		dry, err := p.waitRoom(ctx, chunk)
		if err != nil {
			return err
		}
		if dry {
			underrun = true
			log.Debugf("Device buffer ran dry while queueing block %d", b.Seq)
		}
		if err := p.send(ctx, data[:chunk*p.width]); err != nil {
			return err
		}
		p.emptyAt = p.emptyAt.Add(p.duration(chunk))
		p.pairs += uint64(chunk)
		data = data[chunk*p.width:]
	}

	if underrun {
		return fmt.Errorf("%w at block %d", ErrUnderrun, b.Seq)
	}
	return nil
}

// waitRoom sleeps until pairs more pairs fit in the buffer. It reports
// whether the buffer had emptied by the time it woke.
func (p *Paced) waitRoom(ctx context.Context, pairs int) (bool, error) {
	limit := p.duration(p.capacity - pairs)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		now := p.clock.now()
		if !p.emptyAt.After(now) {
			dry := now.After(p.emptyAt)
			p.emptyAt = now
			return dry, nil
		}
		ahead := p.emptyAt.Sub(now)
		if ahead <= limit {
			return false, nil
		}
		if err := p.clock.sleep(ctx, ahead-limit); err != nil {
			return false, err
		}
	}
}

// send hands data to the transport. Cancelling ctx interrupts a blocked
// write: through a past write deadline where the transport has one, by
// closing the transport otherwise.
func (p *Paced) send(ctx context.Context, data []byte) error {
	interrupt := p.abort
	if d, ok := p.out.(writeDeadliner); ok {
		deadline := time.Now().Add(p.stall + p.duration(len(data)/p.width))
		if d.SetWriteDeadline(deadline) == nil {
			interrupt = func() { d.SetWriteDeadline(time.Unix(1, 0)) }
		}
	}
	stop := context.AfterFunc(ctx, interrupt)
	_, err := p.out.Write(data)
	stop()
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: transport stalled for more than %s", ErrDeviceError, p.stall)
	}
	return fmt.Errorf("%w: %w", ErrDeviceError, err)
}

func (p *Paced) abort() {
	p.closeOnce.Do(func() {
		if a, ok := p.out.(aborter); ok {
			p.closeErr = a.Abort()
			return
		}
		p.closeErr = p.out.Close()
	})
}

func (p *Paced) closeTransport() error {
	p.closeOnce.Do(func() { p.closeErr = p.out.Close() })
	return p.closeErr
}

// Buffered is the number of pairs the modelled device buffer still holds.
func (p *Paced) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ahead := p.emptyAt.Sub(p.clock.now())
	if !p.started || ahead <= 0 {
		return 0
	}
	return min(int(ahead.Seconds()*p.cfg.SampleRate), p.capacity)
}

// Capacity is the size of the modelled device buffer in pairs.
func (p *Paced) Capacity() int { return p.capacity }

// Pairs is the number of pairs handed to the transport.
func (p *Paced) Pairs() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pairs
}

// Close lets the buffered samples play out for at most timeout and then
// releases the transport. Closing again is a no-op.
func (p *Paced) Close(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.started {
		drain := p.emptyAt.Sub(p.clock.now())
		if drain > timeout {
			log.Warnf("Sink close timeout %s cuts off %s of buffered samples", timeout, drain-timeout)
			drain = timeout
		}
		if drain > 0 {
			p.clock.sleep(context.Background(), drain)
		}
	}
	if err := p.closeTransport(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrDeviceError, err)
	}
	return nil
}
