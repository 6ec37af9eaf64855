// Package source reads pre-computed baseband sample files block by block.
//
// A Handle owns one open file and a read cursor. Blocks are always a whole
// number of I/Q pairs; a short block at the end of the file is handled by the
// Handle's TrailPolicy and is followed by ErrEndOfStream.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
)

var (
	ErrNotFound         = errors.New("sample file not found")
	ErrPermissionDenied = errors.New("sample file permission denied")
	// ErrEndOfStream is returned once every sample in the file has been read.
	ErrEndOfStream = errors.New("end of stream")
)

// TrailPolicy decides what happens to a final block that is shorter than the
// requested block size.
type TrailPolicy int

const (
	// TrailPad fills the block up with silence.
	TrailPad TrailPolicy = iota
	// TrailShort returns the short block as is.
	TrailShort
	// TrailDrop discards the short block.
	TrailDrop
)

func (p TrailPolicy) String() string {
	switch p {
	case TrailPad:
		return "pad"
	case TrailShort:
		return "short"
	case TrailDrop:
		return "drop"
	}
	return fmt.Sprintf("trail(%d)", int(p))
}

func ParseTrailPolicy(s string) (TrailPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pad", "":
		return TrailPad, nil
	case "short":
		return TrailShort, nil
	case "drop":
		return TrailDrop, nil
	}
	return TrailPad, fmt.Errorf("unknown trailing block policy %q", s)
}

// Options describe how to interpret a sample file. Format is required for raw
// files; containers with a header override it.
type Options struct {
	Format   iq.Format
	Trailing TrailPolicy
}

// Handle is an open sample file and its read cursor.
type Handle struct {
	path   string
	opts   Options
	body   *body
	offset int64
	seq    uint64
	done   bool
	closed bool
}

// Open opens path for block reads. Missing files fail with ErrNotFound and
// unreadable ones with ErrPermissionDenied.
func Open(path string, opts Options) (*Handle, error) {
	h := &Handle{path: path, opts: opts}
	b, err := openBody(path, opts.Format)
	if err != nil {
		return nil, classify(path, err)
	}
	h.body = b
	log.Debugf("Opened %s sample file %s (%s, %d bytes)", ContainerOf(path), path, b.format, b.size)
	return h, nil
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, path, err)
	}
	return err
}

func (h *Handle) Path() string { return h.path }

// Format is the sample format of the blocks returned by ReadBlock.
func (h *Handle) Format() iq.Format { return h.body.format }

// Offset is the number of sample bytes consumed since open or the last rewind.
func (h *Handle) Offset() int64 { return h.offset }

// Size is the number of sample bytes in the file, or -1 if it is not known
// without reading the whole stream.
func (h *Handle) Size() int64 { return h.body.size }

// ReadBlock reads the next block of pairs I/Q pairs.
func (h *Handle) ReadBlock(pairs int) (iq.Block, error) {
	if h.closed {
		return iq.Block{}, fmt.Errorf("read %s: %w", h.path, os.ErrClosed)
	}
	if pairs <= 0 {
		return iq.Block{}, fmt.Errorf("read %s: invalid block size %d", h.path, pairs)
	}
	if h.done {
		return iq.Block{}, ErrEndOfStream
	}

	width := h.body.format.PairWidth()
	data := make([]byte, pairs*width)
	n, err := io.ReadFull(h.body, data)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		h.done = true
		// a torn pair at the very end cannot be transmitted
		n -= n % width
		if n == 0 {
			return iq.Block{}, ErrEndOfStream
		}
		switch h.opts.Trailing {
		case TrailShort:
			data = data[:n]
		case TrailDrop:
			log.Debugf("Dropping trailing block of %d pairs from %s", n/width, h.path)
			h.offset += int64(n)
			return iq.Block{}, ErrEndOfStream
		default:
			silence := h.body.format.Silence()
			for i := n; i < len(data); i += width {
				copy(data[i:], silence)
			}
		}
	default:
		return iq.Block{}, fmt.Errorf("read %s at offset %d: %w", h.path, h.offset, err)
	}

	b := iq.Block{Seq: h.seq, Offset: h.offset, Data: data}
	h.seq++
	h.offset += int64(n)
	return b, nil
}

// Rewind moves the cursor back to the first pair. Compressed and wrapped
// bodies are reopened.
func (h *Handle) Rewind() error {
	if h.closed {
		return fmt.Errorf("rewind %s: %w", h.path, os.ErrClosed)
	}
	if seeker, ok := h.body.ReadCloser.(io.Seeker); ok && ContainerOf(h.path) == Raw {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", h.path, err)
		}
	} else {
		h.body.Close()
		b, err := openBody(h.path, h.opts.Format)
		if err != nil {
			h.closed = true
			return classify(h.path, err)
		}
		h.body = b
	}
	h.offset = 0
	h.done = false
	return nil
}

// Close releases the file. Calling it again is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.body.Close()
}
