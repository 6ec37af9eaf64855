package ziq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DataDog/zstd"
	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
)

const Signature = "ZIQ_"

// ErrInvalidHeader is returned for files that do not start with a ZIQ header.
var ErrInvalidHeader = errors.New("invalid ziq file; header does not contain " + Signature)

// Reader gives access to the I/Q body of a ziq capture. Compressed bodies are
// decompressed on the fly.
type Reader struct {
	path   string
	Header Header
	file   *os.File
	body   io.Reader
	closer io.Closer
}

type Header struct {
	Signature        string
	Compressed       bool
	BitsPerSample    uint8
	SampleRate       uint64
	AnnotationLength uint64
	Annotation       string
}

// Len is the encoded size of the header in bytes.
func (h Header) Len() int64 {
	return 4 + 1 + 1 + 8 + 8 + int64(len(h.Annotation))
}

// Format maps the bits-per-sample field to a sample format.
func (h Header) Format() (iq.Format, error) {
	return iq.FormatFromBits(h.BitsPerSample)
}

// Open opens path and parses its header. The returned error wraps the
// os.Open error unchanged so callers can test it with errors.Is.
func Open(path string) (*Reader, error) {
	log.Debugf("Opening ziq file: %s", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	z := &Reader{
		path: path,
		file: f,
	}
	if z.Header, err = ReadHeader(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("Found ziq header %##v", z.Header)
	if z.Header.Compressed {
		log.Debugf("Ziq body is compressed...decompressing")
		dec := zstd.NewReader(f)
		z.body = dec
		z.closer = dec
	} else {
		log.Debugf("Ziq body is not compressed")
		z.body = f
	}
	return z, nil
}

// ReadHeader decodes a little endian ziq header from r.
func ReadHeader(r io.Reader) (Header, error) {
	h := Header{}
	sig := make([]byte, 4)
	if _, err := io.ReadFull(r, sig); err != nil {
		return h, fmt.Errorf("reading signature: %w", err)
	}
	h.Signature = string(sig)
	if h.Signature != Signature {
		return h, ErrInvalidHeader
	}
	for _, field := range []any{&h.Compressed, &h.BitsPerSample, &h.SampleRate, &h.AnnotationLength} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return h, fmt.Errorf("reading header: %w", err)
		}
	}
	if h.AnnotationLength > 0 {
		annotation := make([]byte, h.AnnotationLength)
		if _, err := io.ReadFull(r, annotation); err != nil {
			return h, fmt.Errorf("reading annotation: %w", err)
		}
		h.Annotation = string(annotation)
	}
	return h, nil
}

// WriteTo encodes h to w. AnnotationLength is derived from Annotation.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	h.Signature = Signature
	h.AnnotationLength = uint64(len(h.Annotation))
	if _, err := io.WriteString(w, h.Signature); err != nil {
		return 0, err
	}
	for _, field := range []any{h.Compressed, h.BitsPerSample, h.SampleRate, h.AnnotationLength} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return 0, err
		}
	}
	if _, err := io.WriteString(w, h.Annotation); err != nil {
		return 0, err
	}
	return h.Len(), nil
}

// Read reads raw interleaved I/Q bytes from the body.
func (z *Reader) Read(p []byte) (int, error) {
	return z.body.Read(p)
}

// BodySize is the size of the stored body in bytes. For compressed captures
// the decompressed size is unknown and -1 is returned.
func (z *Reader) BodySize() int64 {
	if z.Header.Compressed {
		return -1
	}
	st, err := z.file.Stat()
	if err != nil {
		return -1
	}
	return st.Size() - z.Header.Len()
}

func (z *Reader) Close() error {
	if z.closer != nil {
		z.closer.Close()
	}
	return z.file.Close()
}

// Writer produces a ziq capture. Close must be called to flush a compressed
// body.
type Writer struct {
	body   io.Writer
	closer io.Closer
}

func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if _, err := h.WriteTo(w); err != nil {
		return nil, fmt.Errorf("writing ziq header: %w", err)
	}
	if h.Compressed {
		enc := zstd.NewWriter(w)
		return &Writer{body: enc, closer: enc}, nil
	}
	return &Writer{body: w}, nil
}

func (z *Writer) Write(p []byte) (int, error) {
	return z.body.Write(p)
}

// Close flushes the compressor. It does not close the underlying writer.
func (z *Writer) Close() error {
	if z.closer != nil {
		return z.closer.Close()
	}
	return nil
}
