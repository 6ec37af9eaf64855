package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	kzstd "github.com/klauspost/compress/zstd"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/ziq"
)

// Container identifies how a sample file is wrapped.
type Container int

const (
	Raw Container = iota
	RawZstd
	ZIQ
	WAV
)

func (c Container) String() string {
	switch c {
	case Raw:
		return "raw"
	case RawZstd:
		return "raw+zstd"
	case ZIQ:
		return "ziq"
	case WAV:
		return "wav"
	}
	return "unknown"
}

// ContainerOf picks a container from the file extension.
func ContainerOf(path string) Container {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return RawZstd
	case ".ziq":
		return ZIQ
	case ".wav":
		return WAV
	}
	return Raw
}

// body is an open sample stream positioned at the first I/Q pair.
type body struct {
	io.ReadCloser
	format iq.Format
	// size is the number of sample bytes, or -1 when unknown.
	size int64
	// rate and note come from container headers that carry them.
	rate uint64
	note string
}

func openBody(path string, format iq.Format) (*body, error) {
	switch ContainerOf(path) {
	case RawZstd:
		return openZstd(path, format)
	case ZIQ:
		return openZiq(path)
	case WAV:
		return openWav(path)
	}
	return openRaw(path, format)
}

func openRaw(path string, format iq.Format) (*body, error) {
	if format == iq.FormatUnknown {
		return nil, fmt.Errorf("raw sample file %s needs a sample format", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return &body{ReadCloser: f, format: format, size: size}, nil
}

type zstdBody struct {
	file *os.File
	dec  *kzstd.Decoder
}

func (z *zstdBody) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdBody) Close() error {
	z.dec.Close()
	return z.file.Close()
}

func openZstd(path string, format iq.Format) (*body, error) {
	if format == iq.FormatUnknown {
		return nil, fmt.Errorf("compressed sample file %s needs a sample format", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := kzstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	log.Debugf("Sample file %s is zstd compressed", path)
	return &body{ReadCloser: &zstdBody{file: f, dec: dec}, format: format, size: -1}, nil
}

func openZiq(path string) (*body, error) {
	z, err := ziq.Open(path)
	if err != nil {
		return nil, err
	}
	format, err := z.Header.Format()
	if err != nil {
		z.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &body{
		ReadCloser: z,
		format:     format,
		size:       z.BodySize(),
		rate:       z.Header.SampleRate,
		note:       z.Header.Annotation,
	}, nil
}

// wavBody re-encodes a two channel 16 bit PCM WAV as sc16 pairs, I on the
// left channel and Q on the right.
type wavBody struct {
	file    *os.File
	dec     *wav.Decoder
	buf     *audio.IntBuffer
	out     []byte
	pending []byte
}

const wavChunkPairs = 4096

func openWav(path string) (*body, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if dec.NumChans != 2 || dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("%s: want 2 channel 16 bit I/Q wav, have %d channels at %d bits", path, dec.NumChans, dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w := &wavBody{
		file: f,
		dec:  dec,
		buf: &audio.IntBuffer{
			Format:         dec.Format(),
			Data:           make([]int, 2*wavChunkPairs),
			SourceBitDepth: 16,
		},
		out: make([]byte, 0, 4*wavChunkPairs),
	}
	return &body{ReadCloser: w, format: iq.SC16, size: dec.PCMLen(), rate: uint64(dec.SampleRate)}, nil
}

func (w *wavBody) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		n, err := w.dec.PCMBuffer(w.buf)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.EOF
			}
			return 0, err
		}
		w.out = w.out[:2*n]
		for i, v := range w.buf.Data[:n] {
			binary.LittleEndian.PutUint16(w.out[2*i:], uint16(int16(v)))
		}
		w.pending = w.out
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wavBody) Close() error {
	return w.file.Close()
}
