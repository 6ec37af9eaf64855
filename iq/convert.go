package iq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrMalformedBlock means a block does not hold a whole number of pairs for
// its declared format. It is a programming error upstream, never an I/O error.
var ErrMalformedBlock = errors.New("malformed sample block")

// Convert re-encodes b from one sample format to another. It keeps no state
// between calls. Blocks that are already in the target format are returned
// as-is.
func Convert(b Block, from, to Format) (Block, error) {
	if from.PairWidth() == 0 || to.PairWidth() == 0 {
		return Block{}, fmt.Errorf("%w: cannot convert %s to %s", ErrMalformedBlock, from, to)
	}
	if len(b.Data)%from.PairWidth() != 0 {
		return Block{}, fmt.Errorf("%w: %d bytes is not a multiple of the %s pair width %d", ErrMalformedBlock, len(b.Data), from, from.PairWidth())
	}
	if from == to {
		return b, nil
	}

	n := len(b.Data) / from.SampleWidth()
	out := make([]byte, n*to.SampleWidth())
	switch {
	case from == SC8 && to == CU8, from == CU8 && to == SC8:
		// offset binary and two's complement differ only in the top bit
		for i, v := range b.Data {
			out[i] = v ^ 0x80
		}
	default:
		for i := 0; i < n; i++ {
			to.put(out, i, from.get(b.Data, i))
		}
	}
	return Block{Seq: b.Seq, Offset: b.Offset, Data: out}, nil
}

// Level returns the RMS and peak magnitude of every component of b, both
// relative to full scale. An empty block has level 0.
func Level(b Block, f Format) (rms, peak float64, err error) {
	var m Meter
	return m.Level(b, f)
}

// Meter measures block levels from evenly spaced pairs and keeps its scratch
// space between calls. It is not safe for concurrent use.
type Meter struct {
	// Pairs is the most pairs read from one block. Zero reads them all.
	Pairs int

	samples []float64
}

// Level is like the package level Level but reads at most m.Pairs pairs of b.
func (m *Meter) Level(b Block, f Format) (rms, peak float64, err error) {
	if f.SampleWidth() == 0 || len(b.Data)%f.PairWidth() != 0 {
		return 0, 0, fmt.Errorf("%w: %d bytes of %s", ErrMalformedBlock, len(b.Data), f)
	}
	n := len(b.Data) / f.PairWidth()
	if n == 0 {
		return 0, 0, nil
	}
	stride := 1
	if m.Pairs > 0 && n > m.Pairs {
		stride = (n + m.Pairs - 1) / m.Pairs
	}
	m.samples = m.samples[:0]
	for i := 0; i < n; i += stride {
		m.samples = append(m.samples, f.get(b.Data, 2*i), f.get(b.Data, 2*i+1))
	}
	rms = floats.Norm(m.samples, 2) / math.Sqrt(float64(len(m.samples)))
	peak = math.Max(floats.Max(m.samples), -floats.Min(m.samples))
	return rms, peak, nil
}

// get reads component i of data as a normalized value.
func (f Format) get(data []byte, i int) float64 {
	switch f {
	case SC8:
		return float64(int8(data[i])) / 128
	case CU8:
		return (float64(data[i]) - 128) / 128
	case SC16:
		return float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
	case CF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
	}
	return 0
}

// put writes a normalized value as component i of data, clamping to the
// representable range.
func (f Format) put(data []byte, i int, v float64) {
	switch f {
	case SC8:
		data[i] = byte(int8(clamp(math.Round(v*128), -128, 127)))
	case CU8:
		data[i] = byte(clamp(math.Round(v*128)+128, 0, 255))
	case SC16:
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(clamp(math.Round(v*32768), -32768, 32767))))
	case CF32:
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(v)))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
