package source

import (
	"time"

	"github.com/jrwynneiii/iqtx/iq"
)

// Info describes a sample file without reading its samples.
type Info struct {
	Path      string
	Container Container
	Format    iq.Format
	// Size is the number of sample bytes, -1 if unknown.
	Size int64
	// SampleRate is taken from the container header, 0 if it has none.
	SampleRate uint64
	Annotation string
}

// Pairs is the number of I/Q pairs in the file, -1 if unknown.
func (i Info) Pairs() int64 {
	if i.Size < 0 || i.Format == iq.FormatUnknown {
		return -1
	}
	return i.Size / int64(i.Format.PairWidth())
}

// Duration is the time the file takes to transmit at rate pairs per second.
// A zero rate falls back to the header rate. It is 0 when either is unknown.
func (i Info) Duration(rate float64) time.Duration {
	if rate <= 0 {
		rate = float64(i.SampleRate)
	}
	pairs := i.Pairs()
	if rate <= 0 || pairs < 0 {
		return 0
	}
	return time.Duration(float64(pairs) / rate * float64(time.Second))
}

func (h *Handle) Info() Info {
	return Info{
		Path:       h.path,
		Container:  ContainerOf(h.path),
		Format:     h.body.format,
		Size:       h.body.size,
		SampleRate: h.body.rate,
		Annotation: h.body.note,
	}
}

// Inspect opens path just long enough to describe it.
func Inspect(path string, opts Options) (Info, error) {
	h, err := Open(path, opts)
	if err != nil {
		return Info{}, err
	}
	defer h.Close()
	return h.Info(), nil
}
