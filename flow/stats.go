package flow

import (
	"math"
	"time"

	"github.com/jrwynneiii/iqtx/sink"
)

// Stats is a snapshot of the latest run.
type Stats struct {
	Run     string
	State   State
	Config  sink.DeviceConfig
	Started time.Time

	Blocks    uint64
	Pairs     uint64
	Bytes     uint64
	Underruns uint64
	// Passes counts completed passes over the file in repeat mode.
	Passes uint64
	Offset int64
	// Size is the number of sample bytes in the file, -1 if unknown.
	Size int64
	// RMS and Peak are the level of the last block relative to full scale.
	RMS  float64
	Peak float64
}

// Progress is the fraction of the current pass already read, or -1 when the
// file size is unknown.
func (s Stats) Progress() float64 {
	if s.Size <= 0 {
		return -1
	}
	return math.Min(float64(s.Offset)/float64(s.Size), 1)
}

// Elapsed is the transmit time represented by the pairs sent so far.
func (s Stats) Elapsed() time.Duration {
	if s.Config.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Pairs) / s.Config.SampleRate * float64(time.Second))
}

// Stats returns the counters of the latest run. Before the first Start only
// State is set.
func (c *Controller) Stats() Stats {
	r := c.current.Load()
	if r == nil {
		return Stats{State: c.State(), Size: -1}
	}
	st := r.stats()
	st.State = c.State()
	return st
}

func (r *run) stats() Stats {
	return Stats{
		Run:       r.id.String(),
		Config:    r.cfg,
		Started:   r.started,
		Blocks:    r.blocks.Load(),
		Pairs:     r.pairs.Load(),
		Bytes:     r.bytes.Load(),
		Underruns: r.underruns.Load(),
		Passes:    r.passes.Load(),
		Offset:    r.offset.Load(),
		Size:      r.size,
		RMS:       math.Float64frombits(r.rms.Load()),
		Peak:      math.Float64frombits(r.peak.Load()),
	}
}
