package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/source"
)

const (
	RC_SUCCESS        = 0
	RC_IO_ERROR       = 1
	RC_INVALID_FORMAT = 2
	RC_READ_ERROR     = 3
)

var cli struct {
	Paths      []string `arg:"" help:"Path to sample file" sep:" "`
	Format     string   `help:"Sample format of raw files (sc8, cu8, sc16, cf32)" default:"sc8"`
	SampleRate float64  `help:"Sample rate used to compute durations; defaults to the file header"`
	Level      bool     `help:"Read every sample and report RMS and peak level" default:"false"`
}

func main() {
	_ = kong.Parse(&cli)
	if len(cli.Paths) == 0 {
		os.Exit(0)
	}

	format, err := iq.ParseFormat(cli.Format)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(RC_INVALID_FORMAT)
	}

	var rc int = 0
	for _, path := range cli.Paths {
		ret := infoFile(os.Stdout, path, format)
		if ret > rc {
			rc = ret
		}
	}
	os.Exit(rc)
}

func infoFile(w io.Writer, path string, format iq.Format) int {
	h, err := source.Open(path, source.Options{Format: format, Trailing: source.TrailShort})
	if err != nil {
		log.Errorf("Could not open sample file %s: %s", path, err.Error())
		if errors.Is(err, source.ErrNotFound) || errors.Is(err, source.ErrPermissionDenied) {
			return RC_IO_ERROR
		}
		return RC_INVALID_FORMAT
	}
	defer h.Close()

	info := h.Info()
	fmt.Fprintf(w, "%s:\n", path)
	fmt.Fprintf(w, "\tContainer:\t%s\n", info.Container)
	fmt.Fprintf(w, "\tFormat:\t\t%s\n", info.Format)
	if info.SampleRate > 0 {
		fmt.Fprintf(w, "\tSample rate:\t%d\n", info.SampleRate)
	}
	if info.Annotation != "" {
		fmt.Fprintf(w, "\tAnnotation:\t%q\n", info.Annotation)
	}
	if info.Size >= 0 {
		fmt.Fprintf(w, "\tSize:\t\t%d bytes (%d pairs)\n", info.Size, info.Pairs())
	}
	if d := info.Duration(cli.SampleRate); d > 0 {
		fmt.Fprintf(w, "\tDuration:\t%s\n", d.Round(time.Millisecond))
	}

	if !cli.Level {
		return RC_SUCCESS
	}
	pairs, rms, peak, err := measure(h)
	if err != nil {
		log.Errorf("Could not read %s: %s", path, err.Error())
		return RC_READ_ERROR
	}
	fmt.Fprintf(w, "\tPairs read:\t%d\n", pairs)
	fmt.Fprintf(w, "\tRMS:\t\t%.4f (%.1f dBFS)\n", rms, dbfs(rms))
	fmt.Fprintf(w, "\tPeak:\t\t%.4f (%.1f dBFS)\n", peak, dbfs(peak))
	return RC_SUCCESS
}

// measure reads h to the end and returns the pair count and the RMS and peak
// level of the whole file.
func measure(h *source.Handle) (pairs int64, rms, peak float64, err error) {
	var sumSquares float64
	var samples int64
	for {
		b, err := h.ReadBlock(65536)
		if errors.Is(err, source.ErrEndOfStream) {
			break
		}
		if err != nil {
			return pairs, 0, 0, err
		}
		blockRMS, blockPeak, err := iq.Level(b, h.Format())
		if err != nil {
			return pairs, 0, 0, err
		}
		n := b.Pairs(h.Format())
		pairs += int64(n)
		samples += int64(2 * n)
		sumSquares += blockRMS * blockRMS * float64(2*n)
		peak = math.Max(peak, blockPeak)
	}
	if samples > 0 {
		rms = math.Sqrt(sumSquares / float64(samples))
	}
	return pairs, rms, peak, nil
}

func dbfs(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}
