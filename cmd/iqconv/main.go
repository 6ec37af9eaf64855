package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	kzstd "github.com/klauspost/compress/zstd"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/source"
	"github.com/jrwynneiii/iqtx/ziq"
)

var cli struct {
	Verbose    bool   `help:"Prints debug output by default"`
	File       string `arg:"" help:"Path to the input sample file"`
	OutputFile string `arg:"" help:"File path to output file"`
	From       string `help:"Sample format of a raw input file" default:"sc8"`
	To         string `help:"Sample format to write" default:"cf32"`
	Ziq        bool   `help:"Wrap the output in a ziq header"`
	Compress   bool   `help:"Zstd compress the output"`
	SampleRate uint64 `help:"Sample rate to record in a ziq header; defaults to the input's"`
	Annotation string `help:"Annotation to record in a ziq header"`
	BlockSize  int    `help:"I/Q pairs converted per block" default:"65536"`
	Force      bool   `help:"Overwrite an existing output file"`
}

// convert copies every pair of src to w in format to and returns the number
// of pairs written.
func convert(src *source.Handle, w io.Writer, to iq.Format, pairs int) (int64, error) {
	var total int64
	for {
		b, err := src.ReadBlock(pairs)
		if errors.Is(err, source.ErrEndOfStream) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		out, err := iq.Convert(b, src.Format(), to)
		if err != nil {
			return total, fmt.Errorf("block %d: %w", b.Seq, err)
		}
		if _, err := w.Write(out.Data); err != nil {
			return total, err
		}
		n := int64(out.Pairs(to))
		total += n
		log.Debugf("Wrote block %d of %d pairs to output file (%d bytes)", b.Seq, n, len(out.Data))
	}
}

// wrap layers the requested container over f. Closing the result flushes
// the container but leaves f open.
func wrap(f io.Writer, to iq.Format, rate uint64) (io.WriteCloser, error) {
	if cli.Ziq {
		if to == iq.CU8 {
			return nil, errors.New("ziq headers cannot describe unsigned samples")
		}
		return ziq.NewWriter(f, ziq.Header{
			Compressed:    cli.Compress,
			BitsPerSample: to.Bits(),
			SampleRate:    rate,
			Annotation:    cli.Annotation,
		})
	}
	if cli.Compress {
		return kzstd.NewWriter(f)
	}
	return nopCloser{f}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func main() {
	_ = kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	from, err := iq.ParseFormat(cli.From)
	if err != nil {
		log.Fatalf("Bad input format: %v", err)
	}
	to, err := iq.ParseFormat(cli.To)
	if err != nil {
		log.Fatalf("Bad output format: %v", err)
	}

	src, err := source.Open(cli.File, source.Options{Format: from, Trailing: source.TrailShort})
	if err != nil {
		log.Fatalf("Could not open input: %v", err)
	}
	defer src.Close()
	rate := cli.SampleRate
	if rate == 0 {
		rate = src.Info().SampleRate
	}

	if _, err := os.Stat(cli.OutputFile); err == nil && !cli.Force {
		log.Fatalf("Output file exists! Cowardly not overwriting file...")
	}
	outputfile, err := os.Create(cli.OutputFile)
	if err != nil {
		log.Fatalf("Could not open output file! %s", err.Error())
	}
	defer outputfile.Close()

	w, err := wrap(outputfile, to, rate)
	if err != nil {
		log.Fatalf("Could not write output header: %v", err)
	}

	log.Debugf("Converting %s (%s) to %s (%s)", cli.File, src.Format(), cli.OutputFile, to)
	total, err := convert(src, w, to, cli.BlockSize)
	if err != nil {
		log.Fatalf("Error converting IQ file! %s", err.Error())
	}
	if err := w.Close(); err != nil {
		log.Fatalf("Could not finish output file! %s", err.Error())
	}
	log.Infof("Converted %d pairs from %s to %s", total, src.Format(), to)
}
