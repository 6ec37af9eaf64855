package iq

import (
	"fmt"
	"strings"
)

// Format describes how one interleaved I/Q sample pair is laid out on disk or
// on the wire.
type Format uint8

const (
	FormatUnknown Format = iota
	// SC8 is signed 8 bit I/Q, as written by gps-sdr-sim -b 8 and consumed by HackRF.
	SC8
	// CU8 is unsigned 8 bit offset binary I/Q, as produced by rtl-sdr.
	CU8
	// SC16 is signed 16 bit little endian I/Q.
	SC16
	// CF32 is 32 bit little endian float I/Q.
	CF32
)

var formatNames = map[Format]string{
	SC8:  "sc8",
	CU8:  "cu8",
	SC16: "sc16",
	CF32: "cf32",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseFormat accepts the names printed by String plus a few common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sc8", "s8", "int8", "cs8":
		return SC8, nil
	case "cu8", "u8", "uint8":
		return CU8, nil
	case "sc16", "s16", "int16", "cs16", "sc16le":
		return SC16, nil
	case "cf32", "f32", "float32", "fc32", "complex64":
		return CF32, nil
	}
	return FormatUnknown, fmt.Errorf("unknown sample format %q", s)
}

// FormatFromBits maps a container's bits-per-sample field to a signed format.
func FormatFromBits(bits uint8) (Format, error) {
	switch bits {
	case 8:
		return SC8, nil
	case 16:
		return SC16, nil
	case 32:
		return CF32, nil
	}
	return FormatUnknown, fmt.Errorf("unsupported bits per sample: %d", bits)
}

// Bits is the width of a single I or Q component.
func (f Format) Bits() uint8 {
	return uint8(f.SampleWidth() * 8)
}

// SampleWidth is the width in bytes of a single I or Q component.
func (f Format) SampleWidth() int {
	switch f {
	case SC8, CU8:
		return 1
	case SC16:
		return 2
	case CF32:
		return 4
	}
	return 0
}

// PairWidth is the width in bytes of one I/Q pair.
func (f Format) PairWidth() int {
	return 2 * f.SampleWidth()
}

// Silence returns one zero-signal I/Q pair in this format.
func (f Format) Silence() []byte {
	pair := make([]byte, f.PairWidth())
	if f == CU8 {
		pair[0], pair[1] = 0x80, 0x80
	}
	return pair
}
