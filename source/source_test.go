package source_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	kzstd "github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/source"
	"github.com/jrwynneiii/iqtx/ziq"
)

func tempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/256)
	}
	return data
}

// readAll drains h and returns the blocks in order.
func readAll(t *testing.T, h *source.Handle, pairs int) [][]byte {
	t.Helper()
	var blocks [][]byte
	for {
		b, err := h.ReadBlock(pairs)
		if errors.Is(err, source.ErrEndOfStream) {
			return blocks
		}
		require.NoError(t, err)
		blocks = append(blocks, b.Data)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		description string
		size        int
		format      iq.Format
		blockPairs  int
	}{
		{"exact multiple", 8000, iq.SC8, 1000},
		{"short trailing block", 8200, iq.SC8, 1000},
		{"torn trailing pair", 8203, iq.SC16, 500},
		{"single pair blocks", 64, iq.CF32, 1},
	}

	for _, test := range tests {
		data := pattern(test.size)
		h, err := source.Open(tempFile(t, "gpssim.bin", data), source.Options{Format: test.format, Trailing: source.TrailShort})
		require.NoError(t, err, test.description)

		var got []byte
		for _, b := range readAll(t, h, test.blockPairs) {
			got = append(got, b...)
		}
		aligned := test.size - test.size%test.format.PairWidth()
		assert.Equal(t, data[:aligned], got, test.description)
		assert.Equal(t, int64(aligned), h.Offset(), test.description)
		require.NoError(t, h.Close())
	}
}

func TestTrailingPolicy(t *testing.T) {
	// five sc16 pairs read four at a time
	data := pattern(20)
	tests := []struct {
		policy   source.TrailPolicy
		expected [][]byte
	}{
		{
			policy:   source.TrailPad,
			expected: [][]byte{data[:16], append(append([]byte{}, data[16:20]...), make([]byte, 12)...)},
		},
		{
			policy:   source.TrailShort,
			expected: [][]byte{data[:16], data[16:20]},
		},
		{
			policy:   source.TrailDrop,
			expected: [][]byte{data[:16]},
		},
	}

	for _, test := range tests {
		h, err := source.Open(tempFile(t, "five.bin", data), source.Options{Format: iq.SC16, Trailing: test.policy})
		require.NoError(t, err)
		assert.Equal(t, test.expected, readAll(t, h, 4), test.policy.String())

		// end of stream is sticky
		_, err = h.ReadBlock(4)
		assert.ErrorIs(t, err, source.ErrEndOfStream, test.policy.String())
		require.NoError(t, h.Close())
	}
}

func TestPadUsesFormatSilence(t *testing.T) {
	h, err := source.Open(tempFile(t, "one.cu8", []byte{1, 2}), source.Options{Format: iq.CU8})
	require.NoError(t, err)
	defer h.Close()

	b, err := h.ReadBlock(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0x80, 0x80, 0x80, 0x80}, b.Data)
	assert.Equal(t, int64(2), h.Offset())
}

func TestEmptyFile(t *testing.T) {
	h, err := source.Open(tempFile(t, "empty.bin", nil), source.Options{Format: iq.SC8})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ReadBlock(16)
	assert.ErrorIs(t, err, source.ErrEndOfStream)
	assert.Equal(t, int64(0), h.Size())
}

func TestBlockSequence(t *testing.T) {
	h, err := source.Open(tempFile(t, "seq.bin", pattern(40)), source.Options{Format: iq.SC8})
	require.NoError(t, err)
	defer h.Close()

	for i := 0; i < 4; i++ {
		b, err := h.ReadBlock(5)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), b.Seq)
		assert.Equal(t, int64(i*10), b.Offset)
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := source.Open(filepath.Join(t.TempDir(), "missing.bin"), source.Options{Format: iq.SC8})
	assert.ErrorIs(t, err, source.ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = source.Open(tempFile(t, "noformat.bin", pattern(4)), source.Options{})
	assert.Error(t, err)

	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	path := tempFile(t, "locked.bin", pattern(4))
	require.NoError(t, os.Chmod(path, 0))
	_, err = source.Open(path, source.Options{Format: iq.SC8})
	assert.ErrorIs(t, err, source.ErrPermissionDenied)
}

func TestClosedHandle(t *testing.T) {
	h, err := source.Open(tempFile(t, "c.bin", pattern(8)), source.Options{Format: iq.SC8})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err = h.ReadBlock(1)
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.ErrorIs(t, h.Rewind(), os.ErrClosed)
}

func TestRewind(t *testing.T) {
	data := pattern(64)
	var compressed bytes.Buffer
	enc, err := kzstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	for _, path := range []string{
		tempFile(t, "loop.bin", data),
		tempFile(t, "loop.bin.zst", compressed.Bytes()),
	} {
		h, err := source.Open(path, source.Options{Format: iq.SC8, Trailing: source.TrailShort})
		require.NoError(t, err, path)

		first := readAll(t, h, 8)
		require.NoError(t, h.Rewind(), path)
		assert.Equal(t, int64(0), h.Offset(), path)
		assert.Equal(t, first, readAll(t, h, 8), path)
		require.NoError(t, h.Close())
	}
}

func TestZstdContainer(t *testing.T) {
	data := pattern(4096)
	var compressed bytes.Buffer
	enc, err := kzstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	h, err := source.Open(tempFile(t, "gpssim.bin.zst", compressed.Bytes()), source.Options{Format: iq.SC8})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, int64(-1), h.Size())
	assert.Equal(t, [][]byte{data[:2048], data[2048:]}, readAll(t, h, 1024))
}

func TestZiqContainer(t *testing.T) {
	data := pattern(512)
	path := filepath.Join(t.TempDir(), "capture.ziq")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ziq.NewWriter(f, ziq.Header{Compressed: true, BitsPerSample: 16, SampleRate: 2600000})
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	// the header wins over the configured format
	h, err := source.Open(path, source.Options{Format: iq.SC8})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, iq.SC16, h.Format())
	assert.Equal(t, [][]byte{data[:256], data[256:]}, readAll(t, h, 64))
}

func TestWavContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iq.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	samples := []int{100, -100, 32767, -32768, 0, 1}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	h, err := source.Open(path, source.Options{})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, iq.SC16, h.Format())
	b, err := h.ReadBlock(3)
	require.NoError(t, err)
	expected := make([]byte, 0, 12)
	for _, s := range samples {
		expected = binary.LittleEndian.AppendUint16(expected, uint16(int16(s)))
	}
	assert.Equal(t, expected, b.Data)

	_, err = h.ReadBlock(3)
	assert.ErrorIs(t, err, source.ErrEndOfStream)
}

func TestParseTrailPolicy(t *testing.T) {
	p, err := source.ParseTrailPolicy("short")
	require.NoError(t, err)
	assert.Equal(t, source.TrailShort, p)

	p, err = source.ParseTrailPolicy("")
	require.NoError(t, err)
	assert.Equal(t, source.TrailPad, p)

	_, err = source.ParseTrailPolicy("wrap")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	raw := tempFile(t, "gpssim.bin", pattern(2600*2))
	info, err := source.Inspect(raw, source.Options{Format: iq.SC8})
	require.NoError(t, err)
	assert.Equal(t, source.Raw, info.Container)
	assert.Equal(t, iq.SC8, info.Format)
	assert.Equal(t, int64(2600), info.Pairs())
	assert.Equal(t, time.Second, info.Duration(2600))
	assert.Zero(t, info.Duration(0), "raw files carry no rate")

	path := filepath.Join(t.TempDir(), "capture.ziq")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ziq.NewWriter(f, ziq.Header{BitsPerSample: 16, SampleRate: 1000, Annotation: "L1 C/A"})
	require.NoError(t, err)
	_, err = w.Write(pattern(4000))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	info, err = source.Inspect(path, source.Options{})
	require.NoError(t, err)
	assert.Equal(t, source.ZIQ, info.Container)
	assert.Equal(t, iq.SC16, info.Format)
	assert.Equal(t, uint64(1000), info.SampleRate)
	assert.Equal(t, "L1 C/A", info.Annotation)
	assert.Equal(t, int64(1000), info.Pairs())
	assert.Equal(t, time.Second, info.Duration(0))

	_, err = source.Inspect(filepath.Join(t.TempDir(), "missing.bin"), source.Options{Format: iq.SC8})
	assert.ErrorIs(t, err, source.ErrNotFound)
}
