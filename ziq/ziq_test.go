package ziq_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/ziq"
)

func writeCapture(t *testing.T, h ziq.Header, body []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.ziq")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ziq.NewWriter(f, h)
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestCapture(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i * 7)
	}
	tests := []struct {
		description string
		header      ziq.Header
		size        int64
	}{
		{
			description: "plain body",
			header:      ziq.Header{BitsPerSample: 8, SampleRate: 2600000, Annotation: "gpssim"},
			size:        int64(len(body)),
		},
		{
			description: "zstd body",
			header:      ziq.Header{Compressed: true, BitsPerSample: 16, SampleRate: 2048000},
			size:        -1,
		},
	}

	for _, test := range tests {
		path := writeCapture(t, test.header, body)
		z, err := ziq.Open(path)
		require.NoError(t, err, test.description)

		assert.Equal(t, ziq.Signature, z.Header.Signature, test.description)
		assert.Equal(t, test.header.Compressed, z.Header.Compressed, test.description)
		assert.Equal(t, test.header.SampleRate, z.Header.SampleRate, test.description)
		assert.Equal(t, test.header.Annotation, z.Header.Annotation, test.description)
		assert.Equal(t, test.size, z.BodySize(), test.description)

		got, err := io.ReadAll(z)
		require.NoError(t, err, test.description)
		assert.Equal(t, body, got, test.description)
		require.NoError(t, z.Close())
	}
}

func TestHeaderFormat(t *testing.T) {
	f, err := ziq.Header{BitsPerSample: 8}.Format()
	require.NoError(t, err)
	assert.Equal(t, iq.SC8, f)

	_, err = ziq.Header{BitsPerSample: 12}.Format()
	assert.Error(t, err)
}

func TestInvalidSignature(t *testing.T) {
	_, err := ziq.ReadHeader(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00")))
	assert.ErrorIs(t, err, ziq.ErrInvalidHeader)

	path := filepath.Join(t.TempDir(), "bad.ziq")
	require.NoError(t, os.WriteFile(path, []byte("ZIQ"), 0o644))
	_, err = ziq.Open(path)
	assert.Error(t, err)
}
