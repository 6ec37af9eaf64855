package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"gpssim.bin", "capture.ziq", "notes.txt", "IQ.WAV"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old.bin"), 0o755))
	extra := filepath.Join(t.TempDir(), "samples.dat")
	require.NoError(t, os.WriteFile(extra, nil, 0o644))

	files, err := collectFiles([]string{dir, extra})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "IQ.WAV"),
		filepath.Join(dir, "capture.ziq"),
		filepath.Join(dir, "gpssim.bin"),
		extra,
	}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
