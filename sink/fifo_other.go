//go:build !linux

package sink

import (
	"errors"
	"io"
)

func openFifo(path string) (io.WriteCloser, error) {
	return nil, errors.New("fifo sinks are only supported on linux")
}
