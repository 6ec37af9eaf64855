//go:build linux

package sink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

const maxPipeSize = 1024 * 1024

// openFifo creates path as a named pipe if needed and opens its write end.
// The open does not wait for a reader: with nobody reading it fails with
// ENXIO.
func openFifo(path string) (io.WriteCloser, error) {
	if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("%s exists and is not a named pipe", path)
	}

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, fmt.Errorf("no reader on %s: %w", path, err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if size, err := unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, maxPipeSize); err == nil {
		log.Debugf("Pipe buffer of %s is %d bytes", path, size)
	}
	// left non-blocking so the runtime poller applies write deadlines
	return os.NewFile(uintptr(fd), path), nil
}
