package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Kind is the transport a sink target resolves to.
type Kind int

const (
	Null Kind = iota
	File
	Fifo
	TCP
	MDNS
	Serial
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case File:
		return "file"
	case Fifo:
		return "fifo"
	case TCP:
		return "tcp"
	case MDNS:
		return "mdns"
	case Serial:
		return "serial"
	}
	return "unknown"
}

const (
	DefaultBaud = 115200
	dialTimeout = 5 * time.Second
	// browseTimeout bounds the mdns lookup of a named sink.
	browseTimeout = 3 * time.Second
)

// Target is a parsed sink URI.
//
//	null:                        discard
//	/path/out.bin, file:///path  raw file
//	fifo:///path                 named pipe
//	tcp://host:port              stream socket
//	mdns://instance              _iqsink._tcp service found by mdns
//	serial:///dev/ttyACM0?baud=N serial port
type Target struct {
	Kind    Kind
	Address string
	Baud    int
}

func (t Target) String() string {
	switch t.Kind {
	case Null:
		return "null:"
	case Serial:
		return fmt.Sprintf("serial://%s?baud=%d", t.Address, t.Baud)
	}
	return t.Kind.String() + "://" + t.Address
}

// ParseTarget parses a sink URI. An empty string is the null sink and a
// string without a scheme is a file path.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" || s == "null:" {
		return Target{Kind: Null}, nil
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Target{Kind: File, Address: s}, nil
	}
	if rest == "" {
		return Target{}, fmt.Errorf("sink %q has no address", s)
	}
	switch strings.ToLower(scheme) {
	case "file":
		return Target{Kind: File, Address: rest}, nil
	case "fifo":
		return Target{Kind: Fifo, Address: rest}, nil
	case "tcp":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Target{}, fmt.Errorf("sink %q: %w", s, err)
		}
		return Target{Kind: TCP, Address: rest}, nil
	case "mdns":
		name, err := url.PathUnescape(rest)
		if err != nil {
			return Target{}, fmt.Errorf("sink %q: %w", s, err)
		}
		return Target{Kind: MDNS, Address: name}, nil
	case "serial":
		path, query, _ := strings.Cut(rest, "?")
		t := Target{Kind: Serial, Address: path, Baud: DefaultBaud}
		values, err := url.ParseQuery(query)
		if err != nil {
			return Target{}, fmt.Errorf("sink %q: %w", s, err)
		}
		if b := values.Get("baud"); b != "" {
			if t.Baud, err = strconv.Atoi(b); err != nil || t.Baud <= 0 {
				return Target{}, fmt.Errorf("sink %q: invalid baud rate %q", s, b)
			}
		}
		return t, nil
	}
	return Target{}, fmt.Errorf("unknown sink scheme %q", scheme)
}

func (t Target) open() (io.WriteCloser, error) {
	switch t.Kind {
	case Null:
		return discard{}, nil
	case File:
		return os.OpenFile(t.Address, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case Fifo:
		return openFifo(t.Address)
	case TCP:
		return net.DialTimeout("tcp", t.Address, dialTimeout)
	case MDNS:
		return dialService(t.Address)
	case Serial:
		return openSerial(t.Address, t.Baud)
	}
	return nil, fmt.Errorf("no transport for %s", t.Kind)
}

func dialService(instance string) (io.WriteCloser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), browseTimeout)
	defer cancel()
	endpoints, err := Discover(ctx, Service)
	if err != nil {
		return nil, err
	}
	for _, e := range endpoints {
		if e.Instance == instance {
			return net.DialTimeout("tcp", e.Addr(), dialTimeout)
		}
	}
	return nil, fmt.Errorf("no %s service named %q found", Service, instance)
}

// serialPort adds a drain on close so queued bytes reach the wire.
type serialPort struct {
	serial.Port
}

func (p serialPort) Close() error {
	return errors.Join(p.Port.Drain(), p.Port.Close())
}

// Abort closes the port without waiting for queued bytes.
func (p serialPort) Abort() error {
	return p.Port.Close()
}

func openSerial(path string, baud int) (io.WriteCloser, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortNotFound {
			return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}
	return serialPort{port}, nil
}
