package sink_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jrwynneiii/iqtx/iq"
	"github.com/jrwynneiii/iqtx/sink"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		expected sink.Target
	}{
		{"", sink.Target{Kind: sink.Null}},
		{"null:", sink.Target{Kind: sink.Null}},
		{"/tmp/out.bin", sink.Target{Kind: sink.File, Address: "/tmp/out.bin"}},
		{"out.bin", sink.Target{Kind: sink.File, Address: "out.bin"}},
		{"file:///tmp/out.bin", sink.Target{Kind: sink.File, Address: "/tmp/out.bin"}},
		{"fifo:///tmp/hackrf.pipe", sink.Target{Kind: sink.Fifo, Address: "/tmp/hackrf.pipe"}},
		{"tcp://127.0.0.1:1234", sink.Target{Kind: sink.TCP, Address: "127.0.0.1:1234"}},
		{"mdns://bench%20hackrf", sink.Target{Kind: sink.MDNS, Address: "bench hackrf"}},
		{"serial:///dev/ttyACM0", sink.Target{Kind: sink.Serial, Address: "/dev/ttyACM0", Baud: sink.DefaultBaud}},
		{"serial:///dev/ttyUSB1?baud=921600", sink.Target{Kind: sink.Serial, Address: "/dev/ttyUSB1", Baud: 921600}},
	}
	for _, test := range tests {
		got, err := sink.ParseTarget(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.expected, got, test.in)
	}

	for _, bad := range []string{"tcp://nohostport", "udp://1.2.3.4:5", "serial:///dev/ttyS0?baud=fast", "fifo://"} {
		_, err := sink.ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func config(target string) sink.DeviceConfig {
	return sink.DeviceConfig{
		Path:        "gpssim.bin",
		SampleRate:  1e6,
		CenterFreq:  1575420000,
		FileFormat:  iq.SC8,
		WireFormat:  iq.SC8,
		Sink:        target,
		BufferPairs: 1 << 16,
	}
}

func TestOpenUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t)

	// grab a free port and give it back so nothing is listening
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	bad := config("null:")
	bad.SampleRate = 0
	for _, cfg := range []sink.DeviceConfig{
		config("tcp://" + addr),
		config("serial:///dev/iqtx-no-such-port"),
		config(filepath.Join(t.TempDir(), "missing", "out.bin")),
		config("udp://" + addr),
		bad,
	} {
		_, err := sink.Open(cfg)
		assert.ErrorIs(t, err, sink.ErrDeviceUnavailable, cfg.Sink)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cs8")
	s, err := sink.Open(config(path))
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4, 0xff, 0x80}
	require.NoError(t, s.Write(context.Background(), iq.Block{Data: data}))
	require.NoError(t, s.Close(time.Millisecond))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestTCPSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		received <- b
	}()

	s, err := sink.Open(config("tcp://" + l.Addr().String()))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Write(context.Background(), iq.Fill(iq.SC8, 256)))
	}
	require.NoError(t, s.Close(time.Second))

	select {
	case b := <-received:
		assert.Len(t, b, 4*256*2)
	case <-time.After(5 * time.Second):
		t.Fatal("tcp sink data never arrived")
	}
}

func TestNullSink(t *testing.T) {
	s, err := sink.Open(config("null:"))
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), iq.Fill(iq.SC8, 1024)))
	assert.Equal(t, uint64(1024), s.Pairs())
	assert.Equal(t, 1<<16, s.Capacity())
	require.NoError(t, s.Close(0))
}

func TestEndpointAddr(t *testing.T) {
	e := sink.Endpoint{Hostname: "bench.local.", Port: 5000}
	assert.Equal(t, "bench.local:5000", e.Addr())

	e.Addresses = []net.IP{net.ParseIP("192.168.1.20")}
	assert.Equal(t, "192.168.1.20:5000", e.Addr())
}
