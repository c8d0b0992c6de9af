package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/internal/protocol"
	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/transport"
	"github.com/pintubhai440/fileshare/pkg/types"
)

const waitTimeout = 10 * time.Second

var errDiskFailed = errors.New("simulated disk failure")

func testConfig() config.TransferConfig {
	cfg := config.DefaultTransferConfig()
	cfg.ChunkSize = 65_536
	cfg.HighWatermark = 1_000_000
	cfg.LowWatermark = 200_000
	cfg.FlushThreshold = 256 * 1024
	cfg.TelemetryInterval = 5 * time.Millisecond
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.SettleDelay = time.Millisecond
	cfg.SendRetryDelay = time.Millisecond
	return cfg
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newPipe(t *testing.T, rate float64) (*transport.PipeEnd, *transport.PipeEnd) {
	t.Helper()
	a, b := transport.NewPipe(transport.PipeOptions{Rate: rate})
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// startEndpoint runs an endpoint until the test ends
func startEndpoint(t *testing.T, ch transport.Channel, cfg config.TransferConfig, opts ...Option) *Endpoint {
	t.Helper()
	e, err := NewEndpoint(ch, cfg, append([]Option{WithLogger(quietLog())}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func sendCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/65_536)
	}
	return data
}

// memDisk is a DiskSink recording every write; it fails once failAt bytes were written
type memDisk struct {
	mu     sync.Mutex
	data   bytes.Buffer
	total  int
	writes int
	failAt int
	closed bool
}

func (d *memDisk) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	d.total += len(p)
	if d.failAt > 0 && d.data.Len()+len(p) > d.failAt {
		return 0, errDiskFailed
	}
	return d.data.Write(p)
}

func (d *memDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *memDisk) Salvage() (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return io.NopCloser(bytes.NewReader(append([]byte(nil), d.data.Bytes()...))), nil
}

func (d *memDisk) snapshot() (data []byte, total int, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data.Bytes()...), d.total, d.closed
}

func diskAcquirer(disk sink.DiskSink) sink.Acquirer {
	return sink.AcquirerFunc(func(ctx context.Context, desc types.FileDescriptor) (sink.DiskSink, error) {
		return disk, nil
	})
}

// recorder collects hook callbacks
type recorder struct {
	mu       sync.Mutex
	progress []Progress
	received chan Received
}

func newRecorder() *recorder {
	return &recorder{received: make(chan Received, 16)}
}

func (r *recorder) options() []Option {
	return []Option{
		OnProgress(func(p Progress) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		}),
		OnReceived(func(rc Received) { r.received <- rc }),
	}
}

func (r *recorder) samples(dir Direction) []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, p := range r.progress {
		if p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) nextReceived(t *testing.T) Received {
	t.Helper()
	select {
	case rc := <-r.received:
		return rc
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for received file")
		return Received{}
	}
}

// expectControl reads events from ch, skipping chunks, until a control message of type typ
func expectControl(t *testing.T, ch transport.Channel, typ protocol.MessageType) protocol.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-ch.Inbound():
			if c, ok := ev.(transport.Control); ok {
				if c.Message.Type == typ {
					return c.Message
				}
				t.Fatalf("expected %s, got %s", typ, c.Message.Type)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return protocol.Message{}
		}
	}
}

func countSent(trace []transport.TraceEntry, end string, typ protocol.MessageType) int {
	n := 0
	for _, e := range trace {
		if e.End == end && e.Kind == transport.TraceSent && e.Type == typ {
			n++
		}
	}
	return n
}

func chunkSizes(trace []transport.TraceEntry, end string) []int {
	var sizes []int
	for _, e := range trace {
		if e.End == end && e.Kind == transport.TraceSent && e.Type == "" {
			sizes = append(sizes, e.Size)
		}
	}
	return sizes
}
