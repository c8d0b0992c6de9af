package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintubhai440/fileshare/internal/protocol"
	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/source"
	"github.com/pintubhai440/fileshare/internal/telemetry"
	"github.com/pintubhai440/fileshare/pkg/types"
)

func TestTransferTenMegabytesToDisk(t *testing.T) {
	const size = 10_000_000
	cfg := testConfig()
	data := payload(size)
	a, b := newPipe(t, 100e6)

	disk := &memDisk{}
	rxRec, txRec := newRecorder(), newRecorder()
	startEndpoint(t, b, cfg, append(rxRec.options(), WithAcquirer(diskAcquirer(disk)))...)
	tx := startEndpoint(t, a, cfg, txRec.options()...)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("big.bin", "application/octet-stream", data))
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(size), res.Bytes)
	assert.Equal(t, 1, res.Attempts)
	assert.Greater(t, res.PeakThroughput, 0.0)

	rc := rxRec.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, sink.ModeMotor, rc.Mode)
	assert.False(t, rc.Degraded)
	assert.Equal(t, uint64(size), rc.Bytes)
	assert.Equal(t, "big.bin", rc.Descriptor.Name)

	written, total, closed := disk.snapshot()
	assert.True(t, closed)
	assert.Equal(t, size, total, "every byte written exactly once")
	assert.Equal(t, data, written)

	trace := a.Trace()
	sizes := chunkSizes(trace, "a")
	require.Len(t, sizes, 153)
	for _, n := range sizes[:152] {
		assert.Equal(t, cfg.ChunkSize, n)
	}
	assert.Equal(t, 38_528, sizes[152])
	assert.Equal(t, 1, countSent(trace, "a", protocol.TypeMeta))
	assert.Equal(t, 1, countSent(trace, "a", protocol.TypeEnd))
	assert.Equal(t, 1, countSent(trace, "b", protocol.TypeReadyToReceive))
	assert.Equal(t, 1, countSent(trace, "b", protocol.TypeTransferCompleteAck))

	assert.LessOrEqual(t, a.MaxPending(), cfg.HighWatermark+uint64(cfg.ChunkSize)+1024)

	for _, dir := range []Direction{Outbound, Inbound} {
		var samples []Progress
		if dir == Outbound {
			samples = txRec.samples(dir)
		} else {
			samples = rxRec.samples(dir)
		}
		require.NotEmpty(t, samples, dir.String())
		last := samples[len(samples)-1]
		assert.Equal(t, 100.0, last.Sample.Progress, dir.String())
		assert.True(t, last.Sample.Done)
		for i := 1; i < len(samples); i++ {
			assert.GreaterOrEqual(t, samples[i].Sample.Progress, samples[i-1].Sample.Progress)
		}
		for _, p := range samples[:len(samples)-1] {
			assert.LessOrEqual(t, p.Sample.Progress, telemetry.MaxInFlightProgress)
		}
	}
}

func TestTransferFallbackWithoutDisk(t *testing.T) {
	cfg := testConfig()
	cfg.CompressFallback = true
	data := payload(700_000)
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("mem.bin", "", data))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, sink.ModeFallback, rc.Mode)
	require.NotNil(t, rc.Artifact)
	got, err := rc.Artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestTransferEmptyFile(t *testing.T) {
	cfg := testConfig()
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("empty.txt", "text/plain", nil))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Zero(t, results[0].Bytes)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Zero(t, rc.Bytes)
	assert.Empty(t, chunkSizes(a.Trace(), "a"))
	assert.Equal(t, 1, countSent(a.Trace(), "a", protocol.TypeEnd))
}

func TestDiskFailureDegradesToMemory(t *testing.T) {
	const size = 10_000_000
	cfg := testConfig()
	data := payload(size)
	a, b := newPipe(t, 0)

	disk := &memDisk{failAt: 5_000_000}
	rx := newRecorder()
	startEndpoint(t, b, cfg, append(rx.options(), WithAcquirer(diskAcquirer(disk)))...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("big.bin", "", data))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.True(t, rc.Degraded)
	assert.Equal(t, sink.ModeFallback, rc.Mode)
	require.NotNil(t, rc.Artifact)
	got, err := rc.Artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got, "salvaged prefix plus buffered tail must be the whole file")
}

func TestDiskFailureTooLargeForMemory(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMemoryBytes = 1_000_000
	a, b := newPipe(t, 0)

	disk := &memDisk{failAt: 300_000}
	rx := newRecorder()
	startEndpoint(t, b, cfg, append(rx.options(), WithAcquirer(diskAcquirer(disk)))...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("big.bin", "", payload(2_000_000)))
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrCancelledByPeer)

	rc := rx.nextReceived(t)
	assert.ErrorIs(t, rc.Err, sink.ErrTooLarge)
}

func TestFallbackRejectsOversizedFile(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMemoryBytes = 1000
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("big.bin", "", payload(5000)))
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrCancelledByPeer)

	rc := rx.nextReceived(t)
	assert.ErrorIs(t, rc.Err, sink.ErrTooLarge)
	assert.Empty(t, chunkSizes(a.Trace(), "a"), "no chunk may be sent before ready")
}

func TestOfferConfirmedFromAnotherGoroutine(t *testing.T) {
	cfg := testConfig()
	data := payload(300_000)
	a, b := newPipe(t, 0)

	offers := make(chan Offer, 1)
	rx := newRecorder()
	receiver := startEndpoint(t, b, cfg, append(rx.options(), OnOffer(func(o Offer) { offers <- o }))...)
	tx := startEndpoint(t, a, cfg)

	type sent struct {
		results []Result
		err     error
	}
	ctx := sendCtx(t)
	done := make(chan sent, 1)
	go func() {
		r, err := tx.Send(ctx, source.NewBytesSource("photo.jpg", "image/jpeg", data))
		done <- sent{r, err}
	}()

	var offer Offer
	select {
	case offer = <-offers:
	case <-time.After(waitTimeout):
		t.Fatal("no offer")
	}
	assert.Equal(t, types.FileDescriptor{Name: "photo.jpg", Size: 300_000, MediaType: "image/jpeg"}, offer.Descriptor)

	disk := &memDisk{}
	require.NoError(t, receiver.Confirm(offer.SessionID, disk))

	late := &memDisk{}
	assert.ErrorIs(t, receiver.Confirm(offer.SessionID, late), ErrStaleSession)
	_, _, lateClosed := late.snapshot()
	assert.True(t, lateClosed)

	out := <-done
	require.NoError(t, out.err)
	require.NoError(t, out.results[0].Err)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, offer.SessionID, rc.SessionID)
	written, _, _ := disk.snapshot()
	assert.Equal(t, data, written)
}

func TestNewMetaSupersedesSession(t *testing.T) {
	cfg := testConfig()
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)

	require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "old.bin", Size: 5000})))
	expectControl(t, a, protocol.TypeReadyToReceive)
	require.NoError(t, a.SendChunk(make([]byte, 1000)))

	fresh := payload(3000)
	require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "new.bin", Size: 3000})))

	old := rx.nextReceived(t)
	assert.Equal(t, "old.bin", old.Descriptor.Name)
	assert.ErrorIs(t, old.Err, ErrSuperseded)
	assert.Equal(t, uint64(1000), old.Bytes)

	expectControl(t, a, protocol.TypeReadyToReceive)
	require.NoError(t, a.SendChunk(fresh))
	require.NoError(t, a.SendControl(protocol.End("")))

	ack := expectControl(t, a, protocol.TypeTransferCompleteAck)
	require.NotNil(t, ack.Received)
	assert.Equal(t, uint64(3000), *ack.Received)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, "new.bin", rc.Descriptor.Name)
	got, err := rc.Artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestReceiverIntegrityChecks(t *testing.T) {
	tests := []struct {
		name     string
		announce uint64
		send     int
		checksum string
		want     error
	}{
		{name: "checksum mismatch", announce: 10, send: 10, checksum: "deadbeef", want: ErrChecksumMismatch},
		{name: "short file", announce: 10, send: 5, want: ErrSizeMismatch},
		{name: "overflow", announce: 10, send: 20, want: ErrSizeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := newPipe(t, 0)
			rx := newRecorder()
			startEndpoint(t, b, testConfig(), rx.options()...)

			require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "f", Size: tt.announce})))
			expectControl(t, a, protocol.TypeReadyToReceive)
			require.NoError(t, a.SendChunk(payload(tt.send)))
			require.NoError(t, a.SendControl(protocol.End(tt.checksum)))

			msg := expectControl(t, a, protocol.TypeCancelled)
			assert.Equal(t, protocol.RoleReceiver, msg.Role)

			rc := rx.nextReceived(t)
			assert.ErrorIs(t, rc.Err, tt.want)
			assert.Nil(t, rc.Artifact)
		})
	}
}

func TestChunksOutsideSessionAreDropped(t *testing.T) {
	a, b := newPipe(t, 0)
	rx := newRecorder()
	startEndpoint(t, b, testConfig(), rx.options()...)

	require.NoError(t, a.SendChunk([]byte("stray")))
	require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "f", Size: 3})))
	expectControl(t, a, protocol.TypeReadyToReceive)
	require.NoError(t, a.SendChunk([]byte("abc")))
	require.NoError(t, a.SendControl(protocol.End("")))
	expectControl(t, a, protocol.TypeTransferCompleteAck)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	got, err := rc.Artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestHandshakeTimeoutRetriesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	cfg.HandshakeRetries = 1
	a, _ := newPipe(t, 0)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f", "", payload(100)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrHandshakeTimeout)
	assert.Equal(t, 2, results[0].Attempts)

	trace := a.Trace()
	assert.Equal(t, 2, countSent(trace, "a", protocol.TypeMeta))
	assert.Equal(t, 2, countSent(trace, "a", protocol.TypeCancelled))
	assert.Empty(t, chunkSizes(trace, "a"))
}

func TestStaleReadyAfterRetryIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.HandshakeRetries = 1
	data := payload(300_000)
	a, b := newPipe(t, 0)
	tx := startEndpoint(t, a, cfg)

	type sendResult struct {
		results []Result
		err     error
	}
	ctx := sendCtx(t)
	done := make(chan sendResult, 1)
	go func() {
		results, err := tx.Send(ctx, source.NewBytesSource("f", "", data))
		done <- sendResult{results, err}
	}()

	first := expectControl(t, b, protocol.TypeMeta)
	require.NotEmpty(t, first.ID)
	cancelled := expectControl(t, b, protocol.TypeCancelled)
	assert.Equal(t, first.ID, cancelled.ID)

	// the answer to the first announcement crosses the retry on the wire
	require.NoError(t, b.SendControl(protocol.ReadyToReceive().WithID(first.ID)))
	second := expectControl(t, b, protocol.TypeMeta)
	require.NotEqual(t, first.ID, second.ID)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, chunkSizes(a.Trace(), "a"), "no chunk may be sent before the retry is accepted")

	require.NoError(t, b.SendControl(protocol.ReadyToReceive().WithID(second.ID)))
	end := expectControl(t, b, protocol.TypeEnd)
	assert.Equal(t, second.ID, end.ID)

	require.NoError(t, b.SendControl(protocol.TransferCompleteAck(uint64(len(data))).WithID(first.ID)))
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("ack for the first announcement completed the second")
	default:
	}
	require.NoError(t, b.SendControl(protocol.TransferCompleteAck(uint64(len(data))).WithID(second.ID)))

	var got sendResult
	select {
	case got = <-done:
	case <-time.After(waitTimeout):
		t.Fatal("send did not finish")
	}
	require.NoError(t, got.err)
	require.Len(t, got.results, 1)
	require.NoError(t, got.results[0].Err)
	assert.Equal(t, 2, got.results[0].Attempts)
	assert.Equal(t, uint64(len(data)), got.results[0].Bytes)

	total := 0
	for _, n := range chunkSizes(a.Trace(), "a") {
		total += n
	}
	assert.Equal(t, len(data), total)
}

func TestReceiverEchoesAnnouncementID(t *testing.T) {
	a, b := newPipe(t, 0)
	rx := newRecorder()
	startEndpoint(t, b, testConfig(), rx.options()...)

	require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "f", Size: 3}).WithID("one")))
	assert.Equal(t, "one", expectControl(t, a, protocol.TypeReadyToReceive).ID)

	// a cancel for another announcement leaves the session alone
	require.NoError(t, a.SendControl(protocol.Cancelled(protocol.RoleSender, "old").WithID("zero")))
	require.NoError(t, a.SendChunk([]byte("abc")))
	require.NoError(t, a.SendControl(protocol.End("").WithID("one")))
	assert.Equal(t, "one", expectControl(t, a, protocol.TypeTransferCompleteAck).ID)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, uint64(3), rc.Bytes)
}

func TestSaverRunsBeforeAck(t *testing.T) {
	cfg := testConfig()
	data := payload(100_000)
	a, b := newPipe(t, 0)

	acksBeforeSave := -1
	saver := WithSaver(func(desc types.FileDescriptor, art *sink.Artifact) (string, error) {
		acksBeforeSave = countSent(b.Trace(), "b", protocol.TypeTransferCompleteAck)
		got, err := art.Bytes()
		assert.NoError(t, err)
		assert.Equal(t, data, got)
		return "/saved/" + desc.Name, nil
	})
	rx := newRecorder()
	startEndpoint(t, b, cfg, append(rx.options(), saver)...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f.bin", "", data))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	assert.Equal(t, "/saved/f.bin", rc.Location)
	assert.Zero(t, acksBeforeSave)
}

func TestSaverFailureCancelsSender(t *testing.T) {
	cfg := testConfig()
	a, b := newPipe(t, 0)

	saver := WithSaver(func(types.FileDescriptor, *sink.Artifact) (string, error) {
		return "", errors.New("disk full")
	})
	rx := newRecorder()
	startEndpoint(t, b, cfg, append(rx.options(), saver)...)
	tx := startEndpoint(t, a, cfg)

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f.bin", "", payload(1000)))
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrCancelledByPeer)

	rc := rx.nextReceived(t)
	assert.ErrorIs(t, rc.Err, ErrSaveFailed)
	assert.Empty(t, rc.Location)
	assert.Zero(t, countSent(b.Trace(), "b", protocol.TypeTransferCompleteAck))
}

func TestUnexpectedReadyIsIgnored(t *testing.T) {
	cfg := testConfig()
	a, b := newPipe(t, 0)
	startEndpoint(t, b, cfg)
	tx := startEndpoint(t, a, cfg)

	// stale readies from an earlier exchange must not start anything
	require.NoError(t, b.SendControl(protocol.ReadyToReceive()))
	require.NoError(t, b.SendControl(protocol.ReadyToReceive().WithID(uuid.NewString())))

	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f", "", payload(1000)))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, uint64(1000), results[0].Bytes)
}

func TestSendRetrySucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.SendRetries = 3
	data := payload(200_000)
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)
	tx := startEndpoint(t, a, cfg)

	a.FailNextChunks(2)
	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f", "", data))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	rc := rx.nextReceived(t)
	require.NoError(t, rc.Err)
	got, err := rc.Artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Len(t, chunkSizes(a.Trace(), "a"), 4)
}

func TestSendRetriesExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.SendRetries = 2
	a, b := newPipe(t, 0)

	rx := newRecorder()
	startEndpoint(t, b, cfg, rx.options()...)
	tx := startEndpoint(t, a, cfg)

	a.FailNextChunks(100)
	results, err := tx.Send(sendCtx(t), source.NewBytesSource("f", "", payload(200_000)))
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrSendFailed)
	assert.Zero(t, results[0].Bytes)

	trace := a.Trace()
	assert.Equal(t, 0, countSent(trace, "a", protocol.TypeEnd))
	assert.Equal(t, 1, countSent(trace, "a", protocol.TypeCancelled))

	rc := rx.nextReceived(t)
	assert.ErrorIs(t, rc.Err, ErrCancelledByPeer)
}

func TestReceiverChannelClosed(t *testing.T) {
	a, b := newPipe(t, 0)
	rx := newRecorder()
	receiver := startEndpoint(t, b, testConfig(), rx.options()...)

	require.NoError(t, a.SendControl(protocol.Meta(types.FileDescriptor{Name: "f", Size: 100})))
	expectControl(t, a, protocol.TypeReadyToReceive)
	require.NoError(t, a.SendChunk(payload(40)))
	require.NoError(t, a.Close())

	rc := rx.nextReceived(t)
	assert.ErrorIs(t, rc.Err, ErrChannelClosed)
	assert.Equal(t, uint64(40), rc.Bytes)

	select {
	case <-receiver.Done():
	case <-time.After(waitTimeout):
		t.Fatal("endpoint kept running after the channel closed")
	}
}

func TestRemoteCancelByReceiver(t *testing.T) {
	a, b := newPipe(t, 0)
	offers := make(chan Offer, 1)
	rx := startEndpoint(t, b, testConfig(), OnOffer(func(o Offer) { offers <- o }))
	tx := startEndpoint(t, a, testConfig())

	ctx := sendCtx(t)
	done := make(chan []Result, 1)
	go func() {
		r, _ := tx.Send(ctx, source.NewBytesSource("f", "", payload(1000)))
		done <- r
	}()

	select {
	case <-offers:
	case <-time.After(waitTimeout):
		t.Fatal("no offer")
	}
	rx.CancelReceive()

	select {
	case r := <-done:
		assert.ErrorIs(t, r[0].Err, ErrCancelledByPeer)
	case <-time.After(waitTimeout):
		t.Fatal("sender never saw the cancel")
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "AwaitingReady", SenderAwaitingReady.String())
	assert.Equal(t, "Terminal", SenderTerminal.String())
	assert.Equal(t, "Unknown", SenderState(99).String())
	assert.Equal(t, "MotorActive", ReceiverMotorActive.String())
	assert.Equal(t, "Flushing", ReceiverFlushing.String())
	assert.Equal(t, "Unknown", ReceiverState(-1).String())
	assert.Equal(t, "inbound", Inbound.String())
	assert.Equal(t, "outbound", Outbound.String())
}

func TestEndpointRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LowWatermark = cfg.HighWatermark + 1
	a, _ := newPipe(t, 0)
	_, err := NewEndpoint(a, cfg)
	assert.Error(t, err)
}
