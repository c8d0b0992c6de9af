package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintubhai440/fileshare/internal/protocol"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func loopbackPeer(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	pc, err := webrtc.NewAPI(webrtc.WithSettingEngine(se)).NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	return pc
}

// negotiate exchanges fully gathered descriptions between the two peers
func negotiate(t *testing.T, offerer, answerer *webrtc.PeerConnection) {
	t.Helper()
	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(offerer)
	require.NoError(t, offerer.SetLocalDescription(offer))
	<-gathered
	require.NoError(t, answerer.SetRemoteDescription(*offerer.LocalDescription()))

	answer, err := answerer.CreateAnswer(nil)
	require.NoError(t, err)
	gathered = webrtc.GatheringCompletePromise(answerer)
	require.NoError(t, answerer.SetLocalDescription(answer))
	<-gathered
	require.NoError(t, offerer.SetRemoteDescription(*answerer.LocalDescription()))
}

func connectedPair(t *testing.T, buffer int) (*DataChannel, *DataChannel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	local, remotePC := loopbackPeer(t), loopbackPeer(t)
	ch, err := Open(local, "fileTransfer", buffer, quietLog())
	require.NoError(t, err)
	accepted := Listen(remotePC, buffer, quietLog())
	negotiate(t, local, remotePC)

	require.NoError(t, ch.WaitOpen(ctx))
	var remote *DataChannel
	select {
	case remote = <-accepted:
	case <-ctx.Done():
		t.Fatal("remote never saw the data channel")
	}
	require.NoError(t, remote.WaitOpen(ctx))
	return ch, remote
}

func TestDataChannelCarriesControlAndChunks(t *testing.T) {
	ch, remote := connectedPair(t, 16)
	t.Cleanup(func() { ch.Close(); remote.Close() })

	require.NoError(t, ch.SendControl(protocol.ReadyToReceive().WithID("one")))
	require.NoError(t, ch.SendChunk([]byte{1, 2, 3}))

	var got []Event
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-remote.Inbound():
			if _, ok := ev.(Opened); ok {
				continue
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out waiting for messages")
		}
	}
	ctrl, ok := got[0].(Control)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeReadyToReceive, ctrl.Message.Type)
	assert.Equal(t, "one", ctrl.Message.ID)
	assert.Equal(t, Chunk{Data: []byte{1, 2, 3}}, got[1])
}

func TestDataChannelCloseWithFullInbound(t *testing.T) {
	ch, remote := connectedPair(t, 1)
	t.Cleanup(func() { ch.Close() })

	// nobody drains remote, so its read loop ends up blocked handing over events
	for i := 0; i < 8; i++ {
		require.NoError(t, ch.SendChunk([]byte{byte(i)}))
	}
	time.Sleep(200 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- remote.Close() }()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind an undrained inbound queue")
	}
}
