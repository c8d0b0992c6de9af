package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/protocol"
)

// DataChannel adapts a pion data channel to Channel. Text frames carry
// control messages, binary frames carry chunks.
type DataChannel struct {
	dc     *webrtc.DataChannel
	events chan Event
	done   chan struct{}
	opened chan struct{}
	gone   chan struct{}
	log    *logrus.Entry

	closeOnce  sync.Once
	closedOnce sync.Once
	openOnce   sync.Once
}

// Open creates an ordered data channel on pc
func Open(pc *webrtc.PeerConnection, label string, buffer int, log *logrus.Entry) (*DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return Wrap(dc, buffer, log), nil
}

// Listen registers for the first data channel the remote peer opens on pc.
// Call it before signalling completes.
func Listen(pc *webrtc.PeerConnection, buffer int, log *logrus.Entry) <-chan *DataChannel {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	accepted := make(chan *DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := Wrap(dc, buffer, log)
		select {
		case accepted <- ch:
			log.Infof("Received data channel: %s", dc.Label())
		default:
			log.Warnf("Ignoring extra data channel: %s", dc.Label())
			ch.Close()
		}
	})
	return accepted
}

// Accept waits for the remote peer to open a data channel on pc
func Accept(ctx context.Context, pc *webrtc.PeerConnection, buffer int, log *logrus.Entry) (*DataChannel, error) {
	select {
	case ch := <-Listen(pc, buffer, log):
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wrap registers the event handlers on dc. It must run before dc opens or
// inbound messages may be missed.
func Wrap(dc *webrtc.DataChannel, buffer int, log *logrus.Entry) *DataChannel {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &DataChannel{
		dc:     dc,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		opened: make(chan struct{}),
		gone:   make(chan struct{}),
		log:    log.WithField("channel", dc.Label()),
	}

	dc.OnOpen(func() {
		c.log.Debug("Data channel opened")
		c.markOpen()
	})
	dc.OnClose(func() {
		c.log.Debug("Data channel closed")
		c.pushClosed(nil)
	})
	dc.OnError(func(err error) {
		c.log.WithError(err).Warn("Data channel error")
		c.pushClosed(err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			c.push(Chunk{Data: msg.Data})
			return
		}
		parsed, err := protocol.Decode(msg.Data)
		if err != nil {
			c.log.WithError(err).Warn("Dropping malformed control message")
			return
		}
		c.push(Control{Message: parsed})
	})

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.markOpen()
	}
	return c
}

func (c *DataChannel) markOpen() {
	c.openOnce.Do(func() {
		close(c.opened)
		c.push(Opened{})
	})
}

// WaitOpen blocks until the channel is open
func (c *DataChannel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.gone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *DataChannel) SendControl(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendRejected, err)
	}
	return nil
}

func (c *DataChannel) SendChunk(data []byte) error {
	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSendRejected, err)
	}
	return nil
}

func (c *DataChannel) PendingBytes() uint64 {
	return c.dc.BufferedAmount()
}

func (c *DataChannel) Inbound() <-chan Event {
	return c.events
}

// Close stops event delivery, then flushes queued data and closes the channel.
// Delivery stops first so a read loop parked in push can exit while
// GracefulClose waits for it.
func (c *DataChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.dc.ReadyState() == webrtc.DataChannelStateOpen {
			err = c.dc.GracefulClose()
		}
	})
	return err
}

// push blocks pion's read loop while the consumer is behind, preserving order
func (c *DataChannel) push(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *DataChannel) pushClosed(err error) {
	c.closedOnce.Do(func() {
		close(c.gone)
		c.push(Closed{Err: err})
	})
}
