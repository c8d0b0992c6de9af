package transport

import (
	"errors"

	"github.com/pintubhai440/fileshare/internal/protocol"
)

var (
	ErrClosed       = errors.New("channel is closed")
	ErrSendRejected = errors.New("channel rejected send")
)

// Channel is the duplex, ordered, message framed link between two endpoints.
// Control messages and binary chunks share one ordered stream.
type Channel interface {
	SendControl(msg protocol.Message) error
	SendChunk(data []byte) error
	// PendingBytes is the advisory count of outbound bytes not yet flushed
	PendingBytes() uint64
	// Inbound delivers events in arrival order. Chunk data is owned by the receiver.
	Inbound() <-chan Event
	Close() error
}

// Event is one inbound occurrence on a Channel
type Event interface {
	isEvent()
}

// Opened reports that the channel became usable
type Opened struct{}

// Control carries a decoded control message
type Control struct {
	Message protocol.Message
}

// Chunk carries one raw binary frame
type Chunk struct {
	Data []byte
}

// Closed reports that the channel is gone; Err is nil on an orderly close
type Closed struct {
	Err error
}

func (Opened) isEvent()  {}
func (Control) isEvent() {}
func (Chunk) isEvent()   {}
func (Closed) isEvent()  {}
