// Package protocol defines the control messages exchanged over the data channel.
// Control messages travel as JSON text frames; file content travels as raw
// binary frames with no envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pintubhai440/fileshare/pkg/types"
)

// MessageType represents the type of control message sent over the data channel
type MessageType string

const (
	TypeMeta                MessageType = "meta"
	TypeReadyToReceive      MessageType = "ready_to_receive"
	TypeEnd                 MessageType = "end"
	TypeTransferCompleteAck MessageType = "transfer_complete_ack"
	TypeCancelled           MessageType = "transfer_cancelled"
)

// Role identifies which side of a transfer cancelled it
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

var (
	ErrUnknownType = errors.New("unknown control message type")
	ErrMalformed   = errors.New("malformed control message")
)

// Message is the control envelope. Only the fields relevant to Type are set.
type Message struct {
	Type MessageType           `json:"type"`
	Meta *types.FileDescriptor `json:"meta,omitempty"`
	// ID names the announcement a message belongs to. The sender sets it on
	// meta and the receiver echoes it on everything it answers with.
	ID string `json:"id,omitempty"`

	// Checksum is the hex blake2b-256 of the file content, carried by end
	Checksum string `json:"checksum,omitempty"`
	// Received is the byte count persisted by the receiver, carried by transfer_complete_ack
	Received *uint64 `json:"received,omitempty"`
	// Role and Reason are carried by transfer_cancelled
	Role   Role   `json:"role,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Meta announces a file
func Meta(desc types.FileDescriptor) Message {
	return Message{Type: TypeMeta, Meta: &desc}
}

// ReadyToReceive tells the sender it may start pumping chunks
func ReadyToReceive() Message {
	return Message{Type: TypeReadyToReceive}
}

// End terminates the binary stream of the current file
func End(checksum string) Message {
	return Message{Type: TypeEnd, Checksum: checksum}
}

// TransferCompleteAck confirms that all bytes of the current file are persisted
func TransferCompleteAck(received uint64) Message {
	return Message{Type: TypeTransferCompleteAck, Received: &received}
}

// Cancelled aborts the current file
func Cancelled(role Role, reason string) Message {
	return Message{Type: TypeCancelled, Role: role, Reason: reason}
}

// WithID tags the message with an announcement id
func (m Message) WithID(id string) Message {
	m.ID = id
	return m
}

func (m Message) String() string {
	switch m.Type {
	case TypeMeta:
		if m.Meta != nil {
			return fmt.Sprintf("%s(%s)", m.Type, m.Meta)
		}
	case TypeCancelled:
		if m.Role != "" {
			return fmt.Sprintf("%s(%s: %s)", m.Type, m.Role, m.Reason)
		}
	}
	return string(m.Type)
}

// Validate checks that the message is well formed for its type
func (m Message) Validate() error {
	switch m.Type {
	case TypeMeta:
		if m.Meta == nil {
			return fmt.Errorf("%w: meta without descriptor", ErrMalformed)
		}
		if err := m.Meta.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case TypeReadyToReceive, TypeEnd, TypeTransferCompleteAck:
	case TypeCancelled:
		switch m.Role {
		case "", RoleSender, RoleReceiver:
		default:
			return fmt.Errorf("%w: unknown role %q", ErrMalformed, m.Role)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Encode serializes a control message for transmission
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// Decode parses a control message received from the peer
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
