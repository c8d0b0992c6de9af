package engine

// SenderState represents the current state of the sender in the transfer protocol
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderAwaitingReady
	SenderPumping
	SenderAwaitingAck
	SenderTerminal
)

// String returns the string representation of SenderState
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderAwaitingReady:
		return "AwaitingReady"
	case SenderPumping:
		return "Pumping"
	case SenderAwaitingAck:
		return "AwaitingAck"
	case SenderTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// ReceiverState represents the current state of the receiver in the transfer protocol
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverMetaReceived
	ReceiverAwaitingConfirmation
	ReceiverMotorActive
	ReceiverFallbackActive
	ReceiverFlushing
	ReceiverComplete
)

// String returns the string representation of ReceiverState
func (r ReceiverState) String() string {
	switch r {
	case ReceiverIdle:
		return "Idle"
	case ReceiverMetaReceived:
		return "MetaReceived"
	case ReceiverAwaitingConfirmation:
		return "AwaitingConfirmation"
	case ReceiverMotorActive:
		return "MotorActive"
	case ReceiverFallbackActive:
		return "FallbackActive"
	case ReceiverFlushing:
		return "Flushing"
	case ReceiverComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// active reports whether chunks are accepted in this state
func (r ReceiverState) active() bool {
	return r == ReceiverMotorActive || r == ReceiverFallbackActive
}
