package transport

import (
	"sync"
	"time"

	"github.com/pintubhai440/fileshare/internal/protocol"
)

// PipeOptions configures an in-memory channel pair
type PipeOptions struct {
	// Rate is the number of bytes per second each direction drains; 0 is unlimited
	Rate float64
	// EventBuffer is the capacity of each inbound event queue
	EventBuffer int
}

// TraceKind distinguishes the two points at which a frame is traced
type TraceKind string

const (
	TraceSent      TraceKind = "sent"
	TraceDelivered TraceKind = "delivered"
)

// TraceEntry records one frame crossing the pipe. Type is empty for chunks.
type TraceEntry struct {
	End  string
	Kind TraceKind
	Type protocol.MessageType
	Size int
}

type pipeTrace struct {
	mu      sync.Mutex
	entries []TraceEntry
}

func (t *pipeTrace) add(e TraceEntry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

type frame struct {
	event Event
	size  int
	close bool
}

// PipeEnd is one side of an in-memory Channel pair. Frames are delivered to the
// peer in order by a goroutine that models the transport draining its buffer.
type PipeEnd struct {
	name  string
	peer  *PipeEnd
	trace *pipeTrace
	rate  float64

	inbound  chan Event
	released chan struct{}
	wake     chan struct{}

	mu         sync.Mutex
	queue      []frame
	pending    uint64
	maxPending uint64
	failChunks int
	closed     bool
}

// NewPipe returns two connected channel ends named "a" and "b"
func NewPipe(opts PipeOptions) (*PipeEnd, *PipeEnd) {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	trace := &pipeTrace{}
	a := newPipeEnd("a", trace, opts)
	b := newPipeEnd("b", trace, opts)
	a.peer, b.peer = b, a

	go a.deliver()
	go b.deliver()
	return a, b
}

func newPipeEnd(name string, trace *pipeTrace, opts PipeOptions) *PipeEnd {
	return &PipeEnd{
		name:     name,
		trace:    trace,
		rate:     opts.Rate,
		inbound:  make(chan Event, opts.EventBuffer),
		released: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Name returns "a" or "b"
func (p *PipeEnd) Name() string { return p.name }

// SendControl round-trips msg through the wire codec and queues it
func (p *PipeEnd) SendControl(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	return p.enqueue(frame{event: Control{Message: decoded}, size: len(data)}, msg.Type)
}

// SendChunk copies data and queues it
func (p *PipeEnd) SendChunk(data []byte) error {
	p.mu.Lock()
	if p.failChunks > 0 {
		p.failChunks--
		p.mu.Unlock()
		return ErrSendRejected
	}
	p.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	return p.enqueue(frame{event: Chunk{Data: cp}, size: len(cp)}, "")
}

func (p *PipeEnd) PendingBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// MaxPending returns the highest PendingBytes value observed
func (p *PipeEnd) MaxPending() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxPending
}

// FailNextChunks makes the next n SendChunk calls fail with ErrSendRejected
func (p *PipeEnd) FailNextChunks(n int) {
	p.mu.Lock()
	p.failChunks = n
	p.mu.Unlock()
}

func (p *PipeEnd) Inbound() <-chan Event { return p.inbound }

// Trace returns every frame sent or delivered by either end, in order
func (p *PipeEnd) Trace() []TraceEntry {
	p.trace.mu.Lock()
	defer p.trace.mu.Unlock()
	return append([]TraceEntry(nil), p.trace.entries...)
}

// Close stops delivery into this end. Frames already queued are still
// delivered to the peer, followed by a Closed event.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = append(p.queue, frame{close: true})
	p.mu.Unlock()

	close(p.released)
	p.signal()
	return nil
}

func (p *PipeEnd) enqueue(f frame, typ protocol.MessageType) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, f)
	p.pending += uint64(f.size)
	if p.pending > p.maxPending {
		p.maxPending = p.pending
	}
	p.trace.add(TraceEntry{End: p.name, Kind: TraceSent, Type: typ, Size: f.size})
	p.mu.Unlock()

	p.signal()
	return nil
}

func (p *PipeEnd) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PipeEnd) pop() (frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return frame{}, false
	}
	f := p.queue[0]
	p.queue[0] = frame{}
	p.queue = p.queue[1:]
	return f, true
}

// deliver moves queued frames into the peer's inbound queue at the configured rate
func (p *PipeEnd) deliver() {
	var next time.Time
	for {
		f, ok := p.pop()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-p.peer.released:
				return
			}
		}

		if f.close {
			p.peer.push(Closed{})
			return
		}

		if p.rate > 0 && f.size > 0 {
			now := time.Now()
			if next.Before(now) {
				next = now
			}
			next = next.Add(time.Duration(float64(f.size) / p.rate * float64(time.Second)))
			if wait := time.Until(next); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-p.peer.released:
					timer.Stop()
					return
				}
			}
		}

		var typ protocol.MessageType
		if c, ok := f.event.(Control); ok {
			typ = c.Message.Type
		}
		p.trace.add(TraceEntry{End: p.peer.name, Kind: TraceDelivered, Type: typ, Size: f.size})
		if !p.peer.push(f.event) {
			return
		}

		p.mu.Lock()
		p.pending -= uint64(f.size)
		p.mu.Unlock()
	}
}

// push hands ev to this end's consumer unless the end has been closed
func (p *PipeEnd) push(ev Event) bool {
	select {
	case p.inbound <- ev:
		return true
	case <-p.released:
		return false
	}
}
