// Package engine drives file transfers over a transport.Channel. One Endpoint
// owns a sender, a receiver and a send queue; all of their state is touched
// only by the goroutine running Endpoint.Run.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/internal/flow"
	"github.com/pintubhai440/fileshare/internal/protocol"
	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/source"
	"github.com/pintubhai440/fileshare/internal/transport"
	"github.com/pintubhai440/fileshare/pkg/types"
)

const taskBuffer = 256

// Option configures an Endpoint
type Option func(*Endpoint)

// WithLogger sets the log entry used by the endpoint
func WithLogger(log *logrus.Entry) Option {
	return func(e *Endpoint) { e.log = log }
}

// WithClock replaces the time source used for telemetry
func WithClock(now func() time.Time) Option {
	return func(e *Endpoint) { e.now = now }
}

// WithAcquirer obtains disk sinks for inbound files when no offer handler is set
func WithAcquirer(a sink.Acquirer) Option {
	return func(e *Endpoint) { e.acquirer = a }
}

// WithSaver sets the function that writes a completed in-memory file to
// durable storage. It runs on the event loop before the sender is acknowledged,
// so a failed save cancels the transfer. It returns where the file was saved.
func WithSaver(fn func(desc types.FileDescriptor, art *sink.Artifact) (string, error)) Option {
	return func(e *Endpoint) { e.saver = fn }
}

// OnOffer registers a handler for inbound files. It runs on the event loop;
// Confirm must be called from another goroutine.
func OnOffer(fn func(Offer)) Option {
	return func(e *Endpoint) { e.onOffer = fn }
}

// OnReceived registers a handler called once per inbound session outcome
func OnReceived(fn func(Received)) Option {
	return func(e *Endpoint) { e.onReceived = fn }
}

// OnSent registers a handler called once per outbound file outcome
func OnSent(fn func(Result)) Option {
	return func(e *Endpoint) { e.onSent = fn }
}

// OnProgress registers a handler for telemetry samples in both directions
func OnProgress(fn func(Progress)) Option {
	return func(e *Endpoint) { e.onProgress = fn }
}

// Endpoint runs the transfer engine on one channel
type Endpoint struct {
	ch  transport.Channel
	cfg config.TransferConfig
	log *logrus.Entry
	now func() time.Time

	acquirer   sink.Acquirer
	saver      func(types.FileDescriptor, *sink.Artifact) (string, error)
	onOffer    func(Offer)
	onReceived func(Received)
	onSent     func(Result)
	onProgress func(Progress)

	tasks   chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context

	sender   *sender
	receiver *receiver
	queue    *queue
}

// NewEndpoint creates an endpoint on ch. Call Run to start processing.
func NewEndpoint(ch transport.Channel, cfg config.TransferConfig, opts ...Option) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer config: %w", err)
	}
	fc, err := flow.New(cfg.HighWatermark, cfg.LowWatermark, cfg.PollInterval)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		ch:     ch,
		cfg:    cfg,
		now:    time.Now,
		tasks:  make(chan func(), taskBuffer),
		done:   make(chan struct{}),
		runCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}

	e.sender = &sender{ep: e, flow: fc}
	e.receiver = &receiver{ep: e}
	e.queue = &queue{ep: e}
	return e, nil
}

// Run processes channel events, timers and I/O completions until ctx is done
// or the channel closes. Sessions still open when it returns are failed.
func (e *Endpoint) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)
	e.runCtx = ctx

	inbound := e.ch.Inbound()
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case ev, ok := <-inbound:
			if !ok {
				e.closed(nil)
				return nil
			}
			if c, isClosed := ev.(transport.Closed); isClosed {
				e.closed(c.Err)
				if c.Err != nil {
					return fmt.Errorf("%w: %v", ErrChannelClosed, c.Err)
				}
				return nil
			}
			e.dispatch(ev)
		case <-ctx.Done():
			e.queue.abort(ErrCancelled, true)
			e.receiver.cancelLocal()
			return ctx.Err()
		}
	}
}

// Send transfers srcs one at a time and returns one Result per source in order.
// Each source is closed once its result is recorded.
func (e *Endpoint) Send(ctx context.Context, srcs ...source.ByteSource) ([]Result, error) {
	results := make(chan []Result, 1)
	startErr := make(chan error, 1)

	if !e.postCtx(ctx, func() {
		if err := e.queue.start(srcs, func(r []Result) { results <- r }); err != nil {
			startErr <- err
		}
	}) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrClosed
	}

	select {
	case r := <-results:
		return r, nil
	case err := <-startErr:
		return nil, err
	case <-ctx.Done():
		e.CancelSend()
	case <-e.done:
		return finished(results)
	}

	// cancelled: wait for the queue to record the remaining sources
	select {
	case r := <-results:
		return r, ctx.Err()
	case err := <-startErr:
		return nil, err
	case <-e.done:
		return finished(results)
	}
}

// finished collects the results a stopped loop recorded before returning
func finished(results <-chan []Result) ([]Result, error) {
	select {
	case r := <-results:
		return r, nil
	default:
		return nil, ErrClosed
	}
}

// Confirm answers an Offer. A nil disk selects the in-memory fallback.
// If the offer is stale the disk is closed and ErrStaleSession returned.
func (e *Endpoint) Confirm(id uuid.UUID, disk sink.DiskSink) error {
	errc := make(chan error, 1)
	if !e.post(func() { errc <- e.receiver.confirm(id, disk) }) {
		if disk != nil {
			disk.Close()
		}
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-e.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	}
}

// CancelSend aborts the file being sent and every file still queued
func (e *Endpoint) CancelSend() {
	e.post(func() { e.queue.abort(ErrCancelled, true) })
}

// CancelReceive aborts the inbound session, if any
func (e *Endpoint) CancelReceive() {
	e.post(e.receiver.cancelLocal)
}

// Done is closed once Run has returned
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) dispatch(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Opened:
		e.log.Debug("Channel opened")
	case transport.Chunk:
		e.receiver.onChunk(ev.Data)
	case transport.Control:
		e.handleControl(ev.Message)
	}
}

func (e *Endpoint) handleControl(msg protocol.Message) {
	e.log.WithField("type", msg.Type).Debug("Control message received")

	switch msg.Type {
	case protocol.TypeMeta:
		e.receiver.onMeta(msg)
	case protocol.TypeReadyToReceive:
		e.sender.onReady(msg)
	case protocol.TypeEnd:
		e.receiver.onEnd(msg)
	case protocol.TypeTransferCompleteAck:
		e.sender.onAck(msg)
	case protocol.TypeCancelled:
		// The role names the side that cancelled, so it targets our other half.
		switch msg.Role {
		case protocol.RoleSender:
			e.receiver.onCancelled(msg)
		case protocol.RoleReceiver:
			e.sender.onCancelled(msg)
		default:
			e.receiver.onCancelled(msg)
			e.sender.onCancelled(msg)
		}
	}
}

func (e *Endpoint) closed(err error) {
	if err != nil {
		e.log.WithError(err).Warn("Channel closed with error")
	} else {
		e.log.Debug("Channel closed")
	}
	e.queue.abort(ErrChannelClosed, false)
	e.receiver.channelClosed()
}

func (e *Endpoint) progress(dir Direction, s *Session) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(Progress{Direction: dir, SessionID: s.ID, Descriptor: s.Descriptor, Sample: s.meter.Snapshot()})
}

// post queues fn for the event loop; it reports false once Run has returned
func (e *Endpoint) post(fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	case <-e.done:
		return false
	}
}

func (e *Endpoint) postCtx(ctx context.Context, fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	case <-e.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// after runs fn on the event loop once d has elapsed
func (e *Endpoint) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { e.post(fn) })
}

// goIO runs work off the loop and hands its result back to done on the loop
func goIO[T any](e *Endpoint, work func() (T, error), done func(T, error)) {
	go func() {
		v, err := work()
		if !e.post(func() { done(v, err) }) {
			if c, ok := any(v).(interface{ Close() error }); ok && err == nil {
				c.Close()
			}
		}
	}()
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
