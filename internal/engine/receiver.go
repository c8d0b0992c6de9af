package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/protocol"
	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/telemetry"
)

type recvSession struct {
	*Session
	remote        string // announcement id from the sender's meta
	strategy      sink.Strategy
	degraded      bool
	cancelAcquire context.CancelFunc
	log           *logrus.Entry
}

// receiver reassembles one inbound file at a time
type receiver struct {
	ep    *Endpoint
	state ReceiverState
	sess  *recvSession
}

func (r *receiver) setState(next ReceiverState) {
	if r.state == next {
		return
	}
	r.ep.log.Debugf("Receiver state: %s -> %s", r.state, next)
	r.state = next
}

// onMeta opens a new session. A Meta arriving mid-session implicitly cancels the old one.
func (r *receiver) onMeta(msg protocol.Message) {
	desc := *msg.Meta
	if r.sess != nil {
		r.sess.log.Warn("New file announced before the previous one finished, discarding it")
		r.abort(ErrSuperseded)
	}

	sess := &recvSession{Session: newSession(desc, r.ep.now()), remote: msg.ID}
	sess.log = r.ep.log.WithFields(sess.fields())
	r.sess = sess
	r.setState(ReceiverMetaReceived)
	sess.log.WithField("size", desc.Size).Info("Incoming file")

	r.setState(ReceiverAwaitingConfirmation)
	switch {
	case r.ep.onOffer != nil:
		r.ep.onOffer(Offer{SessionID: sess.ID, Descriptor: desc})
	case r.ep.acquirer != nil:
		ctx, cancel := context.WithCancel(r.ep.runCtx)
		sess.cancelAcquire = cancel
		acquirer := r.ep.acquirer
		goIO(r.ep, func() (sink.DiskSink, error) {
			return acquirer.Acquire(ctx, desc)
		}, func(disk sink.DiskSink, err error) {
			cancel()
			if err != nil {
				sess.log.WithError(err).Info("No disk sink available, receiving into memory")
				disk = nil
			}
			if cerr := r.confirm(sess.ID, disk); cerr != nil && !errors.Is(cerr, ErrStaleSession) {
				sess.log.WithError(cerr).Warn("Confirmation failed")
			}
		})
	default:
		r.confirm(sess.ID, nil)
	}
}

// confirm selects the strategy for the session and lets the sender start
func (r *receiver) confirm(id uuid.UUID, disk sink.DiskSink) error {
	sess := r.sess
	if sess == nil || sess.ID != id || r.state != ReceiverAwaitingConfirmation {
		if disk != nil {
			discard(disk)
		}
		return ErrStaleSession
	}
	if sess.cancelAcquire != nil {
		sess.cancelAcquire()
		sess.cancelAcquire = nil
	}

	cfg := r.ep.cfg
	if disk == nil {
		if cfg.MaxMemoryBytes > 0 && sess.Descriptor.Size > cfg.MaxMemoryBytes {
			err := fmt.Errorf("%w: %d bytes exceeds the %d byte memory limit", sink.ErrTooLarge, sess.Descriptor.Size, cfg.MaxMemoryBytes)
			r.cancelWith(err, sink.ErrTooLarge.Error())
			return err
		}
		sess.strategy = sink.NewMemorySink(cfg.MaxMemoryBytes, cfg.CompressFallback)
		r.setState(ReceiverFallbackActive)
	} else {
		sess.strategy = sink.NewStreamingSink(disk, cfg.FlushThreshold)
		r.setState(ReceiverMotorActive)
	}
	sess.StartedAt = r.ep.now()
	sess.meter = telemetry.NewMeter(sess.Descriptor.Size, cfg.TelemetryInterval, cfg.ThroughputWindow, r.ep.now)

	sess.log.WithField("mode", sess.strategy.Mode()).Info("Ready to receive")
	if err := r.ep.ch.SendControl(protocol.ReadyToReceive().WithID(sess.remote)); err != nil {
		sess.log.WithError(err).Warn("Failed to send ready_to_receive")
	}
	return nil
}

func (r *receiver) onChunk(data []byte) {
	if !r.state.active() {
		r.ep.log.WithFields(logrus.Fields{
			"state": r.state,
			"bytes": len(data),
		}).Warn("Dropping chunk outside an active session")
		return
	}
	sess := r.sess

	if received := sess.Bytes() + uint64(len(data)); received > sess.Descriptor.Size {
		r.cancelWith(fmt.Errorf("%w: %d bytes received, %d announced", ErrSizeMismatch, received, sess.Descriptor.Size), "more bytes than announced")
		return
	}

	sess.hash.Write(data)
	if err := sess.strategy.Append(data); err != nil {
		if !errors.Is(err, sink.ErrSinkWrite) {
			r.cancelWith(err, err.Error())
			return
		}
		if !r.degrade(err) {
			return
		}
	}

	if _, sampled := sess.meter.Add(len(data)); sampled {
		r.ep.progress(Inbound, sess.Session)
	}
}

// degrade moves a failing motor session into memory. It reports false after failing the session.
func (r *receiver) degrade(cause error) bool {
	sess := r.sess
	streaming, ok := sess.strategy.(*sink.StreamingSink)
	if !ok {
		r.cancelWith(cause, cause.Error())
		return false
	}
	sess.log.WithError(cause).Warn("Disk sink failed, continuing in memory")

	cfg := r.ep.cfg
	if cfg.MaxMemoryBytes > 0 && sess.Descriptor.Size > cfg.MaxMemoryBytes {
		err := fmt.Errorf("%w: disk failed and %d bytes exceeds the memory limit", sink.ErrTooLarge, sess.Descriptor.Size)
		r.cancelWith(err, sink.ErrTooLarge.Error())
		return false
	}

	mem, err := streaming.Degrade(cfg.MaxMemoryBytes, cfg.CompressFallback)
	if err != nil {
		r.cancelWith(err, "disk sink failed")
		return false
	}
	sess.strategy = mem
	sess.degraded = true
	r.setState(ReceiverFallbackActive)
	return true
}

func (r *receiver) onEnd(msg protocol.Message) {
	if !r.state.active() {
		r.ep.log.WithField("state", r.state).Warn("Ignoring end outside an active session")
		return
	}
	sess := r.sess
	r.setState(ReceiverFlushing)

	art, err := sess.strategy.Finish()
	if err != nil && errors.Is(err, sink.ErrSinkWrite) {
		if !r.degrade(err) {
			return
		}
		art, err = sess.strategy.Finish()
	}
	if err != nil {
		r.cancelWith(err, "failed to persist file")
		return
	}

	if received := sess.Bytes(); received != sess.Descriptor.Size {
		r.cancelWith(fmt.Errorf("%w: %d bytes received, %d announced", ErrSizeMismatch, received, sess.Descriptor.Size), "size mismatch")
		return
	}
	if r.ep.cfg.VerifyChecksum && msg.Checksum != "" && msg.Checksum != sess.checksum() {
		r.cancelWith(ErrChecksumMismatch, "checksum mismatch")
		return
	}

	location, err := r.save(sess, art)
	if err != nil {
		r.cancelWith(fmt.Errorf("%w: %v", ErrSaveFailed, err), "failed to save file")
		return
	}

	final := sess.meter.Complete()
	r.ep.progress(Inbound, sess.Session)
	r.sess = nil
	r.setState(ReceiverComplete)

	if err := r.ep.ch.SendControl(protocol.TransferCompleteAck(final.Bytes).WithID(sess.remote)); err != nil {
		sess.log.WithError(err).Warn("Failed to send transfer_complete_ack")
	}
	sess.log.WithFields(logrus.Fields{
		"bytes":    final.Bytes,
		"mode":     art.Mode,
		"degraded": sess.degraded,
	}).Info("File received")

	r.report(sess, final, art, location, nil)
}

// save hands a finished in-memory artifact to the saver. Streamed files are
// already in place.
func (r *receiver) save(sess *recvSession, art *sink.Artifact) (string, error) {
	if art.Mode == sink.ModeMotor {
		return art.Path, nil
	}
	if r.ep.saver == nil {
		return "", nil
	}
	return r.ep.saver(sess.Descriptor, art)
}

func (r *receiver) onCancelled(msg protocol.Message) {
	if r.sess == nil {
		return
	}
	if msg.ID != "" && msg.ID != r.sess.remote {
		r.sess.log.WithField("id", msg.ID).Debug("Ignoring cancel for another announcement")
		return
	}
	r.sess.log.WithField("reason", msg.Reason).Warn("Sender cancelled the transfer")
	r.abort(fmt.Errorf("%w: %s", ErrCancelledByPeer, msg.Reason))
}

// cancelLocal aborts the inbound session and tells the sender
func (r *receiver) cancelLocal() {
	if r.sess == nil {
		return
	}
	r.cancelWith(ErrCancelled, "cancelled by receiver")
}

func (r *receiver) channelClosed() {
	if r.sess != nil {
		r.abort(ErrChannelClosed)
	}
}

func (r *receiver) cancelWith(err error, reason string) {
	if sendErr := r.ep.ch.SendControl(protocol.Cancelled(protocol.RoleReceiver, reason).WithID(r.sess.remote)); sendErr != nil {
		r.sess.log.WithError(sendErr).Debug("Failed to send cancel")
	}
	r.abort(err)
}

// abort discards buffers, releases the sink and reports the failed session
func (r *receiver) abort(err error) {
	sess := r.sess
	if sess.cancelAcquire != nil {
		sess.cancelAcquire()
	}
	if sess.strategy != nil {
		sess.strategy.Abort()
	}
	r.sess = nil
	r.setState(ReceiverIdle)

	var sample telemetry.Sample
	if sess.meter != nil {
		sample = sess.meter.Snapshot()
	}
	sess.log.WithError(err).Warn("File receive failed")
	r.report(sess, sample, nil, "", err)
}

func (r *receiver) report(sess *recvSession, sample telemetry.Sample, art *sink.Artifact, location string, err error) {
	if r.ep.onReceived == nil {
		return
	}
	res := Received{
		SessionID:      sess.ID,
		Descriptor:     sess.Descriptor,
		Bytes:          sess.Bytes(),
		Elapsed:        sample.Elapsed,
		PeakThroughput: sample.Peak,
		Degraded:       sess.degraded,
		Artifact:       art,
		Location:       location,
		Err:            err,
	}
	if sess.strategy != nil {
		res.Mode = sess.strategy.Mode()
	}
	r.ep.onReceived(res)
}

// discard releases a sink that was acquired for a session that no longer exists
func discard(disk sink.DiskSink) {
	if d, ok := disk.(sink.Discarder); ok {
		d.Discard()
		return
	}
	disk.Close()
}
