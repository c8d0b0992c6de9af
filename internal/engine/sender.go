package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/flow"
	"github.com/pintubhai440/fileshare/internal/protocol"
	"github.com/pintubhai440/fileshare/internal/source"
	"github.com/pintubhai440/fileshare/internal/telemetry"
)

type sendSession struct {
	*Session
	src    source.ByteSource
	finish func(Result)

	offset    uint64
	busy      bool // a read or a send retry is outstanding
	waiting   bool // the flow poll timer is armed
	handshake *time.Timer
	log       *logrus.Entry
}

type settling struct {
	timer *time.Timer
	fire  func()
}

// sender pumps one file at a time: announce, wait for ready, stream chunks, end, wait for ack
type sender struct {
	ep     *Endpoint
	flow   *flow.Controller
	state  SenderState
	sess   *sendSession
	settle *settling
}

func (s *sender) setState(next SenderState) {
	if s.state == next {
		return
	}
	s.ep.log.Debugf("Sender state: %s -> %s", s.state, next)
	s.state = next
}

func (s *sender) active() bool {
	return s.sess != nil
}

// announce sends the file's Meta and waits for the receiver to accept it.
// A failed Meta send is only logged; the handshake timeout reports it.
func (s *sender) announce(src source.ByteSource, finish func(Result)) {
	sess := &sendSession{
		Session: newSession(src.Descriptor(), s.ep.now()),
		src:     src,
		finish:  finish,
	}
	sess.log = s.ep.log.WithFields(sess.fields())
	s.sess = sess
	s.flow.Reset()

	s.setState(SenderAwaitingReady)
	sess.log.WithField("size", sess.Descriptor.Size).Info("Announcing file")
	if err := s.ep.ch.SendControl(protocol.Meta(sess.Descriptor).WithID(sess.token())); err != nil {
		sess.log.WithError(err).Warn("Failed to send meta")
	}

	sess.handshake = s.ep.after(s.ep.cfg.HandshakeTimeout, func() {
		if s.sess == sess && s.state == SenderAwaitingReady {
			s.handshakeTimeout()
		}
	})
}

func (s *sender) onReady(msg protocol.Message) {
	if s.state != SenderAwaitingReady {
		s.ep.log.WithField("state", s.state).Warn("Ignoring unexpected ready_to_receive")
		return
	}
	sess := s.sess
	if msg.ID != sess.token() {
		sess.log.WithField("id", msg.ID).Warn("Ignoring ready_to_receive for another announcement")
		return
	}
	stopTimer(sess.handshake)

	cfg := s.ep.cfg
	sess.StartedAt = s.ep.now()
	sess.meter = telemetry.NewMeter(sess.Descriptor.Size, cfg.TelemetryInterval, cfg.ThroughputWindow, s.ep.now)

	s.setState(SenderPumping)
	s.pump()
}

// pump advances the chunk loop by one step; completions re-enter it
func (s *sender) pump() {
	sess := s.sess
	if s.state != SenderPumping || sess.busy || sess.waiting {
		return
	}
	if sess.offset >= sess.Descriptor.Size {
		s.sendEnd()
		return
	}

	if s.flow.Next(s.ep.ch.PendingBytes()) == flow.Wait {
		sess.waiting = true
		s.ep.after(s.flow.PollInterval(), func() {
			if s.sess != sess {
				return
			}
			sess.waiting = false
			s.pump()
		})
		return
	}

	sess.busy = true
	offset, length := sess.offset, s.ep.cfg.ChunkSize
	goIO(s.ep, func() ([]byte, error) {
		return sess.src.Slice(offset, length)
	}, func(data []byte, err error) {
		if s.sess != sess || s.state != SenderPumping {
			return
		}
		sess.busy = false
		if err == nil && len(data) == 0 {
			err = fmt.Errorf("source ended at %d of %d bytes", offset, sess.Descriptor.Size)
		}
		if err != nil {
			s.cancelWith(fmt.Errorf("%w: %v", ErrReadFailed, err), "failed to read file")
			return
		}
		s.sendChunk(sess, data, 0)
	})
}

// sendChunk retries rejected sends after a short delay
func (s *sender) sendChunk(sess *sendSession, data []byte, attempt int) {
	err := s.ep.ch.SendChunk(data)
	if err != nil {
		if attempt < s.ep.cfg.SendRetries {
			sess.busy = true
			sess.log.WithError(err).Debugf("Chunk send rejected, retry %d", attempt+1)
			s.ep.after(s.ep.cfg.SendRetryDelay, func() {
				if s.sess == sess && s.state == SenderPumping {
					s.sendChunk(sess, data, attempt+1)
				}
			})
			return
		}
		s.cancelWith(fmt.Errorf("%w: %v", ErrSendFailed, err), "chunk send failed")
		return
	}

	sess.busy = false
	sess.offset += uint64(len(data))
	sess.hash.Write(data)
	if _, sampled := sess.meter.Add(len(data)); sampled {
		s.ep.progress(Outbound, sess.Session)
	}
	s.pump()
}

func (s *sender) sendEnd() {
	sess := s.sess
	s.setState(SenderAwaitingAck)
	if err := s.ep.ch.SendControl(protocol.End(sess.checksum()).WithID(sess.token())); err != nil {
		s.cancelWith(fmt.Errorf("%w: %v", ErrSendFailed, err), "end send failed")
		return
	}
	sess.log.WithField("bytes", sess.offset).Debug("All chunks sent, awaiting ack")
}

func (s *sender) onAck(msg protocol.Message) {
	if s.state != SenderAwaitingAck {
		s.ep.log.WithField("state", s.state).Warn("Ignoring unexpected transfer_complete_ack")
		return
	}
	sess := s.sess
	if msg.ID != sess.token() {
		sess.log.WithField("id", msg.ID).Warn("Ignoring transfer_complete_ack for another announcement")
		return
	}
	if msg.Received != nil && *msg.Received != sess.offset {
		sess.log.WithFields(logrus.Fields{
			"sent":     sess.offset,
			"received": *msg.Received,
		}).Warn("Receiver acknowledged a different byte count")
	}

	final := sess.meter.Complete()
	s.ep.progress(Outbound, sess.Session)
	s.sess = nil
	s.setState(SenderIdle)

	res := s.result(sess, final, nil)
	sess.log.WithField("bytes", res.Bytes).Info("File sent")

	// let the channel drain before the next Meta goes out
	st := &settling{}
	st.fire = func() {
		if s.settle == st {
			s.settle = nil
			sess.finish(res)
		}
	}
	st.timer = s.ep.after(s.ep.cfg.SettleDelay, st.fire)
	s.settle = st
}

// flushSettle reports a result still waiting out the settle delay right away
func (s *sender) flushSettle() bool {
	st := s.settle
	if st == nil {
		return false
	}
	stopTimer(st.timer)
	st.fire()
	return true
}

// onCancelled fails the current file. A cancel without an id is honoured.
func (s *sender) onCancelled(msg protocol.Message) {
	if !s.active() {
		return
	}
	if msg.ID != "" && msg.ID != s.sess.token() {
		s.sess.log.WithField("id", msg.ID).Debug("Ignoring cancel for another announcement")
		return
	}
	s.sess.log.WithField("reason", msg.Reason).Warn("Receiver cancelled the transfer")
	s.fail(fmt.Errorf("%w: %s", ErrCancelledByPeer, msg.Reason))
}

func (s *sender) handshakeTimeout() {
	s.sess.log.Warn("Handshake timed out")
	s.cancelWith(ErrHandshakeTimeout, "handshake timeout")
}

// cancelLocal aborts the current file and tells the receiver
func (s *sender) cancelLocal(err error) {
	if !s.active() {
		return
	}
	s.cancelWith(err, "cancelled by sender")
}

func (s *sender) channelClosed() {
	if s.active() {
		s.fail(ErrChannelClosed)
	}
}

func (s *sender) terminate() {
	s.setState(SenderTerminal)
}

// cancelWith sends a best-effort Cancelled and fails the session
func (s *sender) cancelWith(err error, reason string) {
	if sendErr := s.ep.ch.SendControl(protocol.Cancelled(protocol.RoleSender, reason).WithID(s.sess.token())); sendErr != nil {
		s.sess.log.WithError(sendErr).Debug("Failed to send cancel")
	}
	s.fail(err)
}

func (s *sender) fail(err error) {
	sess := s.sess
	stopTimer(sess.handshake)
	s.sess = nil
	s.setState(SenderIdle)

	var sample telemetry.Sample
	if sess.meter != nil {
		sample = sess.meter.Snapshot()
	}
	sess.log.WithError(err).Warn("File send failed")
	sess.finish(s.result(sess, sample, err))
}

func (s *sender) result(sess *sendSession, sample telemetry.Sample, err error) Result {
	return Result{
		SessionID:      sess.ID,
		Descriptor:     sess.Descriptor,
		Bytes:          sess.offset,
		Elapsed:        sample.Elapsed,
		PeakThroughput: sample.Peak,
		Err:            err,
	}
}
