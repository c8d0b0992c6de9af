package sink

import (
	"errors"
	"fmt"
	"io"
)

// StreamingSink batches chunks into consolidated writes to a DiskSink.
// At most one write is in flight; it runs on its own goroutine so Append
// returns without waiting for the disk unless two full batches are pending.
type StreamingSink struct {
	disk      DiskSink
	threshold int

	buf      WriteBuffer
	busy     bool
	inflight []byte
	done     chan error

	written    uint64
	err        error
	diskClosed bool
}

// NewStreamingSink streams to disk, flushing whenever threshold bytes are buffered
func NewStreamingSink(disk DiskSink, threshold int) *StreamingSink {
	if threshold <= 0 {
		threshold = 1
	}
	return &StreamingSink{
		disk:      disk,
		threshold: threshold,
		done:      make(chan error, 1),
	}
}

func (s *StreamingSink) Mode() Mode { return ModeMotor }

// Written returns the bytes the disk sink has acknowledged
func (s *StreamingSink) Written() uint64 { return s.written }

// Buffered returns the bytes not yet acknowledged by the disk sink
func (s *StreamingSink) Buffered() int { return s.buf.Len() + len(s.inflight) }

// Err returns the write failure observed so far, if any
func (s *StreamingSink) Err() error { return s.err }

// Append buffers chunk and dispatches a flush once the threshold is crossed.
// On ErrSinkWrite the chunk stays buffered and Degrade carries it over.
func (s *StreamingSink) Append(chunk []byte) error {
	s.buf.Append(chunk)
	if s.err == nil {
		s.reap(false)
	}
	if s.err != nil {
		return s.err
	}
	if s.buf.Len() < s.threshold {
		return nil
	}
	if s.busy && s.buf.Len() >= 2*s.threshold {
		s.reap(true)
		if s.err != nil {
			return s.err
		}
	}
	if !s.busy {
		s.dispatch()
	}
	return nil
}

// Finish flushes the remaining bytes and closes the disk sink
func (s *StreamingSink) Finish() (*Artifact, error) {
	s.reap(true)
	if s.err != nil {
		return nil, s.err
	}
	if s.buf.Len() > 0 {
		s.inflight = s.buf.Drain()
		s.busy = true
		s.complete(writeFull(s.disk, s.inflight))
		if s.err != nil {
			return nil, s.err
		}
	}
	if err := s.closeDisk(); err != nil {
		s.err = fmt.Errorf("%w: %v", ErrSinkWrite, err)
		return nil, s.err
	}

	art := &Artifact{Mode: ModeMotor, Size: s.written}
	if p, ok := s.disk.(Pather); ok {
		art.Path = p.Path()
	}
	return art, nil
}

// Abort waits for any in-flight write, then closes and discards the disk sink
func (s *StreamingSink) Abort() {
	s.reap(true)
	s.buf.Reset()
	s.inflight = nil
	if d, ok := s.disk.(Discarder); ok {
		s.diskClosed = true
		d.Discard()
		return
	}
	s.closeDisk()
}

// Degrade abandons the disk sink and moves the session into memory. The bytes
// the disk acknowledged are read back through Salvager; the unacknowledged batch
// and the buffered chunks are appended after them in order. On success a
// Discarder disk has its partial output removed.
func (s *StreamingSink) Degrade(limit uint64, compress bool) (*MemorySink, error) {
	s.reap(true)
	s.closeDisk()

	mem := NewMemorySink(limit, compress)
	if s.written > 0 {
		salvager, ok := s.disk.(Salvager)
		if !ok {
			return nil, fmt.Errorf("%w: %d bytes on disk", ErrUnrecoverable, s.written)
		}
		rc, err := salvager.Salvage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
		n, err := io.Copy(mem, io.LimitReader(rc, int64(s.written)))
		rc.Close()
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
		if uint64(n) != s.written {
			return nil, fmt.Errorf("%w: salvaged %d of %d bytes", ErrUnrecoverable, n, s.written)
		}
	}
	if len(s.inflight) > 0 {
		if err := mem.Append(s.inflight); err != nil {
			return nil, err
		}
	}
	for _, c := range s.buf.Chunks() {
		if err := mem.Append(c); err != nil {
			return nil, err
		}
	}
	s.inflight = nil
	s.buf.Reset()
	// the memory copy is now the only one; drop the partial file
	if d, ok := s.disk.(Discarder); ok {
		d.Discard()
	}
	return mem, nil
}

func (s *StreamingSink) dispatch() {
	batch := s.buf.Drain()
	s.inflight = batch
	s.busy = true

	disk, done := s.disk, s.done
	go func() {
		done <- writeFull(disk, batch)
	}()
}

// reap collects the result of the in-flight write, blocking only when asked to
func (s *StreamingSink) reap(block bool) {
	if !s.busy {
		return
	}
	if block {
		s.complete(<-s.done)
		return
	}
	select {
	case err := <-s.done:
		s.complete(err)
	default:
	}
}

func (s *StreamingSink) complete(err error) {
	s.busy = false
	if err != nil {
		// Keep the batch: the disk may hold any prefix of it.
		s.err = fmt.Errorf("%w: %v", ErrSinkWrite, err)
		return
	}
	s.written += uint64(len(s.inflight))
	s.inflight = nil
}

func (s *StreamingSink) closeDisk() error {
	if s.diskClosed {
		return nil
	}
	s.diskClosed = true
	return s.disk.Close()
}
