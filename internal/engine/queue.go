package engine

import (
	"errors"

	"github.com/pintubhai440/fileshare/internal/source"
)

// queue feeds sources to the sender strictly one at a time. The next file is
// announced only after the previous one has been acknowledged or has failed.
type queue struct {
	ep *Endpoint

	items    []source.ByteSource
	index    int
	attempts int
	results  []Result
	running  bool
	abortErr error
	done     func([]Result)
}

func (q *queue) start(srcs []source.ByteSource, done func([]Result)) error {
	if q.running {
		return ErrQueueBusy
	}
	q.items = srcs
	q.index = 0
	q.attempts = 0
	q.results = make([]Result, 0, len(srcs))
	q.abortErr = nil
	q.done = done
	q.running = true

	q.ep.log.WithField("files", len(srcs)).Debug("Send queue started")
	q.next()
	return nil
}

func (q *queue) next() {
	if q.abortErr != nil {
		for ; q.index < len(q.items); q.index++ {
			src := q.items[q.index]
			q.record(Result{Descriptor: src.Descriptor(), Err: q.abortErr})
		}
	}
	if q.index >= len(q.items) {
		q.finish()
		return
	}
	q.attempts++
	q.ep.sender.announce(q.items[q.index], q.onResult)
}

func (q *queue) onResult(r Result) {
	r.Attempts = q.attempts
	if errors.Is(r.Err, ErrHandshakeTimeout) && q.abortErr == nil && q.attempts <= q.ep.cfg.HandshakeRetries {
		q.ep.log.WithField("file", r.Descriptor.Name).Infof("Retrying announcement (attempt %d)", q.attempts+1)
		q.attempts++
		q.ep.sender.announce(q.items[q.index], q.onResult)
		return
	}

	q.record(r)
	q.index++
	q.attempts = 0
	q.next()
}

// record closes the source and stores its result
func (q *queue) record(r Result) {
	if err := q.items[q.index].Close(); err != nil {
		q.ep.log.WithError(err).Debug("Failed to close source")
	}
	q.results = append(q.results, r)
	if q.ep.onSent != nil {
		q.ep.onSent(r)
	}
}

func (q *queue) finish() {
	q.running = false
	q.ep.sender.terminate()

	done, results := q.done, q.results
	q.items, q.results, q.done = nil, nil, nil
	q.ep.log.WithField("files", len(results)).Debug("Send queue drained")
	done(results)
}

// abort fails the current file and every pending one with err. With notify
// set the receiver is told through a Cancelled message.
func (q *queue) abort(err error, notify bool) {
	if !q.running {
		return
	}
	if q.abortErr == nil {
		q.abortErr = err
	}

	switch {
	case q.ep.sender.active():
		if notify {
			q.ep.sender.cancelLocal(err)
		} else {
			q.ep.sender.channelClosed()
		}
	case q.ep.sender.flushSettle():
	}
}
