// Package sink holds the receiver side persistence strategies: streaming
// batched writes to a disk sink, or accumulating in memory when no sink is
// available or the disk fails mid-transfer.
package sink

import (
	"context"
	"errors"
	"io"

	"github.com/pintubhai440/fileshare/pkg/types"
)

var (
	ErrSinkWrite      = errors.New("disk sink write failed")
	ErrTooLarge       = errors.New("file too large for the chosen path")
	ErrUnrecoverable  = errors.New("disk sink failed and written bytes cannot be recovered")
	ErrDeclined       = errors.New("sink acquisition declined")
	ErrNotRetrievable = errors.New("artifact content is not retrievable")
	ErrInvalidName    = errors.New("invalid file name")
)

// Mode is the receiver strategy chosen at confirmation time
type Mode int

const (
	// ModeMotor streams bytes straight to a disk sink
	ModeMotor Mode = iota
	// ModeFallback accumulates bytes in memory until the end of the file
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeMotor:
		return "motor"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// DiskSink is a sequential write handle owned by one receive session
type DiskSink interface {
	io.Writer
	io.Closer
}

// Salvager is implemented by sinks whose written bytes can be read back after Close
type Salvager interface {
	Salvage() (io.ReadCloser, error)
}

// Discarder is implemented by sinks that can remove their partial output
type Discarder interface {
	Discard() error
}

// Pather is implemented by sinks backed by a named file
type Pather interface {
	Path() string
}

// Acquirer obtains a disk sink for an announced file. It may block on user
// interaction and should honour ctx. ErrDeclined selects the fallback path.
type Acquirer interface {
	Acquire(ctx context.Context, desc types.FileDescriptor) (DiskSink, error)
}

// AcquirerFunc adapts a function to Acquirer
type AcquirerFunc func(ctx context.Context, desc types.FileDescriptor) (DiskSink, error)

func (f AcquirerFunc) Acquire(ctx context.Context, desc types.FileDescriptor) (DiskSink, error) {
	return f(ctx, desc)
}

// Strategy persists the chunks of one session
type Strategy interface {
	Mode() Mode
	Append(chunk []byte) error
	Finish() (*Artifact, error)
	Abort()
}

// writeFull writes all of p, treating a zero-progress write as a short write
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
