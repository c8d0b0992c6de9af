package engine

import "errors"

var (
	ErrHandshakeTimeout = errors.New("timed out waiting for receiver to accept the file")
	ErrCancelledByPeer  = errors.New("transfer cancelled by peer")
	ErrCancelled        = errors.New("transfer cancelled")
	ErrSendFailed       = errors.New("failed to send on channel")
	ErrReadFailed       = errors.New("failed to read source")
	ErrChannelClosed    = errors.New("channel closed during transfer")
	ErrQueueBusy        = errors.New("a send queue is already running")
	ErrStaleSession     = errors.New("session is no longer awaiting confirmation")
	ErrSizeMismatch     = errors.New("received byte count does not match announced size")
	ErrChecksumMismatch = errors.New("received content checksum does not match")
	ErrSuperseded       = errors.New("session superseded by a new file announcement")
	ErrSaveFailed       = errors.New("failed to save received file")
	ErrClosed           = errors.New("endpoint is not running")
	ErrAlreadyRunning   = errors.New("endpoint is already running")
)
