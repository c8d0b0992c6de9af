package engine

import (
	"encoding/hex"
	"hash"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/telemetry"
	"github.com/pintubhai440/fileshare/pkg/types"
)

// Session is the bookkeeping for one file in one direction
type Session struct {
	ID         uuid.UUID
	Descriptor types.FileDescriptor
	StartedAt  time.Time

	meter *telemetry.Meter
	hash  hash.Hash
}

func newSession(desc types.FileDescriptor, now time.Time) *Session {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return &Session{
		ID:         uuid.New(),
		Descriptor: desc,
		StartedAt:  now,
		hash:       h,
	}
}

// Bytes returns the bytes transferred so far
func (s *Session) Bytes() uint64 {
	if s.meter == nil {
		return 0
	}
	return s.meter.Bytes()
}

// token is the announcement id carried on the wire
func (s *Session) token() string {
	return s.ID.String()
}

func (s *Session) checksum() string {
	return hex.EncodeToString(s.hash.Sum(nil))
}

func (s *Session) fields() logrus.Fields {
	return logrus.Fields{
		"session": s.ID.String(),
		"file":    s.Descriptor.Name,
	}
}

// Direction tells whether a session sends or receives
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Progress is a telemetry sample of one session
type Progress struct {
	Direction  Direction
	SessionID  uuid.UUID
	Descriptor types.FileDescriptor
	Sample     telemetry.Sample
}

// Offer announces an inbound file awaiting Confirm
type Offer struct {
	SessionID  uuid.UUID
	Descriptor types.FileDescriptor
}

// Result is the outcome of sending one file
type Result struct {
	SessionID      uuid.UUID
	Descriptor     types.FileDescriptor
	Bytes          uint64
	Elapsed        time.Duration
	PeakThroughput float64
	Attempts       int
	Err            error
}

// Received is the outcome of receiving one file
type Received struct {
	SessionID      uuid.UUID
	Descriptor     types.FileDescriptor
	Bytes          uint64
	Elapsed        time.Duration
	PeakThroughput float64
	Mode           sink.Mode
	Degraded       bool
	Artifact       *sink.Artifact
	// Location is where the file was saved, empty when it only lives in Artifact
	Location string
	Err      error
}
