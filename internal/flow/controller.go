// Package flow implements watermark based backpressure for the chunk pump.
package flow

import (
	"errors"
	"time"
)

// ErrInvalidWatermarks is returned when the low watermark is not below the high watermark
var ErrInvalidWatermarks = errors.New("flow: low watermark must be less than high watermark")

// Decision tells the pump what to do next
type Decision int

const (
	// Proceed means the next chunk may be read and sent now
	Proceed Decision = iota
	// Wait means the pump must re-check after PollInterval
	Wait
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "Proceed"
	case Wait:
		return "Wait"
	default:
		return "Unknown"
	}
}

// Controller decides from the channel's pending byte count whether the sender may continue.
// Sending pauses once pending reaches the high watermark and resumes only after
// it has drained to the low watermark.
type Controller struct {
	high   uint64
	low    uint64
	poll   time.Duration
	paused bool
}

// New creates a controller with the given watermarks and re-poll interval
func New(high, low uint64, poll time.Duration) (*Controller, error) {
	if low >= high {
		return nil, ErrInvalidWatermarks
	}
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	return &Controller{high: high, low: low, poll: poll}, nil
}

// Next returns the decision for the given pending byte count
func (c *Controller) Next(pending uint64) Decision {
	if c.paused {
		if pending <= c.low {
			c.paused = false
			return Proceed
		}
		return Wait
	}
	if pending >= c.high {
		c.paused = true
		return Wait
	}
	return Proceed
}

// Paused reports whether the controller is currently holding the pump
func (c *Controller) Paused() bool { return c.paused }

// PollInterval is the delay between re-checks while paused
func (c *Controller) PollInterval() time.Duration { return c.poll }

// HighWatermark returns the pause threshold
func (c *Controller) HighWatermark() uint64 { return c.high }

// LowWatermark returns the resume threshold
func (c *Controller) LowWatermark() uint64 { return c.low }

// Reset clears the paused state for a new session
func (c *Controller) Reset() { c.paused = false }
