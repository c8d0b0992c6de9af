// Package telemetry derives progress, throughput and ETA from byte counters.
package telemetry

import (
	"sync"
	"time"
)

// MaxInFlightProgress is the highest percentage reported before a session completes
const MaxInFlightProgress = 99.9

// Sample is a point-in-time view of one transfer session.
type Sample struct {
	Bytes      uint64
	Total      uint64
	Progress   float64       // percent, exactly 100 only once completed
	Throughput float64       // bytes/s over the last sampling interval
	ETA        time.Duration // from the moving average of recent throughput samples
	Peak       float64       // highest Throughput observed
	Elapsed    time.Duration
	Done       bool
}

// Meter accumulates bytes for one session and samples at most once per interval.
type Meter struct {
	mu sync.Mutex

	total    uint64
	done     uint64
	interval time.Duration
	now      func() time.Time

	startedAt time.Time
	lastAt    time.Time
	lastDone  uint64

	window   []float64
	next     int
	filled   int
	rate     float64
	peak     float64
	complete bool
}

// NewMeter starts a meter for total bytes. window is the number of throughput
// samples averaged for the ETA.
func NewMeter(total uint64, interval time.Duration, window int, now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = 1
	}
	start := now()
	return &Meter{
		total:     total,
		interval:  interval,
		now:       now,
		startedAt: start,
		lastAt:    start,
		window:    make([]float64, window),
	}
}

// Add records n more bytes. It returns a fresh sample when at least one
// interval has elapsed since the previous sample.
func (m *Meter) Add(n int) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > 0 {
		m.done += uint64(n)
	}
	if m.complete {
		return m.sampleLocked(), false
	}

	now := m.now()
	dt := now.Sub(m.lastAt)
	if dt < m.interval || dt <= 0 {
		return Sample{}, false
	}

	m.rate = float64(m.done-m.lastDone) / dt.Seconds()
	m.window[m.next] = m.rate
	m.next = (m.next + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}
	if m.rate > m.peak {
		m.peak = m.rate
	}
	m.lastAt = now
	m.lastDone = m.done

	return m.sampleLocked(), true
}

// Complete marks the session finished and returns the final sample with progress at 100.
func (m *Meter) Complete() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.complete {
		m.complete = true
		// Sessions shorter than one interval never sampled; report the overall average.
		if m.filled == 0 {
			if elapsed := m.now().Sub(m.startedAt); elapsed > 0 {
				m.rate = float64(m.done) / elapsed.Seconds()
				m.peak = m.rate
			}
		}
		m.lastAt = m.now()
	}
	return m.sampleLocked()
}

// Snapshot returns the current state without taking a new throughput sample
func (m *Meter) Snapshot() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked()
}

// Bytes returns the number of bytes recorded so far
func (m *Meter) Bytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Meter) sampleLocked() Sample {
	s := Sample{
		Bytes:      m.done,
		Total:      m.total,
		Throughput: m.rate,
		Peak:       m.peak,
		Done:       m.complete,
	}
	if m.complete {
		s.Progress = 100
		s.Elapsed = m.lastAt.Sub(m.startedAt)
		return s
	}
	s.Elapsed = m.now().Sub(m.startedAt)

	if m.total > 0 {
		s.Progress = float64(m.done) / float64(m.total) * 100
		if s.Progress > MaxInFlightProgress {
			s.Progress = MaxInFlightProgress
		}
	}

	if avg := m.averageLocked(); avg > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		s.ETA = time.Duration(remaining / avg * float64(time.Second))
	}
	return s
}

func (m *Meter) averageLocked() float64 {
	if m.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.window[i]
	}
	return sum / float64(m.filled)
}
