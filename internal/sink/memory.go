package sink

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// MemorySink accumulates a whole file in memory. With compression enabled the
// chunks go through an lz4 frame writer instead of being retained.
type MemorySink struct {
	limit  uint64
	size   uint64
	chunks WriteBuffer

	compressed *bytes.Buffer
	zw         *lz4.Writer
}

// NewMemorySink creates an accumulator holding at most limit bytes; 0 means unlimited
func NewMemorySink(limit uint64, compress bool) *MemorySink {
	m := &MemorySink{limit: limit}
	if compress {
		m.compressed = &bytes.Buffer{}
		m.zw = lz4.NewWriter(m.compressed)
	}
	return m
}

func (m *MemorySink) Mode() Mode { return ModeFallback }

// Size returns the number of accumulated bytes
func (m *MemorySink) Size() uint64 { return m.size }

// Append retains chunk for the session lifetime
func (m *MemorySink) Append(chunk []byte) error {
	if m.limit > 0 && m.size+uint64(len(chunk)) > m.limit {
		return fmt.Errorf("%w: limit %d bytes", ErrTooLarge, m.limit)
	}
	if m.zw != nil {
		if _, err := m.zw.Write(chunk); err != nil {
			return fmt.Errorf("failed to compress chunk: %w", err)
		}
	} else {
		m.chunks.Append(chunk)
	}
	m.size += uint64(len(chunk))
	return nil
}

// Write copies p, so callers may reuse their buffer
func (m *MemorySink) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	if err := m.Append(cp); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finish materializes the accumulated chunks into a single artifact
func (m *MemorySink) Finish() (*Artifact, error) {
	art := &Artifact{Mode: ModeFallback, Size: m.size}
	if m.zw != nil {
		if err := m.zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish compression: %w", err)
		}
		art.data = m.compressed.Bytes()
		art.compressed = true
	} else {
		art.data = m.chunks.Drain()
	}
	m.compressed, m.zw = nil, nil
	return art, nil
}

// Abort drops everything accumulated so far
func (m *MemorySink) Abort() {
	m.chunks.Reset()
	m.compressed, m.zw = nil, nil
	m.size = 0
}
