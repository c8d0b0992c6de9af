package sink

// WriteBuffer accumulates chunks until they are flushed as one consolidated write.
// Appended slices are retained, not copied.
type WriteBuffer struct {
	chunks [][]byte
	size   int
}

// Append adds a chunk to the buffer
func (b *WriteBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

// Len returns the number of buffered bytes
func (b *WriteBuffer) Len() int { return b.size }

// Chunks returns the buffered chunks in append order
func (b *WriteBuffer) Chunks() [][]byte { return b.chunks }

// Drain returns the buffered bytes as one contiguous slice and clears the buffer
func (b *WriteBuffer) Drain() []byte {
	var out []byte
	switch len(b.chunks) {
	case 0:
	case 1:
		out = b.chunks[0]
	default:
		out = make([]byte, 0, b.size)
		for _, c := range b.chunks {
			out = append(out, c...)
		}
	}
	b.Reset()
	return out
}

// Reset discards the buffered chunks
func (b *WriteBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
