package sink

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// Artifact is the retrievable result of a completed receive session
type Artifact struct {
	Mode Mode
	Size uint64
	// Path is set when the bytes were streamed to a named file
	Path string

	data       []byte
	compressed bool
}

// Open returns a reader over the artifact content
func (a *Artifact) Open() (io.ReadCloser, error) {
	if a.Mode == ModeFallback {
		if a.compressed {
			return io.NopCloser(lz4.NewReader(bytes.NewReader(a.data))), nil
		}
		return io.NopCloser(bytes.NewReader(a.data)), nil
	}
	if a.Path == "" {
		return nil, ErrNotRetrievable
	}
	return os.Open(a.Path)
}

// Bytes reads the whole artifact into memory
func (a *Artifact) Bytes() ([]byte, error) {
	if a.Mode == ModeFallback && !a.compressed {
		return a.data, nil
	}
	rc, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// SaveTo copies the artifact content to w
func (a *Artifact) SaveTo(w io.Writer) (int64, error) {
	rc, err := a.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return n, fmt.Errorf("failed to save artifact: %w", err)
	}
	if uint64(n) != a.Size {
		return n, fmt.Errorf("saved %d bytes, artifact holds %d", n, a.Size)
	}
	return n, nil
}
