// Package source provides the byte sources read by the sender.
package source

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pintubhai440/fileshare/pkg/types"
)

// ErrOutOfRange is returned for a slice starting past the end of the source
var ErrOutOfRange = errors.New("slice offset beyond end of source")

const (
	defaultMediaType = "application/octet-stream"
	sniffLen         = 512
)

// ByteSource is a random access view of one file's content.
// Slice may block on I/O; callers issue at most one Slice at a time.
type ByteSource interface {
	Descriptor() types.FileDescriptor
	Slice(offset uint64, length int) ([]byte, error)
	Close() error
}

// FileSource reads a local file
type FileSource struct {
	file *os.File
	desc types.FileDescriptor
}

// OpenFile opens path and derives its descriptor
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		file: file,
		desc: types.FileDescriptor{
			Name:      filepath.Base(path),
			Size:      uint64(info.Size()),
			MediaType: detectMediaType(file, path),
		},
	}, nil
}

// Descriptor returns the file's name, size and media type
func (s *FileSource) Descriptor() types.FileDescriptor { return s.desc }

// Slice reads up to length bytes at offset. The final slice is truncated at the end of the file.
func (s *FileSource) Slice(offset uint64, length int) ([]byte, error) {
	n, err := sliceLen(s.desc.Size, offset, length)
	if err != nil || n == 0 {
		return nil, err
	}

	buf := make([]byte, n)
	read, err := s.file.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && read == n) {
		return nil, fmt.Errorf("failed to read %d bytes at offset %d: %w", n, offset, err)
	}
	return buf, nil
}

// Close releases the file handle
func (s *FileSource) Close() error {
	return s.file.Close()
}

// BytesSource serves content held in memory
type BytesSource struct {
	data []byte
	desc types.FileDescriptor
}

// NewBytesSource wraps data under the given name and media type
func NewBytesSource(name, mediaType string, data []byte) *BytesSource {
	if mediaType == "" {
		mediaType = defaultMediaType
	}
	return &BytesSource{
		data: data,
		desc: types.FileDescriptor{Name: name, Size: uint64(len(data)), MediaType: mediaType},
	}
}

func (s *BytesSource) Descriptor() types.FileDescriptor { return s.desc }

func (s *BytesSource) Slice(offset uint64, length int) ([]byte, error) {
	n, err := sliceLen(s.desc.Size, offset, length)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.data[offset:offset+uint64(n)])
	return out, nil
}

func (s *BytesSource) Close() error { return nil }

func sliceLen(size, offset uint64, length int) (int, error) {
	if offset > size {
		return 0, fmt.Errorf("%w: offset %d, size %d", ErrOutOfRange, offset, size)
	}
	if length <= 0 {
		return 0, nil
	}
	remaining := size - offset
	if uint64(length) > remaining {
		return int(remaining), nil
	}
	return length, nil
}

// detectMediaType prefers the extension and falls back to content sniffing
func detectMediaType(file *os.File, path string) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}

	head := make([]byte, sniffLen)
	n, _ := file.ReadAt(head, 0)
	if n == 0 {
		return defaultMediaType
	}
	return http.DetectContentType(head[:n])
}
