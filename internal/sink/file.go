package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pintubhai440/fileshare/pkg/types"
)

const maxNameAttempts = 1000

// FileSink writes to a file created under a destination directory
type FileSink struct {
	file   *os.File
	path   string
	closed bool
}

// CreateFile creates a new file for name under dir. An existing file is never
// overwritten; a numbered variant such as "report (1).pdf" is used instead.
func CreateFile(dir, name string) (*FileSink, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create file: %w", err)
		}
		return &FileSink{file: file, path: path}, nil
	}
	return nil, fmt.Errorf("no free file name for %s in %s", name, dir)
}

// ValidateName rejects names that would escape the destination directory
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

func (f *FileSink) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

// Close flushes and closes the file; repeated calls are no-ops
func (f *FileSink) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return f.file.Close()
}

// Path returns the file's location
func (f *FileSink) Path() string { return f.path }

// Salvage reopens the file for reading
func (f *FileSink) Salvage() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Discard closes and removes the partial file
func (f *FileSink) Discard() error {
	if !f.closed {
		f.closed = true
		f.file.Close()
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DirAcquirer creates one FileSink per announced file under Dir
type DirAcquirer struct {
	Dir string
}

func (a DirAcquirer) Acquire(ctx context.Context, desc types.FileDescriptor) (DiskSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return CreateFile(a.Dir, desc.Name)
}
