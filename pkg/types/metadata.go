package types

import "fmt"

// FileDescriptor describes a file announced to the remote peer.
// It is immutable once announced.
type FileDescriptor struct {
	Name      string `json:"name"` // Original filename
	Size      uint64 `json:"size"` // File size in bytes
	MediaType string `json:"type"` // MIME type of the file
}

// Validate checks that the descriptor carries a usable name
func (d FileDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("file descriptor has no name")
	}
	return nil
}

func (d FileDescriptor) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", d.Name, d.Size, d.MediaType)
}
