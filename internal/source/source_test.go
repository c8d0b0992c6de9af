package source

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestFileSourceSlices(t *testing.T) {
	data := pattern(10_000)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	desc := src.Descriptor()
	assert.Equal(t, "payload.bin", desc.Name)
	assert.Equal(t, uint64(10_000), desc.Size)
	assert.NotEmpty(t, desc.MediaType)

	var rebuilt bytes.Buffer
	for offset := uint64(0); offset < desc.Size; {
		chunk, err := src.Slice(offset, 4096)
		require.NoError(t, err)
		rebuilt.Write(chunk)
		offset += uint64(len(chunk))
	}
	assert.Equal(t, data, rebuilt.Bytes())

	last, err := src.Slice(8192, 4096)
	require.NoError(t, err)
	assert.Len(t, last, 10_000-8192)

	empty, err := src.Slice(10_000, 4096)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = src.Slice(10_001, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileSourceMediaType(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	src, err := OpenFile(txt)
	require.NoError(t, err)
	assert.Contains(t, src.Descriptor().MediaType, "text/plain")
	src.Close()

	noExt := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(noExt, []byte("%PDF-1.4 rest"), 0o644))
	src, err = OpenFile(noExt)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", src.Descriptor().MediaType)
	src.Close()

	emptyPath := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(emptyPath, nil, 0o644))
	src, err = OpenFile(emptyPath)
	require.NoError(t, err)
	assert.Equal(t, defaultMediaType, src.Descriptor().MediaType)
	assert.Zero(t, src.Descriptor().Size)
	src.Close()
}

func TestOpenFileErrors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = OpenFile(t.TempDir())
	assert.Error(t, err)
}

func TestBytesSource(t *testing.T) {
	src := NewBytesSource("mem.bin", "", []byte("abcdefgh"))
	assert.Equal(t, defaultMediaType, src.Descriptor().MediaType)

	chunk, err := src.Slice(6, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("gh"), chunk)

	// slices are copies
	chunk[0] = 'X'
	again, err := src.Slice(6, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("g"), again)
}
