package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource(t *testing.T) {
	data := []byte("0123456789abcdef")
	src := NewMemorySource(data)

	total, err := src.TotalBytes(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(16), total)

	reader, err := src.OpenSegment(context.Background(), 4, 6)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)
}

func TestMemorySource_OutOfBounds(t *testing.T) {
	src := NewMemorySource([]byte("short"))

	_, err := src.OpenSegment(context.Background(), 0, 100)
	assert.Error(t, err)

	_, err = src.OpenSegment(context.Background(), -1, 2)
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.spill")
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	defer src.Close()

	total, err := src.TotalBytes(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), total)

	reader, err := src.OpenSegment(context.Background(), 1024, 2048)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data[1024:3072], got)
}

func TestFileSource_ConcurrentSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.spill")
	data := make([]byte, 16*1024)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	defer src.Close()

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func(n int) {
			offset := int64(n) * 1024
			reader, err := src.OpenSegment(context.Background(), offset, 1024)
			if err != nil {
				done <- err
				return
			}
			defer reader.Close()

			got, err := io.ReadAll(reader)
			if err == nil && !assert.ObjectsAreEqual(data[offset:offset+1024], got) {
				err = io.ErrUnexpectedEOF
			}
			done <- err
		}(i)
	}

	for i := 0; i < 16; i++ {
		assert.NoError(t, <-done)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource("/nonexistent/payload.spill")
	assert.Error(t, err)
}
