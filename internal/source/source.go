package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DataSource is the payload collaborator: the storage engine exposes
// the bytes to offload through it. Implementations must support
// concurrent OpenSegment calls.
type DataSource interface {
	// TotalBytes reports the payload size for one offload operation,
	// optionally scoped to explicit data identifiers.
	TotalBytes(ctx context.Context, dataIDs []string) (int64, error)

	// OpenSegment returns a reader over the byte range
	// [offset, offset+length) of the payload.
	OpenSegment(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// FileSource serves offload payload from a single spill file produced
// by the storage engine.
type FileSource struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileSource opens a file-backed payload source
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload file: %w", err)
	}
	return &FileSource{path: path, file: f}, nil
}

// TotalBytes returns the file size. Data identifiers do not narrow a
// file-backed payload; the storage engine scopes the spill file itself.
func (s *FileSource) TotalBytes(ctx context.Context, dataIDs []string) (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat payload file: %w", err)
	}
	return info.Size(), nil
}

// OpenSegment returns a reader over a byte range of the file
func (s *FileSource) OpenSegment(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(s.file, offset, length)), nil
}

// Close releases the underlying file
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// MemorySource serves payload from an in-memory buffer
type MemorySource struct {
	data []byte
}

// NewMemorySource creates an in-memory payload source
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) TotalBytes(ctx context.Context, dataIDs []string) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *MemorySource) OpenSegment(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || offset+length > int64(len(s.data)) {
		return nil, fmt.Errorf("segment range [%d, %d) out of bounds", offset, offset+length)
	}
	return io.NopCloser(bytes.NewReader(s.data[offset : offset+length])), nil
}
