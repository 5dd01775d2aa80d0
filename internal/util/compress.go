package util

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Compression helpers for transfer chunks. S2 block encoding keeps the
// per-chunk overhead small and never produces output the decoder cannot
// round-trip.

// CompressChunk compresses a chunk for transfer
func CompressChunk(data []byte) []byte {
	return s2.Encode(nil, data)
}

// DecompressChunk reverses CompressChunk
func DecompressChunk(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk: %w", err)
	}
	return out, nil
}
