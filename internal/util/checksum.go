package util

import (
	"hash/crc32"
)

// Checksum utilities for segment integrity verification
// Uses CRC32 (IEEE polynomial) for fast checksum computation

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// ChecksumAccumulator incrementally computes a CRC32 over a segment
// streamed in buffer-sized chunks.
type ChecksumAccumulator struct {
	crc uint32
}

// Write adds a chunk to the running checksum. Always succeeds.
func (a *ChecksumAccumulator) Write(p []byte) (int, error) {
	a.crc = crc32.Update(a.crc, crc32Table, p)
	return len(p), nil
}

// Sum returns the checksum of everything written so far
func (a *ChecksumAccumulator) Sum() uint32 {
	return a.crc
}

// Reset clears the accumulator for reuse
func (a *ChecksumAccumulator) Reset() {
	a.crc = 0
}
