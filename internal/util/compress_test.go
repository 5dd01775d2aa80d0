package util

import (
	"bytes"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"repetitive", bytes.Repeat([]byte("pairdb"), 10000)},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := CompressChunk(tt.data)
			decompressed, err := DecompressChunk(compressed)
			if err != nil {
				t.Fatalf("DecompressChunk failed: %v", err)
			}
			if !bytes.Equal(tt.data, decompressed) {
				t.Errorf("Round trip mismatch: %d bytes in, %d bytes out", len(tt.data), len(decompressed))
			}
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("offload segment chunk "), 5000)
	compressed := CompressChunk(data)

	if len(compressed) >= len(data) {
		t.Errorf("Repetitive data should compress: %d -> %d bytes", len(data), len(compressed))
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := DecompressChunk([]byte("definitely not an s2 block")); err == nil {
		t.Error("Decompressing garbage should fail")
	}
}
