// Package oodle adapts the external Oodle compressor library to the two
// primitives the bundle codec needs: per-chunk compress and decompress.
// The library itself is opaque; this package only knows how to call it and
// how to assemble the seek-table bookkeeping around its results.
package oodle

import (
	"fmt"

	"github.com/new-world-tools/go-oodle"
)

// Compressor mirrors the Oodle.Compressor enum used in bundle headers.
type Compressor int32

const (
	CompressorInvalid   Compressor = -1
	CompressorNone      Compressor = 3
	CompressorKraken    Compressor = 8
	CompressorMermaid   Compressor = 9
	CompressorSelkie    Compressor = 11
	CompressorHydra     Compressor = 12
	CompressorLeviathan Compressor = 13
)

// BlockLen is the fixed seek-chunk size used when building a new bundle,
// matching the teacher's CreateBundle default (256 KiB).
const BlockLen = 262144

// CompressionLevel is the level passed to Hydra on compress; "normal"
// per spec.md §4.2.
const CompressionLevel = 4 // Oodle "Normal" level

// Error wraps a failure from either the compress or decompress primitive,
// tagged with which operation and chunk failed.
type Error struct {
	Op         string
	ChunkIndex int
	Err        error
}

func (e *Error) Error() string {
	if e.ChunkIndex >= 0 {
		return fmt.Sprintf("oodle: %s chunk %d: %v", e.Op, e.ChunkIndex, e.Err)
	}
	return fmt.Sprintf("oodle: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DecompressChunk decompresses a single seek chunk's compressed payload
// into exactly rawSize bytes.
func DecompressChunk(chunkIndex int, compressed []byte, rawSize int) ([]byte, error) {
	out, err := oodle.Decompress(compressed, int64(rawSize))
	if err != nil {
		return nil, &Error{Op: "decompress", ChunkIndex: chunkIndex, Err: err}
	}
	if len(out) != rawSize {
		return nil, &Error{
			Op:         "decompress",
			ChunkIndex: chunkIndex,
			Err:        fmt.Errorf("wrote %d bytes, expected %d", len(out), rawSize),
		}
	}
	return out, nil
}

// CompressChunk compresses a single seek chunk independently (seekChunkReset
// semantics: every chunk is compressed in isolation so it can later be
// decompressed without its neighbors) using the Hydra compressor at normal
// level.
func CompressChunk(chunkIndex int, raw []byte) ([]byte, error) {
	out, err := oodle.Compress(raw, int32(CompressorHydra), CompressionLevel)
	if err != nil {
		return nil, &Error{Op: "compress", ChunkIndex: chunkIndex, Err: err}
	}
	return out, nil
}

// SeekTableParams is the set of seek-table scalar fields that can be
// derived locally from already-known chunk geometry, without any further
// call into the external Oodle library (per spec.md §1, Oodle's internals
// beyond compress/decompress a byte buffer are opaque; the seek table's
// structural bookkeeping is the adapter's own job).
type SeekTableParams struct {
	TotalRawLen  int64
	TotalCompLen int64
	NumChunks    int32
	ChunkLen     int32
}

// BuildSeekTable assembles the seek-table scalar fields from the per-chunk
// compressed lengths and the known uncompressed geometry.
func BuildSeekTable(compLens []uint32, totalRawLen int64, chunkLen int32) SeekTableParams {
	var totalComp int64
	for _, l := range compLens {
		totalComp += int64(l)
	}
	return SeekTableParams{
		TotalRawLen:  totalRawLen,
		TotalCompLen: totalComp,
		NumChunks:    int32(len(compLens)),
		ChunkLen:     chunkLen,
	}
}
