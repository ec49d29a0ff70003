// Package bundle implements the bundle wire format: parsing a compressed,
// seek-chunked blob, decompressing it in parallel, and recompressing raw
// bytes back into the same wire layout.
package bundle

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"golang.org/x/sync/errgroup"

	"github.com/themixednuts/poe2/internal/cursor"
	"github.com/themixednuts/poe2/internal/oodle"
)

// seekTableHeaderSize is the byte size of the seek table's fixed scalar
// fields (spec.md §6): compressor, chunksIndependent, totalRawLen,
// totalCompLen, numSeekChunks, seekChunkLen, and the two opaque 8-byte
// placeholder fields.
const seekTableHeaderSize = 4 + 4 + 8 + 8 + 4 + 4 + 8 + 8

// SeekTable is the chunking metadata embedded in every bundle.
type SeekTable struct {
	Compressor        int32
	ChunksIndependent int32
	TotalRawLen       int64
	TotalCompLen      int64
	NumSeekChunks     int32
	SeekChunkLen      int32

	// chunkLensPtr and rawCRCsPtr are opaque pointer-valued fields from the
	// originating library's in-memory struct. They are structural only:
	// preserved verbatim on a pure round-trip (parse then serialize without
	// recompressing), written as zero on a freshly constructed bundle. Never
	// dereferenced. See spec.md §9.
	chunkLensPtr int64
	rawCRCsPtr   int64
}

// Bundle is a parsed (or freshly constructed) compressed, seek-chunked blob.
type Bundle struct {
	UncompressedSize uint32
	CompressedSize   uint32
	SeekTableSize    uint32
	SeekTable        SeekTable

	SeekChunkCompLens []uint32
	Chunks            [][]byte

	// RawCRCs is nil if the wire data had no trailing CRC region.
	RawCRCs []uint32
}

// FormatError reports a structural violation while parsing a bundle.
type FormatError struct {
	Where  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("bundle: invalid format at %s: %s", e.Where, e.Reason)
}

// ConsistencyError reports a round-trip arithmetic mismatch after compressing.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("bundle: compression inconsistency: %s", e.Reason)
}

// Parse decodes the bundle wire format from data (spec.md §4.2, §6).
func Parse(data []byte) (*Bundle, error) {
	c := cursor.New(data)

	uncompressedSize, err := c.U32()
	if err != nil {
		return nil, &FormatError{"header.uncompressed_size", err.Error()}
	}
	compressedSize, err := c.U32()
	if err != nil {
		return nil, &FormatError{"header.compressed_size", err.Error()}
	}
	seekTableSize, err := c.U32()
	if err != nil {
		return nil, &FormatError{"header.seek_table_size", err.Error()}
	}

	st, err := parseSeekTable(c)
	if err != nil {
		return nil, err
	}

	if st.NumSeekChunks < 0 {
		return nil, &FormatError{"seek_table.num_seek_chunks", "negative chunk count"}
	}
	numChunks := int(st.NumSeekChunks)

	compLens := make([]uint32, numChunks)
	for i := 0; i < numChunks; i++ {
		v, err := c.U32()
		if err != nil {
			return nil, &FormatError{"seek_chunk_comp_lens", err.Error()}
		}
		compLens[i] = v
	}

	chunks := make([][]byte, numChunks)
	var sumComp int64
	for i := 0; i < numChunks; i++ {
		b, err := c.ReadBytes(int(compLens[i]))
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("chunk[%d]", i), err.Error()}
		}
		// Copy so the Bundle doesn't keep the whole input slice alive via
		// sub-slices, and so callers may safely mutate/discard data.
		owned := make([]byte, len(b))
		copy(owned, b)
		chunks[i] = owned
		sumComp += int64(compLens[i])
	}

	var rawCRCs []uint32
	if c.Len() > 0 {
		rawCRCs = make([]uint32, numChunks)
		for i := 0; i < numChunks; i++ {
			v, err := c.U32()
			if err != nil {
				return nil, &FormatError{"raw_crcs", err.Error()}
			}
			rawCRCs[i] = v
		}
	}

	b := &Bundle{
		UncompressedSize:  uncompressedSize,
		CompressedSize:    compressedSize,
		SeekTableSize:     seekTableSize,
		SeekTable:         st,
		SeekChunkCompLens: compLens,
		Chunks:            chunks,
		RawCRCs:           rawCRCs,
	}

	if err := b.checkInvariants(sumComp); err != nil {
		return nil, err
	}

	return b, nil
}

func parseSeekTable(c *cursor.Cursor) (SeekTable, error) {
	var st SeekTable
	var err error

	if st.Compressor, err = c.I32(); err != nil {
		return st, &FormatError{"seek_table.compressor", err.Error()}
	}
	if st.ChunksIndependent, err = c.I32(); err != nil {
		return st, &FormatError{"seek_table.chunks_independent", err.Error()}
	}
	if st.TotalRawLen, err = c.I64(); err != nil {
		return st, &FormatError{"seek_table.total_raw_len", err.Error()}
	}
	if st.TotalCompLen, err = c.I64(); err != nil {
		return st, &FormatError{"seek_table.total_comp_len", err.Error()}
	}
	if st.NumSeekChunks, err = c.I32(); err != nil {
		return st, &FormatError{"seek_table.num_seek_chunks", err.Error()}
	}
	if st.SeekChunkLen, err = c.I32(); err != nil {
		return st, &FormatError{"seek_table.seek_chunk_len", err.Error()}
	}
	if st.chunkLensPtr, err = c.I64(); err != nil {
		return st, &FormatError{"seek_table.chunk_lens_ptr", err.Error()}
	}
	if st.rawCRCsPtr, err = c.I64(); err != nil {
		return st, &FormatError{"seek_table.raw_crcs_ptr", err.Error()}
	}
	return st, nil
}

func (b *Bundle) checkInvariants(sumComp int64) error {
	if int64(b.UncompressedSize) != b.SeekTable.TotalRawLen {
		return &FormatError{"invariant", "uncompressed_size != seek_table.total_raw_len"}
	}
	if int64(b.CompressedSize) != b.SeekTable.TotalCompLen {
		return &FormatError{"invariant", "compressed_size != seek_table.total_comp_len"}
	}
	if sumComp != b.SeekTable.TotalCompLen {
		return &FormatError{"invariant", "sum(chunk lengths) != seek_table.total_comp_len"}
	}
	if int(b.SeekTable.NumSeekChunks) != len(b.Chunks) {
		return &FormatError{"invariant", "num_seek_chunks != len(chunks)"}
	}
	if b.SeekTable.SeekChunkLen > 0 {
		expected := ceilDiv(b.SeekTable.TotalRawLen, int64(b.SeekTable.SeekChunkLen))
		if expected != int64(b.SeekTable.NumSeekChunks) {
			return &FormatError{"invariant", "ceil(uncompressed_size/seek_chunk_len) != num_seek_chunks"}
		}
	} else if b.SeekTable.NumSeekChunks != 0 {
		return &FormatError{"invariant", "seek_chunk_len is 0 but num_seek_chunks is not"}
	}
	if b.RawCRCs != nil && len(b.RawCRCs) != int(b.SeekTable.NumSeekChunks) {
		return &FormatError{"invariant", "len(raw_crcs) != num_seek_chunks"}
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Serialize writes the bundle back out in wire format. parse(serialize(b))
// reproduces b byte-for-byte for any bundle obtained from Parse.
func (b *Bundle) Serialize() []byte {
	out := make([]byte, 0, 12+seekTableHeaderSize+4*len(b.Chunks)+int(b.CompressedSize)+4*len(b.RawCRCs))

	out = binary.LittleEndian.AppendUint32(out, b.UncompressedSize)
	out = binary.LittleEndian.AppendUint32(out, b.CompressedSize)
	out = binary.LittleEndian.AppendUint32(out, b.SeekTableSize)

	out = binary.LittleEndian.AppendUint32(out, uint32(b.SeekTable.Compressor))
	out = binary.LittleEndian.AppendUint32(out, uint32(b.SeekTable.ChunksIndependent))
	out = binary.LittleEndian.AppendUint64(out, uint64(b.SeekTable.TotalRawLen))
	out = binary.LittleEndian.AppendUint64(out, uint64(b.SeekTable.TotalCompLen))
	out = binary.LittleEndian.AppendUint32(out, uint32(b.SeekTable.NumSeekChunks))
	out = binary.LittleEndian.AppendUint32(out, uint32(b.SeekTable.SeekChunkLen))
	out = binary.LittleEndian.AppendUint64(out, uint64(b.SeekTable.chunkLensPtr))
	out = binary.LittleEndian.AppendUint64(out, uint64(b.SeekTable.rawCRCsPtr))

	for _, l := range b.SeekChunkCompLens {
		out = binary.LittleEndian.AppendUint32(out, l)
	}
	for _, chunk := range b.Chunks {
		out = append(out, chunk...)
	}
	for _, crc := range b.RawCRCs {
		out = binary.LittleEndian.AppendUint32(out, crc)
	}
	return out
}

// Decompress decompresses every seek chunk in parallel across at most
// workers goroutines, writing into disjoint slices of a single
// pre-allocated output buffer (spec.md §4.2, §5). workers <= 0 means
// unbounded (one goroutine per chunk).
func (b *Bundle) Decompress(ctx context.Context, workers int) ([]byte, error) {
	out := make([]byte, b.SeekTable.TotalRawLen)
	if len(b.Chunks) == 0 {
		return out, nil
	}

	chunkLen := int64(b.SeekTable.SeekChunkLen)
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i := range b.Chunks {
		i := i
		start := int64(i) * chunkLen
		end := start + chunkLen
		if end > int64(len(out)) {
			end = int64(len(out))
		}
		dst := out[start:end]
		compressed := b.Chunks[i]

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if oodle.Compressor(b.SeekTable.Compressor) == oodle.CompressorNone {
				if len(compressed) != len(dst) {
					return &oodle.Error{Op: "decompress", ChunkIndex: i, Err: fmt.Errorf("uncompressed chunk size mismatch")}
				}
				copy(dst, compressed)
				return nil
			}
			decompressed, err := oodle.DecompressChunk(i, compressed, len(dst))
			if err != nil {
				return err
			}
			copy(dst, decompressed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Compress constructs a new Bundle from raw bytes: splits into
// oodle.BlockLen chunks, compresses each independently in parallel with
// Hydra, and assembles the seek table and optional CRCs (spec.md §4.2).
func Compress(ctx context.Context, raw []byte, workers int) (*Bundle, error) {
	numChunks := ceilDiv(int64(len(raw)), oodle.BlockLen)
	if len(raw) == 0 {
		numChunks = 0
	}

	chunks := make([][]byte, numChunks)
	crcs := make([]uint32, numChunks)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i := int64(0); i < numChunks; i++ {
		i := i
		start := i * oodle.BlockLen
		end := start + oodle.BlockLen
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		chunk := raw[start:end]

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			compressed, err := oodle.CompressChunk(int(i), chunk)
			if err != nil {
				return err
			}
			chunks[i] = compressed
			crcs[i] = crc32.ChecksumIEEE(chunk)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	compLens := make([]uint32, numChunks)
	for i, c := range chunks {
		compLens[i] = uint32(len(c))
	}

	params := oodle.BuildSeekTable(compLens, int64(len(raw)), oodle.BlockLen)
	if params.TotalRawLen != int64(len(raw)) {
		return nil, &ConsistencyError{"seek table total_raw_len does not match input length"}
	}

	var sumComp int64
	for _, l := range compLens {
		sumComp += int64(l)
	}
	if params.TotalCompLen != sumComp {
		return nil, &ConsistencyError{"seek table total_comp_len does not match sum of chunk sizes"}
	}

	b := &Bundle{
		UncompressedSize: uint32(len(raw)),
		CompressedSize:   uint32(sumComp),
		SeekTableSize:    seekTableHeaderSize,
		SeekTable: SeekTable{
			Compressor:        int32(oodle.CompressorHydra),
			ChunksIndependent: 1,
			TotalRawLen:       params.TotalRawLen,
			TotalCompLen:      params.TotalCompLen,
			NumSeekChunks:     params.NumChunks,
			SeekChunkLen:      params.ChunkLen,
		},
		SeekChunkCompLens: compLens,
		Chunks:            chunks,
		RawCRCs:           crcs,
	}
	return b, nil
}
