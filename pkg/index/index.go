// Package index decodes the index bundle's decompressed payload: the
// bundle/file/path tables and the nested path-dictionary bundle used to
// reconstruct full file paths.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/themixednuts/poe2/internal/cursor"
	"github.com/themixednuts/poe2/pkg/bundle"
)

// pathRecordSize is the fixed on-wire size of a PathRecord (spec.md §3):
// hash(8) + offset(4) + size(4) + recursive_length(4) + a trailing 4-byte
// reserved field, consumed but not otherwise meaningful (mirrors the
// opaque placeholder fields in the bundle seek table), padding the record
// out to the spec's declared 24 bytes.
const pathRecordSize = 24

// PathDictionarySeed is the murmurhash64a seed used for every path hash
// in the index (spec.md §3).
const PathDictionarySeed = 0x1337b33f

// BundleRecord names a data bundle file referenced by the index.
type BundleRecord struct {
	Path             string
	UncompressedSize uint32
}

// FileRecord locates one file's raw bytes inside a data bundle's
// decompressed payload.
type FileRecord struct {
	Hash      uint64
	BundleIdx uint32
	Offset    uint32
	Size      uint32
}

// PathRecord locates one slice of the path-dictionary bundle.
type PathRecord struct {
	Hash            uint64
	Offset          uint32
	Size            uint32
	RecursiveLength uint32
}

// Entry is one fully reconstructed (path, file) pair.
type Entry struct {
	Path string
	File *FileRecord
}

// PathEncodingError reports malformed UTF-8 encountered while decoding a
// path-dictionary record.
type PathEncodingError struct {
	RecordOffset uint32
	Err          error
}

func (e *PathEncodingError) Error() string {
	return fmt.Sprintf("index: bad path encoding at dictionary offset %d: %v", e.RecordOffset, e.Err)
}

func (e *PathEncodingError) Unwrap() error { return e.Err }

// FormatError reports a structural violation while parsing the index
// payload.
type FormatError struct {
	Where  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("index: invalid format at %s: %s", e.Where, e.Reason)
}

// Index is the parsed index payload: the three tables plus the nested
// path-dictionary bundle, with a lazily computed, memoized extraction map.
type Index struct {
	Bundles []BundleRecord
	Files   []FileRecord
	Paths   []PathRecord

	pathDict *bundle.Bundle

	fileByHash map[uint64]*FileRecord

	logger *slog.Logger

	dictOnce sync.Once
	dict     map[uint32][]Entry
	byPath   map[string]*FileRecord
	dictErr  error
}

// Option configures Parse.
type Option func(*Index)

// WithLogger attaches a logger used to report hash-miss warnings while
// building the extraction map. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// Parse decodes an index payload: the bundle table, file table, path
// table, and the trailing path-dictionary bundle (spec.md §3, §4.3).
func Parse(payload []byte, opts ...Option) (*Index, error) {
	c := cursor.New(payload)

	bundleCount, err := c.U32()
	if err != nil {
		return nil, &FormatError{"bundle_count", err.Error()}
	}
	bundles := make([]BundleRecord, bundleCount)
	for i := range bundles {
		pathLen, err := c.U32()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("bundles[%d].path_len", i), err.Error()}
		}
		path, err := c.String(int(pathLen))
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("bundles[%d].path", i), err.Error()}
		}
		size, err := c.U32()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("bundles[%d].uncompressed_size", i), err.Error()}
		}
		bundles[i] = BundleRecord{Path: path, UncompressedSize: size}
	}

	fileCount, err := c.U32()
	if err != nil {
		return nil, &FormatError{"file_count", err.Error()}
	}
	files := make([]FileRecord, fileCount)
	fileByHash := make(map[uint64]*FileRecord, fileCount)
	for i := range files {
		hash, err := c.U64()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("files[%d].hash", i), err.Error()}
		}
		bundleIdx, err := c.U32()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("files[%d].bundle_idx", i), err.Error()}
		}
		offset, err := c.U32()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("files[%d].offset", i), err.Error()}
		}
		size, err := c.U32()
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("files[%d].size", i), err.Error()}
		}
		if bundleIdx >= bundleCount {
			return nil, &FormatError{fmt.Sprintf("files[%d].bundle_idx", i), "out of range of bundle table"}
		}
		files[i] = FileRecord{Hash: hash, BundleIdx: bundleIdx, Offset: offset, Size: size}
		fileByHash[hash] = &files[i]
	}

	pathCount, err := c.U32()
	if err != nil {
		return nil, &FormatError{"path_count", err.Error()}
	}
	paths := make([]PathRecord, pathCount)
	for i := range paths {
		raw, err := c.ReadBytes(pathRecordSize)
		if err != nil {
			return nil, &FormatError{fmt.Sprintf("paths[%d]", i), err.Error()}
		}
		pc := cursor.New(raw)
		hash, _ := pc.U64()
		offset, _ := pc.U32()
		size, _ := pc.U32()
		recursiveLength, _ := pc.U32()
		paths[i] = PathRecord{Hash: hash, Offset: offset, Size: size, RecursiveLength: recursiveLength}
	}

	rest, err := c.ReadBytes(c.Len())
	if err != nil {
		return nil, &FormatError{"path_dictionary_bundle", err.Error()}
	}
	pathDict, err := bundle.Parse(rest)
	if err != nil {
		return nil, &FormatError{"path_dictionary_bundle", err.Error()}
	}

	idx := &Index{
		Bundles:    bundles,
		Files:      files,
		Paths:      paths,
		pathDict:   pathDict,
		fileByHash: fileByHash,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Dictionary returns the bundle_idx -> ordered (path, file) mapping,
// computing it once on first call and caching the result (spec.md §3,
// "Extraction map").
func (idx *Index) Dictionary(workers int) (map[uint32][]Entry, error) {
	idx.dictOnce.Do(func() {
		idx.dict, idx.byPath, idx.dictErr = idx.buildDictionary(workers)
	})
	return idx.dict, idx.dictErr
}

func (idx *Index) buildDictionary(workers int) (map[uint32][]Entry, map[string]*FileRecord, error) {
	raw, err := idx.pathDict.Decompress(context.Background(), workers)
	if err != nil {
		return nil, nil, err
	}

	dict := make(map[uint32][]Entry)
	byPath := make(map[string]*FileRecord)

	for _, rec := range idx.Paths {
		if int64(rec.Offset)+int64(rec.Size) > int64(len(raw)) {
			return nil, nil, &FormatError{"path_record", "slice out of bounds of path-dictionary bundle"}
		}
		slice := raw[rec.Offset : rec.Offset+rec.Size]
		if err := idx.decodeSlice(rec.Offset, slice, dict, byPath); err != nil {
			return nil, nil, err
		}
	}
	return dict, byPath, nil
}

// decodeSlice runs the two-phase building/emitting state machine over one
// PathRecord's slice of the path-dictionary bundle (spec.md §4.3).
func (idx *Index) decodeSlice(recordOffset uint32, slice []byte, dict map[uint32][]Entry, byPath map[string]*FileRecord) error {
	if len(slice) < 4 {
		return nil
	}
	c := cursor.New(slice)
	building := false
	var frags []string

	for c.Offset() < len(slice)-4 {
		index, err := c.U32()
		if err != nil {
			return &PathEncodingError{recordOffset, err}
		}
		if index == 0 {
			building = !building
			if building {
				frags = nil
			}
			continue
		}

		fragIdx := int(index - 1)
		s, err := c.NullTerminatedString()
		if err != nil {
			return &PathEncodingError{recordOffset, err}
		}
		if fragIdx < len(frags) {
			s = frags[fragIdx] + s
		}
		frags = append(frags, s)

		if !building {
			h := MurmurHash64A([]byte(s), PathDictionarySeed)
			fr, ok := idx.fileByHash[h]
			if !ok {
				idx.logger.Warn("index: path hash has no matching file record", "path", s, "hash", h)
				continue
			}
			dict[fr.BundleIdx] = append(dict[fr.BundleIdx], Entry{Path: s, File: fr})
			byPath[s] = fr
		}
	}
	return nil
}

// FileByPath looks up a file record by its fully reconstructed path.
// Supplemented convenience lookup, spec.md §6A.
func (idx *Index) FileByPath(path string, workers int) (*FileRecord, bool, error) {
	if _, err := idx.Dictionary(workers); err != nil {
		return nil, false, err
	}
	fr, ok := idx.byPath[path]
	return fr, ok, nil
}

// BundleByPath looks up a bundle record by its relative path.
// Supplemented convenience lookup, spec.md §6A.
func (idx *Index) BundleByPath(path string) (*BundleRecord, bool) {
	for i := range idx.Bundles {
		if idx.Bundles[i].Path == path {
			return &idx.Bundles[i], true
		}
	}
	return nil, false
}
