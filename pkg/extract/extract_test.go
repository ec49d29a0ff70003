package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/themixednuts/poe2/pkg/index"
)

const testSeed = index.PathDictionarySeed

// buildBundleWire hand-assembles a wire-format bundle (spec.md §6) using
// the "none" compressor, so tests need no native Oodle library.
func buildBundleWire(raw []byte) []byte {
	const seekTableHeaderSize = 48
	const compressorNone = 3

	var buf bytes.Buffer
	total := uint32(len(raw))
	binary.Write(&buf, binary.LittleEndian, total)
	binary.Write(&buf, binary.LittleEndian, total)
	binary.Write(&buf, binary.LittleEndian, uint32(seekTableHeaderSize))

	binary.Write(&buf, binary.LittleEndian, int32(compressorNone))
	binary.Write(&buf, binary.LittleEndian, int32(1))
	binary.Write(&buf, binary.LittleEndian, int64(total))
	binary.Write(&buf, binary.LittleEndian, int64(total))
	binary.Write(&buf, binary.LittleEndian, int32(1))
	binary.Write(&buf, binary.LittleEndian, int32(len(raw)))
	binary.Write(&buf, binary.LittleEndian, int64(0))
	binary.Write(&buf, binary.LittleEndian, int64(0))

	binary.Write(&buf, binary.LittleEndian, total)
	buf.Write(raw)
	return buf.Bytes()
}

func buildPathDictSlice(path string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteString(path)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0, 0})
	return buf.Bytes()
}

// buildIndex constructs a real *index.Index with one bundle containing one
// file at the given path and raw content.
func buildIndex(t *testing.T, bundlePath, filePath string, content []byte) *index.Index {
	t.Helper()

	fileHash := index.MurmurHash64A([]byte(filePath), testSeed)
	slice := buildPathDictSlice(filePath)
	pathDictBundle := buildBundleWire(slice)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(len(bundlePath)))
	buf.WriteString(bundlePath)
	binary.Write(&buf, binary.LittleEndian, uint32(len(content)))

	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, fileHash)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(len(content)))

	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, fileHash)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(len(slice)))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write([]byte{0, 0, 0, 0})

	buf.Write(pathDictBundle)

	idx, err := index.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("index.Parse: %v", err)
	}
	return idx
}

func writeBundleFile(t *testing.T, inputDir, bundlePath string, content []byte) {
	t.Helper()
	wire := buildBundleWire(content)
	full := filepath.Join(inputDir, "Bundles2", bundlePath+".bundle.bin")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, wire, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRun_ExtractsMatchingFile(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	content := []byte("hello, bundle!")
	idx := buildIndex(t, "art", "textures/foo.dds", content)
	writeBundleFile(t, inputDir, "art", content)

	result, err := Run(context.Background(), idx, Options{
		Input:   inputDir,
		Output:  outputDir,
		Shaders: true,
		Filter:  "*.dds",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FilesWritten != 1 {
		t.Fatalf("expected 1 file written, got %d", result.FilesWritten)
	}
	if result.BytesWritten != int64(len(content)) {
		t.Fatalf("expected %d bytes written, got %d", len(content), result.BytesWritten)
	}

	got, err := os.ReadFile(filepath.Join(outputDir, "textures", "foo.dds"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("extracted content mismatch: got %q, want %q", got, content)
	}
}

func TestRun_FilterExcludesNonMatching(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	content := []byte("payload")
	idx := buildIndex(t, "art", "audio/foo.ogg", content)
	writeBundleFile(t, inputDir, "art", content)

	result, err := Run(context.Background(), idx, Options{
		Input:   inputDir,
		Output:  outputDir,
		Shaders: true,
		Filter:  "*.dds",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FilesWritten != 0 || result.BytesWritten != 0 {
		t.Fatalf("expected zero files extracted, got %+v", result)
	}
}

func TestRun_ShaderCacheExcluded(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	content := []byte("shader bytes")
	idx := buildIndex(t, "art", "shadercache/foo.fxc", content)
	writeBundleFile(t, inputDir, "art", content)

	result, err := Run(context.Background(), idx, Options{
		Input:   inputDir,
		Output:  outputDir,
		Shaders: false,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FilesWritten != 0 {
		t.Fatalf("expected shadercache path to be excluded, got %+v", result)
	}
}

func TestRun_MissingBundleFileIsNonFatal(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(inputDir, "Bundles2"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	content := []byte("never written to disk")
	idx := buildIndex(t, "missing-bundle", "textures/foo.dds", content)

	result, err := Run(context.Background(), idx, Options{
		Input:  inputDir,
		Output: outputDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FilesWritten != 0 {
		t.Fatalf("expected 0 files written for a missing bundle, got %+v", result)
	}
	if result.BundlesFailed != 0 {
		t.Fatalf("a missing bundle file is a non-fatal skip, not a failure, got %+v", result)
	}
}

func TestRun_CorruptBundleCountsAsFailed(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	content := []byte("textures go here")
	idx := buildIndex(t, "art", "textures/foo.dds", content)

	// A genuine failure (truncated/corrupt wire data that bundle.Parse
	// rejects), distinct from a bundle file that's simply absent.
	full := filepath.Join(inputDir, "Bundles2", "art.bundle.bin")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte{0x01, 0x02, 0x03}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := Run(context.Background(), idx, Options{
		Input:  inputDir,
		Output: outputDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.BundlesFailed != 1 {
		t.Fatalf("expected 1 failed bundle for corrupt wire data, got %+v", result)
	}
	if result.FilesWritten != 0 || result.BundlesRead != 0 {
		t.Fatalf("expected no successful extraction from the corrupt bundle, got %+v", result)
	}
}

func TestRun_MissingBundlesDirFails(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	idx := buildIndex(t, "art", "textures/foo.dds", []byte("x"))

	_, err := Run(context.Background(), idx, Options{Input: inputDir, Output: outputDir})
	if err == nil {
		t.Fatal("expected error when Bundles2/ does not exist")
	}
}
