package chunker

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestComputeFileChunks_SmallFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "small.bin")

	testData := []byte("Hello, transfer!")
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	chunks, fileHash, err := ComputeFileChunks(testFile, SelectChunkSize(int64(len(testData)), DeviceDesktop), nil)
	if err != nil {
		t.Fatalf("ComputeFileChunks failed: %v", err)
	}

	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Size != len(testData) {
		t.Errorf("expected chunk size %d, got %d", len(testData), chunks[0].Size)
	}
	wantHash := sha256.Sum256(testData)
	if fileHash != wantHash {
		t.Errorf("file hash mismatch")
	}
}

func TestComputeChunks_MultipleChunks(t *testing.T) {
	chunkSize := 1024
	testData := make([]byte, chunkSize*2+chunkSize/2)
	for i := range testData {
		testData[i] = byte(i % 256)
	}

	chunks, err := ComputeChunks(bytes.NewReader(testData), int64(len(testData)), chunkSize)
	if err != nil {
		t.Fatalf("ComputeChunks failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Size != chunkSize || chunks[1].Size != chunkSize {
		t.Errorf("expected first two chunks full size %d, got %d and %d", chunkSize, chunks[0].Size, chunks[1].Size)
	}
	if chunks[2].Size != chunkSize/2 {
		t.Errorf("expected tail chunk size %d, got %d", chunkSize/2, chunks[2].Size)
	}
	for i, c := range chunks {
		if c.Offset != int64(i)*int64(chunkSize) {
			t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, int64(i)*int64(chunkSize))
		}
	}
	// tail invariant: offset + size = fileSize
	last := chunks[len(chunks)-1]
	if last.Offset+int64(last.Size) != int64(len(testData)) {
		t.Errorf("tail chunk does not satisfy offset+size=fileSize")
	}
}

func TestComputeChunks_Deterministic(t *testing.T) {
	testData := []byte("deterministic test data")

	c1, err := ComputeChunks(bytes.NewReader(testData), int64(len(testData)), 1024)
	if err != nil {
		t.Fatalf("first ComputeChunks failed: %v", err)
	}
	c2, err := ComputeChunks(bytes.NewReader(testData), int64(len(testData)), 1024)
	if err != nil {
		t.Fatalf("second ComputeChunks failed: %v", err)
	}

	if c1[0].Hash != c2[0].Hash {
		t.Error("chunk hashes should be identical for the same bytes")
	}
	root1, _ := ComputeManifestMerkleRoot([]ChunkDescriptor{c1[0].Descriptor()})
	root2, _ := ComputeManifestMerkleRoot([]ChunkDescriptor{c2[0].Descriptor()})
	if root1 != root2 {
		t.Error("merkle roots should be identical for the same bytes")
	}
}

func TestComputeChunks_EmptyFile(t *testing.T) {
	chunks, err := ComputeChunks(bytes.NewReader(nil), 0, 1024)
	if err != nil {
		t.Fatalf("ComputeChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for empty input, got %d", len(chunks))
	}
	if chunks[0].Size != 0 {
		t.Errorf("expected empty chunk size 0, got %d", chunks[0].Size)
	}
}

func TestReadChunk(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "chunks.bin")

	chunkSize := 1024
	testData := make([]byte, chunkSize*3)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	chunk0, err := ReadChunk(testFile, 0, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(0) failed: %v", err)
	}
	if chunk0.Size != chunkSize {
		t.Errorf("expected chunk size %d, got %d", chunkSize, chunk0.Size)
	}

	chunk1, err := ReadChunk(testFile, 1, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(1) failed: %v", err)
	}
	for i := 0; i < chunkSize; i++ {
		if chunk0.Payload[i] != testData[i] {
			t.Fatalf("chunk 0 byte %d mismatch", i)
		}
		if chunk1.Payload[i] != testData[chunkSize+i] {
			t.Fatalf("chunk 1 byte %d mismatch", i)
		}
	}
}

func TestStreamChunker_MatchesComputeChunks(t *testing.T) {
	chunkSize := 777
	testData := make([]byte, chunkSize*4+123)
	for i := range testData {
		testData[i] = byte(i * 7 % 256)
	}

	want, err := ComputeChunks(bytes.NewReader(testData), int64(len(testData)), chunkSize)
	if err != nil {
		t.Fatalf("ComputeChunks failed: %v", err)
	}

	sc, err := NewStreamChunker(bytes.NewReader(testData), chunkSize)
	if err != nil {
		t.Fatalf("NewStreamChunker failed: %v", err)
	}
	var got []ChunkWithData
	for {
		c, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, c)
	}

	if len(got) != len(want) {
		t.Fatalf("streamed %d chunks, computed %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Hash != want[i].Hash || got[i].Size != want[i].Size || got[i].Offset != want[i].Offset {
			t.Errorf("chunk %d differs between streaming and bulk computation", i)
		}
	}
}

func TestComputeFileChunks_FileNotFound(t *testing.T) {
	_, _, err := ComputeFileChunks("/nonexistent/file.bin", 1024, nil)
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}
