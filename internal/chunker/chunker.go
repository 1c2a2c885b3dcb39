package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkWithData is a single numbered chunk together with its payload bytes,
// as produced by the Chunking Engine from a source file.
type ChunkWithData struct {
	Sequence int
	Offset   int64
	Size     int
	Hash     [HashSize]byte
	Payload  []byte
}

// Descriptor returns the manifest-facing ChunkDescriptor for this chunk.
func (c ChunkWithData) Descriptor() ChunkDescriptor {
	return ChunkDescriptor{
		Sequence: c.Sequence,
		Offset:   c.Offset,
		Size:     c.Size,
		Hash:     hex.EncodeToString(c.Hash[:]),
	}
}

// ComputeChunks deterministically splits the fileSize bytes read from r into
// chunks of chunkSize (the final chunk may be shorter), hashing each with
// SHA-256. Chunk k covers the byte range [k*chunkSize, min((k+1)*chunkSize,
// fileSize)).
func ComputeChunks(r io.Reader, fileSize int64, chunkSize int) ([]ChunkWithData, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive")
	}

	total := TotalChunks(fileSize, chunkSize)
	chunks := make([]ChunkWithData, 0, total)
	buf := make([]byte, chunkSize)

	for seq := 0; ; seq++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("chunker: read chunk %d: %w", seq, err)
		}
		if n == 0 {
			break
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		sum := sha256.Sum256(payload)

		chunks = append(chunks, ChunkWithData{
			Sequence: seq,
			Offset:   int64(seq) * int64(chunkSize),
			Size:     n,
			Hash:     sum,
			Payload:  payload,
		})

		if err == io.EOF || err == io.ErrUnexpectedEOF || n < chunkSize {
			break
		}
	}

	// A zero-byte file still produces a single empty chunk.
	if fileSize == 0 && len(chunks) == 0 {
		sum := sha256.Sum256(nil)
		chunks = append(chunks, ChunkWithData{Sequence: 0, Offset: 0, Size: 0, Hash: sum, Payload: nil})
	}

	return chunks, nil
}

// ComputeFileChunks opens filePath and computes its chunks via ComputeChunks,
// plus the whole-file SHA-256 hash and (optionally) progress reporting.
func ComputeFileChunks(filePath string, chunkSize int, onProgress ProgressFunc) (chunks []ChunkWithData, fileHash [HashSize]byte, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fileHash, fmt.Errorf("chunker: open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileHash, fmt.Errorf("chunker: stat file: %w", err)
	}

	chunks, err = ComputeChunks(f, info.Size(), chunkSize)
	if err != nil {
		return nil, fileHash, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fileHash, fmt.Errorf("chunker: rewind file: %w", err)
	}
	h := NewHasher()
	fileHash, _, err = h.HashFile(f, info.Size(), onProgress)
	if err != nil {
		return nil, fileHash, err
	}

	return chunks, fileHash, nil
}

// StreamChunker lazily yields chunks from a reader in increasing sequence
// order, one at a time, without holding the whole file in memory. This is
// the streaming variant referenced in §4.3 ("a streaming variant yields
// chunks lazily in increasing sequence").
type StreamChunker struct {
	r         io.Reader
	chunkSize int
	next      int
	buf       []byte
	done      bool
}

// NewStreamChunker returns a StreamChunker reading from r with the given
// chunk size.
func NewStreamChunker(r io.Reader, chunkSize int) (*StreamChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive")
	}
	return &StreamChunker{r: r, chunkSize: chunkSize, buf: make([]byte, chunkSize)}, nil
}

// Next returns the next chunk, or io.EOF once the reader is exhausted.
func (s *StreamChunker) Next() (ChunkWithData, error) {
	if s.done {
		return ChunkWithData{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ChunkWithData{}, fmt.Errorf("chunker: read chunk %d: %w", s.next, err)
	}
	if n == 0 {
		s.done = true
		return ChunkWithData{}, io.EOF
	}

	payload := make([]byte, n)
	copy(payload, s.buf[:n])
	sum := sha256.Sum256(payload)

	c := ChunkWithData{
		Sequence: s.next,
		Offset:   int64(s.next) * int64(s.chunkSize),
		Size:     n,
		Hash:     sum,
		Payload:  payload,
	}
	s.next++
	if err == io.EOF || err == io.ErrUnexpectedEOF || n < s.chunkSize {
		s.done = true
	}
	return c, nil
}

// ReadChunk reads a single specific chunk from a file on disk, seeking to
// its offset. Used by the sender's workers to read each chunk as it is sent
// (first sends and resends alike) without keeping the whole file buffered.
func ReadChunk(filePath string, sequence int, chunkSize int) (ChunkWithData, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return ChunkWithData{}, fmt.Errorf("chunker: open file: %w", err)
	}
	defer f.Close()

	offset := int64(sequence) * int64(chunkSize)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ChunkWithData{}, fmt.Errorf("chunker: seek to offset %d: %w", offset, err)
	}

	buf := make([]byte, chunkSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ChunkWithData{}, fmt.Errorf("chunker: read chunk %d: %w", sequence, err)
	}

	payload := buf[:n]
	sum := sha256.Sum256(payload)
	return ChunkWithData{Sequence: sequence, Offset: offset, Size: n, Hash: sum, Payload: payload}, nil
}
