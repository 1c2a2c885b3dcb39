package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// ProgressFunc is invoked periodically while hashing a whole file.
// percent is in [0, 100]; bytesProcessed is the cumulative count.
type ProgressFunc func(percent float64, bytesProcessed int64)

// progressInterval bounds how often ProgressFunc fires during a whole-file
// hash, regardless of chunk size, so very small chunk sizes don't spam the
// callback.
const progressInterval = 1 << 20 // 1 MiB

// Hasher computes and verifies SHA-256 digests over chunk payloads and
// whole files. It is stateless and safe for concurrent use.
type Hasher struct{}

// NewHasher returns a Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// HashBytes computes the SHA-256 digest of p, returning both the raw 32-byte
// digest and its lowercase hex encoding.
func (h *Hasher) HashBytes(p []byte) (digest [HashSize]byte, hexDigest string) {
	digest = sha256.Sum256(p)
	return digest, hex.EncodeToString(digest[:])
}

// HashRange hashes a contiguous byte range read from r, without loading more
// than one buffer's worth into memory at a time.
func (h *Hasher) HashRange(r io.Reader, length int64) (digest [HashSize]byte, hexDigest string, err error) {
	hasher := sha256.New()
	if _, err := io.CopyN(hasher, r, length); err != nil {
		return digest, "", fmt.Errorf("hash range: %w", err)
	}
	sum := hasher.Sum(nil)
	copy(digest[:], sum)
	return digest, hex.EncodeToString(sum), nil
}

// HashFile computes the SHA-256 digest of an entire file-sized reader,
// invoking onProgress as bytes are consumed. onProgress may be nil.
func (h *Hasher) HashFile(r io.Reader, totalSize int64, onProgress ProgressFunc) (digest [HashSize]byte, hexDigest string, err error) {
	hasher := sha256.New()
	buf := make([]byte, progressInterval)
	var processed int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			processed += int64(n)
			if onProgress != nil {
				pct := 100.0
				if totalSize > 0 {
					pct = float64(processed) / float64(totalSize) * 100.0
				}
				onProgress(pct, processed)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return digest, "", fmt.Errorf("hash file: %w", readErr)
		}
	}

	sum := hasher.Sum(nil)
	copy(digest[:], sum)
	return digest, hex.EncodeToString(sum), nil
}

// VerifyFrame recomputes the payload hash of f and compares it to the
// header hash. Comparison is over the raw digest bytes (already
// case-insensitive since there's no textual encoding involved here).
func (h *Hasher) VerifyFrame(f Frame) bool {
	sum := sha256.Sum256(f.Payload)
	return sum == f.Header.Hash
}

// EqualHex reports whether two hex-encoded digests are equal, ignoring case.
func EqualHex(a, b string) bool {
	return strings.EqualFold(a, b)
}
