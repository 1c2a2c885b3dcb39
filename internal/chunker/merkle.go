package chunker

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot computes an optional Merkle commitment over a file's
// per-chunk SHA-256 hashes (the mandatory wire hash), combining pairs with
// BLAKE3 bottom-up and duplicating an odd trailing node. This is the
// commitment addendum to the manifest: it is never a substitute for the
// whole-file SHA-256 comparison in §4.5, only a compact membership proof a
// receiver with a partial bitmap could use to validate chunks it already
// holds without waiting for the final assembly.
func ComputeMerkleRoot(chunkHashesHex []string) (string, error) {
	if len(chunkHashesHex) == 0 {
		return "", nil
	}

	level := make([][]byte, len(chunkHashesHex))
	for i, hx := range chunkHashesHex {
		b, err := hex.DecodeString(hx)
		if err != nil {
			return "", err
		}
		level[i] = b
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var combined []byte
			if i+1 < len(level) {
				combined = append(append([]byte{}, level[i]...), level[i+1]...)
			} else {
				combined = append(append([]byte{}, level[i]...), level[i]...)
			}
			sum := blake3.Sum256(combined)
			next = append(next, sum[:])
		}
		level = next
	}

	return base64.StdEncoding.EncodeToString(level[0]), nil
}

// ComputeManifestMerkleRoot is a convenience wrapper computing the root
// directly from a manifest's chunk descriptors.
func ComputeManifestMerkleRoot(chunks []ChunkDescriptor) (string, error) {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	return ComputeMerkleRoot(hashes)
}
