package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func BenchmarkComputeChunks(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	r := bytes.NewReader(buf)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := ComputeChunks(r, int64(len(buf)), 64<<10); err != nil {
			b.Fatal(err)
		}
		r.Seek(0, 0)
	}
}

func BenchmarkStreamChunker(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	r := bytes.NewReader(buf)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		sc, err := NewStreamChunker(r, 64<<10)
		if err != nil {
			b.Fatal(err)
		}
		for {
			if _, err := sc.Next(); err != nil {
				break
			}
		}
		r.Seek(0, 0)
	}
}
