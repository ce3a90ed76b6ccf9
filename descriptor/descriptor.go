// Package descriptor holds SIFT-style feature descriptors and the chunked
// arena that stores them during tree training.
package descriptor

import "github.com/arborimage/vocabtree/internal/verr"

// Dim is the fixed descriptor length (SIFT descriptor byte count).
const Dim = 128

// Descriptor is a single fixed-length feature vector.
type Descriptor []byte

// SquaredDistance returns the squared L2 distance between two descriptors of
// equal length. The caller guarantees len(a) == len(b); a length mismatch
// panics rather than silently truncating.
func SquaredDistance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		panic("descriptor: SquaredDistance called with mismatched lengths")
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Handle is a stable reference to a descriptor stored in a Store. It remains
// valid for the lifetime of the Store; Store never moves or frees bytes once
// appended.
type Handle struct {
	Chunk  int
	Offset int
}

// chunkCap bounds the size of a single chunk's backing array, mirroring the
// 8 MiB MAX_ARRAY_SIZE cap VocabLearn used for its descriptor arena.
const chunkCap = 8 * 1024 * 1024

// Store is an append-only, chunked byte arena for descriptors. Descriptors
// are never deleted or resized once added; handles returned by Append remain
// valid until the Store is discarded.
type Store struct {
	dim    int
	chunks [][]byte
	count  int
}

// NewStore creates a Store for descriptors of the given dimension.
func NewStore(dim int) *Store {
	if dim <= 0 {
		dim = Dim
	}
	return &Store{dim: dim}
}

// Dim reports the descriptor length this Store holds.
func (s *Store) Dim() int { return s.dim }

// Len reports the number of descriptors appended so far.
func (s *Store) Len() int { return s.count }

// Append copies d into the arena and returns a stable handle to it.
func (s *Store) Append(d Descriptor) (Handle, error) {
	if len(d) != s.dim {
		return Handle{}, verr.Newf(verr.InvalidInput, "descriptor.Store.Append",
			"descriptor length %d does not match store dim %d", len(d), s.dim)
	}
	if len(s.chunks) == 0 || len(s.chunks[len(s.chunks)-1])+s.dim > chunkCap {
		s.chunks = append(s.chunks, make([]byte, 0, chunkCap))
	}
	idx := len(s.chunks) - 1
	off := len(s.chunks[idx])
	s.chunks[idx] = append(s.chunks[idx], d...)
	s.count++
	return Handle{Chunk: idx, Offset: off}, nil
}

// At resolves a handle back to its descriptor. The returned slice aliases
// the Store's backing array and must not be mutated.
func (s *Store) At(h Handle) Descriptor {
	return Descriptor(s.chunks[h.Chunk][h.Offset : h.Offset+s.dim])
}

// Each calls fn once per stored descriptor in insertion order, stopping if
// fn returns false.
func (s *Store) Each(fn func(h Handle, d Descriptor) bool) {
	for ci, chunk := range s.chunks {
		for off := 0; off+s.dim <= len(chunk); off += s.dim {
			if !fn(Handle{Chunk: ci, Offset: off}, Descriptor(chunk[off:off+s.dim])) {
				return
			}
		}
	}
}

// All materializes every stored descriptor into a single slice, in
// insertion order. Callers that only need to iterate should prefer Each to
// avoid this copy.
func (s *Store) All() []Descriptor {
	out := make([]Descriptor, 0, s.count)
	s.Each(func(_ Handle, d Descriptor) bool {
		out = append(out, d)
		return true
	})
	return out
}

// Handles returns a handle to every descriptor in the Store, in insertion
// order. This is the sequence of handles Build partitions recursively; the
// Store behind them guarantees they stay valid for as long as the Store
// itself is kept alive.
func (s *Store) Handles() []Handle {
	out := make([]Handle, 0, s.count)
	s.Each(func(h Handle, _ Descriptor) bool {
		out = append(out, h)
		return true
	})
	return out
}
