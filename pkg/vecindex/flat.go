// Package vecindex provides an exact inner-product vector index with a
// compact binary encoding.
package vecindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrDimensionMismatch is returned when vectors of different lengths
	// are combined or a query does not match the index dimension.
	ErrDimensionMismatch = errors.New("vecindex: dimension mismatch")
	// ErrCorrupt is returned when decoding malformed index bytes.
	ErrCorrupt = errors.New("vecindex: corrupt index data")
)

var magic = [4]byte{'P', 'R', 'V', 'I'}

const formatVersion uint32 = 1

// Hit is a search result. Row is the position of the vector in the index,
// which callers map back to their own records.
type Hit struct {
	Row   int
	Score float64
}

// Flat scores every stored vector against the query. Stored vectors are
// expected to be unit length so the inner product equals cosine similarity.
// A built Flat is never mutated and may be searched concurrently.
type Flat struct {
	dim  int
	vecs [][]float32
}

// NewFlat builds an index over vectors in the given order.
func NewFlat(vectors [][]float32) (*Flat, error) {
	if len(vectors) == 0 {
		return &Flat{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty vector at row 0", ErrDimensionMismatch)
	}
	vecs := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d dims, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
		vecs[i] = append([]float32(nil), v...)
	}
	return &Flat{dim: dim, vecs: vecs}, nil
}

// Dim is the vector dimension, 0 for an empty index.
func (f *Flat) Dim() int { return f.dim }

// Len is the number of stored vectors.
func (f *Flat) Len() int { return len(f.vecs) }

// Vector returns the stored vector at row i.
func (f *Flat) Vector(i int) []float32 { return f.vecs[i] }

// Search returns up to k rows ordered by descending inner product with
// query. Ties keep row order.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 || len(f.vecs) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	hits := make([]Hit, 0, len(f.vecs))
	for i, v := range f.vecs {
		s := Dot(query, v)
		if math.IsNaN(s) {
			continue
		}
		hits = append(hits, Hit{Row: i, Score: s})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// MarshalBinary encodes: magic, version, dim, n (uint32 LE) followed by
// n*dim float32 LE values.
func (f *Flat) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16, 16+4*f.dim*len(f.vecs))
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], formatVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(f.dim))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(f.vecs)))
	var b [4]byte
	for _, v := range f.vecs {
		for _, x := range v {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
			out = append(out, b[:]...)
		}
	}
	return out, nil
}

// UnmarshalBinary restores an index written by MarshalBinary.
func (f *Flat) UnmarshalBinary(data []byte) error {
	if len(data) < 16 || [4]byte(data[0:4]) != magic {
		return ErrCorrupt
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	n := int(binary.LittleEndian.Uint32(data[12:16]))
	if len(data)-16 != 4*dim*n {
		return fmt.Errorf("%w: expected %d payload bytes, got %d", ErrCorrupt, 4*dim*n, len(data)-16)
	}
	if n > 0 && dim == 0 {
		return fmt.Errorf("%w: zero dimension with %d rows", ErrCorrupt, n)
	}

	vecs := make([][]float32, n)
	off := 16
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vecs[i] = v
	}
	if n == 0 {
		dim = 0
	}
	f.dim, f.vecs = dim, vecs
	return nil
}

// Dot is the inner product accumulated in float64.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Norm is the L2 norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
