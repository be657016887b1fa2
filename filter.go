package kamilata

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Filter is a fixed-size bit array used as an approximate set-membership
// test for the words appearing in a node's documents (spec §3, §4.1).
// N is the byte length of the filter and is fixed process-wide: every
// filter exchanged between two interoperating nodes must share the same N.
type Filter struct {
	n   uint
	set *bitset.BitSet
}

// NewFilter returns an all-zero filter of n bytes (8n bits).
func NewFilter(n uint) *Filter {
	return &Filter{n: n, set: bitset.New(n * 8)}
}

// N returns the byte length of the filter.
func (f *Filter) N() uint { return f.n }

// Set marks bit i as present. Indices outside [0, 8N) are ignored, mirroring
// the original implementation's silently-clamped set_bit/get_bit.
func (f *Filter) Set(i uint) {
	if i >= f.n*8 {
		return
	}
	f.set.Set(i)
}

// Test reports whether bit i is present. Out-of-range indices test false.
func (f *Filter) Test(i uint) bool {
	if i >= f.n*8 {
		return false
	}
	return f.set.Test(i)
}

// AddWord sets every bit the hasher returns for word.
func (f *Filter) AddWord(word string, hash WordHasher) {
	for _, idx := range hash.HashWord(word) {
		f.Set(idx)
	}
}

// TestWord reports conjunctive membership: true iff every bit the hasher
// returns for word is set. A word for which the hasher returns no index
// tests false.
func (f *Filter) TestWord(word string, hash WordHasher) bool {
	indices := hash.HashWord(word)
	if len(indices) == 0 {
		return false
	}
	for _, idx := range indices {
		if !f.Test(idx) {
			return false
		}
	}
	return true
}

// UnionInPlace ORs other's bits into f, byte-wise. Both filters must share N.
func (f *Filter) UnionInPlace(other *Filter) {
	if other == nil {
		return
	}
	f.set.InPlaceUnion(other.set)
}

// Clone returns an independent copy of the filter.
func (f *Filter) Clone() *Filter {
	return &Filter{n: f.n, set: f.set.Clone()}
}

// Load is the fraction of bits set, used for diagnostics (spec §3).
func (f *Filter) Load() float64 {
	if f.n == 0 {
		return 0
	}
	return float64(f.set.Count()) / float64(f.n*8)
}

// Bytes serialises the filter as a raw buffer of exactly N bytes.
func (f *Filter) Bytes() []byte {
	words := f.set.Bytes()
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:(i+1)*8], w)
	}
	if uint(len(buf)) < f.n {
		// Pad out if the bitset holds fewer whole uint64 words than N bytes need.
		padded := make([]byte, f.n)
		copy(padded, buf)
		return padded
	}
	return buf[:f.n]
}

// FilterFromBytes deserialises a filter. The reader must reject buffers of
// any length other than n, per spec §4.1.
func FilterFromBytes(data []byte, n uint) (*Filter, error) {
	if uint(len(data)) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFilterSize, len(data), n)
	}
	wordCount := (n + 7) / 8
	padded := make([]byte, wordCount*8)
	copy(padded, data)
	words := make([]uint64, wordCount)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(padded[i*8 : (i+1)*8])
	}
	return &Filter{n: n, set: bitset.From(words)}, nil
}
