// Package memstore is a reference Store implementation: documents live in
// memory, word hashing is two-round FNV-1a, and search is a linear scan.
// It exists to exercise the kamilata.Store contract end to end, not to
// scale — a real deployment would back Store with a persistent word index.
package memstore

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/kamilata/kamilata"
)

type document struct {
	id      cid.Cid
	words   []string
	payload []byte
}

// Store is an in-memory kamilata.Store.
type Store struct {
	mu   sync.RWMutex
	n    uint
	docs map[cid.Cid]*document
}

// New returns an empty Store whose filters are n bytes long.
func New(n uint) *Store {
	return &Store{n: n, docs: make(map[cid.Cid]*document)}
}

// AddDocument inserts or replaces a document under id.
func (s *Store) AddDocument(id cid.Cid, words []string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = &document{id: id, words: words, payload: payload}
}

// RemoveDocument deletes a document, if present.
func (s *Store) RemoveDocument(id cid.Cid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// Len returns the number of documents held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// FilterSize implements kamilata.Store.
func (s *Store) FilterSize() uint { return s.n }

// HashWord implements kamilata.WordHasher with two independent FNV-1a
// rounds, giving each word two bit positions the way a small Bloom filter
// would.
func (s *Store) HashWord(word string) []uint {
	word = strings.ToLower(word)
	bits := uint64(s.n) * 8
	if bits == 0 {
		return nil
	}

	h1 := fnv.New64a()
	h1.Write([]byte(word))
	idx1 := uint(h1.Sum64() % bits)

	h2 := fnv.New64a()
	h2.Write([]byte(word))
	h2.Write([]byte{0xff})
	idx2 := uint(h2.Sum64() % bits)

	return []uint{idx1, idx2}
}

// GetFilter implements kamilata.Store by rebuilding the union of every
// document's words. A production store would maintain this incrementally.
func (s *Store) GetFilter(ctx context.Context) (*kamilata.Filter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := kamilata.NewFilter(s.n)
	for _, d := range s.docs {
		for _, w := range d.words {
			f.AddWord(w, s)
		}
	}
	return f, nil
}

// Search implements kamilata.Store with a linear scan over every document.
func (s *Store) Search(ctx context.Context, words []string, minMatching int) (<-chan kamilata.SearchResult, error) {
	s.mu.RLock()
	var matches []*document
	for _, d := range s.docs {
		have := make(map[string]struct{}, len(d.words))
		for _, w := range d.words {
			have[strings.ToLower(w)] = struct{}{}
		}
		count := 0
		for _, w := range words {
			if _, ok := have[strings.ToLower(w)]; ok {
				count++
			}
		}
		if count >= minMatching {
			matches = append(matches, d)
		}
	}
	s.mu.RUnlock()

	ch := make(chan kamilata.SearchResult, len(matches))
	for _, d := range matches {
		select {
		case <-ctx.Done():
			close(ch)
			return ch, ctx.Err()
		default:
		}
		ch <- &result{id: d.id, payload: d.payload}
	}
	close(ch)
	return ch, nil
}

// DecodeResult implements kamilata.Store.
func (s *Store) DecodeResult(data []byte) (kamilata.SearchResult, error) {
	return decodeResult(data)
}
