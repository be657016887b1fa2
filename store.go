package kamilata

import (
	"context"

	"github.com/ipfs/go-cid"
)

// WordHasher deterministically maps a word to one or more bit indices in
// [0, 8N). It must be identical across every node that interoperates on the
// same network, since filters are only comparable under a shared hash
// (spec §3 "Word hash").
type WordHasher interface {
	// HashWord returns at least one index for word, each strictly less than
	// FilterSize()*8.
	HashWord(word string) []uint
}

// SearchResult is a single document match. Cid uniquely names the document
// across the network; Bytes must round-trip through the Store's DecodeResult
// (spec §4.2, property R2).
type SearchResult interface {
	Cid() cid.Cid
	Bytes() []byte
}

// Store is the application-supplied document index (spec §4.2). The core
// never stores documents itself; it only calls these operations.
type Store interface {
	WordHasher

	// FilterSize is N, the fixed byte length of every filter this store
	// produces and accepts.
	FilterSize() uint

	// GetFilter returns the current level-0 filter. Expected O(1): stores
	// are expected to maintain it incrementally rather than rebuild it here.
	GetFilter(ctx context.Context) (*Filter, error)

	// Search yields results for which at least minMatching of words are
	// present, closing the channel when exhausted. Implementations may
	// stream results lazily; the engine drains the channel fully.
	Search(ctx context.Context, words []string, minMatching int) (<-chan SearchResult, error)

	// DecodeResult parses the wire encoding produced by a SearchResult's
	// Bytes method, as returned by a remote peer's Results response.
	DecodeResult(data []byte) (SearchResult, error)
}

// Query is a list of words plus a minimum match count (spec GLOSSARY).
type Query struct {
	Words       []string
	MinMatching int
}

// Matches reports whether filter satisfies q under hash.
func (q Query) Matches(filter *Filter, hash WordHasher) bool {
	if filter == nil {
		return false
	}
	count := 0
	for _, w := range q.Words {
		if filter.TestWord(w, hash) {
			count++
		}
	}
	return count >= q.MinMatching
}

// SearchQueries is an ordered group of queries, best first (spec §3
// "Ongoing-search state").
type SearchQueries []Query

// QueriesFromText splits text into words and builds a single query
// requiring every word to match (ports queries.rs's from_raw_text).
func QueriesFromText(text string) SearchQueries {
	words := splitWords(text)
	return SearchQueries{{Words: words, MinMatching: len(words)}}
}

// QueriesFromTexts builds one query per text, ordered best to worst
// (ports queries.rs's from_raw_text_iter).
func QueriesFromTexts(texts []string) SearchQueries {
	out := make(SearchQueries, 0, len(texts))
	for _, t := range texts {
		words := splitWords(t)
		out = append(out, Query{Words: words, MinMatching: len(words)})
	}
	return out
}

func splitWords(text string) []string {
	var words []string
	start := -1
	isSep := func(r byte) bool {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			return true
		case r >= '!' && r <= '/', r >= ':' && r <= '@', r >= '[' && r <= '`', r >= '{' && r <= '~':
			return true
		default:
			return false
		}
	}
	for i := 0; i < len(text); i++ {
		if isSep(text[i]) {
			if start >= 0 {
				if w := text[start:i]; len(w) >= 3 {
					words = append(words, w)
				}
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		if w := text[start:]; len(w) >= 3 {
			words = append(words, w)
		}
	}
	return words
}
