package kamilata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueriesFromText(t *testing.T) {
	qs := QueriesFromText("The Great Escape, a movie.")
	assert.Len(t, qs, 1)
	assert.Equal(t, []string{"The", "Great", "Escape", "movie"}, qs[0].Words)
	assert.Equal(t, len(qs[0].Words), qs[0].MinMatching)
}

func TestQueriesFromTextDropsShortWords(t *testing.T) {
	qs := QueriesFromText("a an to be the big dog")
	assert.Equal(t, []string{"the", "big", "dog"}, qs[0].Words)
}

func TestQueriesFromTexts(t *testing.T) {
	qs := QueriesFromTexts([]string{"first query", "second one here"})
	assert.Len(t, qs, 2)
	assert.Equal(t, []string{"first", "query"}, qs[0].Words)
	assert.Equal(t, []string{"second", "one", "here"}, qs[1].Words)
}

func TestQueryMatches(t *testing.T) {
	hash := staticHasher{"great": {1}, "escape": {2}, "movie": {3}}
	f := NewFilter(1)
	f.AddWord("great", hash)
	f.AddWord("escape", hash)

	q := Query{Words: []string{"great", "escape", "movie"}, MinMatching: 2}
	assert.True(t, q.Matches(f, hash))

	q2 := Query{Words: []string{"great", "escape", "movie"}, MinMatching: 3}
	assert.False(t, q2.Matches(f, hash))
}

func TestQueryMatchesNilFilter(t *testing.T) {
	q := Query{Words: []string{"x"}, MinMatching: 1}
	assert.False(t, q.Matches(nil, staticHasher{}))
}
