package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilata/kamilata"
)

func TestStoreHashWordIsDeterministicAndCaseInsensitive(t *testing.T) {
	s := New(64)
	a := s.HashWord("Movie")
	b := s.HashWord("movie")
	assert.Equal(t, a, b)
	assert.Len(t, a, 2)
	assert.NotEqual(t, a[0], a[1])
}

func TestStoreHashWordZeroSizeReturnsNil(t *testing.T) {
	s := New(0)
	assert.Nil(t, s.HashWord("movie"))
}

func TestStoreGetFilterUnionsDocumentWords(t *testing.T) {
	s := New(64)
	s.AddDocument(mustTestCid(t, "doc-1"), []string{"spaceship", "laser"}, []byte("a"))
	s.AddDocument(mustTestCid(t, "doc-2"), []string{"dragon"}, []byte("b"))

	f, err := s.GetFilter(context.Background())
	require.NoError(t, err)

	for _, w := range []string{"spaceship", "laser", "dragon"} {
		assert.True(t, f.TestWord(w, s), "expected filter to contain %q", w)
	}
	assert.False(t, f.TestWord("unrelated-term-xyz", s))
}

func TestStoreSearchFiltersByMinMatching(t *testing.T) {
	s := New(64)
	idA := mustTestCid(t, "doc-a")
	idB := mustTestCid(t, "doc-b")
	s.AddDocument(idA, []string{"spaceship", "laser", "dragon"}, []byte("a"))
	s.AddDocument(idB, []string{"dragon"}, []byte("b"))

	ch, err := s.Search(context.Background(), []string{"spaceship", "laser"}, 2)
	require.NoError(t, err)

	var found []kamilata.SearchResult
	for r := range ch {
		found = append(found, r)
	}
	require.Len(t, found, 1)
	assert.Equal(t, idA, found[0].Cid())
}

func TestStoreSearchMinMatchingOneMatchesEither(t *testing.T) {
	s := New(64)
	idA := mustTestCid(t, "doc-a")
	idB := mustTestCid(t, "doc-b")
	s.AddDocument(idA, []string{"spaceship"}, nil)
	s.AddDocument(idB, []string{"dragon"}, nil)

	ch, err := s.Search(context.Background(), []string{"spaceship", "dragon"}, 1)
	require.NoError(t, err)

	var ids []string
	for r := range ch {
		ids = append(ids, r.Cid().String())
	}
	assert.Len(t, ids, 2)
}

func TestStoreRemoveDocument(t *testing.T) {
	s := New(64)
	id := mustTestCid(t, "doc-1")
	s.AddDocument(id, []string{"spaceship"}, nil)
	require.Equal(t, 1, s.Len())

	s.RemoveDocument(id)
	assert.Equal(t, 0, s.Len())

	ch, err := s.Search(context.Background(), []string{"spaceship"}, 1)
	require.NoError(t, err)
	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 0, count)
}

func TestStoreDecodeResultDelegatesToResult(t *testing.T) {
	s := New(64)
	id := mustTestCid(t, "doc-1")
	s.AddDocument(id, []string{"spaceship"}, []byte("payload"))

	ch, err := s.Search(context.Background(), []string{"spaceship"}, 1)
	require.NoError(t, err)
	r := <-ch

	decoded, err := s.DecodeResult(r.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, decoded.Cid())
}
