package kamilata

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultiaddr(s string) (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(s)
}

// fakeResult is a minimal SearchResult for tests in this package.
type fakeResult struct {
	id cid.Cid
}

func (r fakeResult) Cid() cid.Cid  { return r.id }
func (r fakeResult) Bytes() []byte { return r.id.Bytes() }

// fakeStore is a minimal Store for exercising Database without pulling in
// internal/memstore (which itself imports this package).
type fakeStore struct {
	n       uint
	hashes  map[string][]uint
	results []SearchResult
	level0  *Filter
}

func newFakeStore(n uint) *fakeStore {
	return &fakeStore{n: n, hashes: make(map[string][]uint)}
}

func (s *fakeStore) HashWord(word string) []uint { return s.hashes[word] }
func (s *fakeStore) FilterSize() uint             { return s.n }

func (s *fakeStore) GetFilter(ctx context.Context) (*Filter, error) {
	if s.level0 != nil {
		return s.level0, nil
	}
	return NewFilter(s.n), nil
}

func (s *fakeStore) Search(ctx context.Context, words []string, minMatching int) (<-chan SearchResult, error) {
	ch := make(chan SearchResult, len(s.results))
	for _, r := range s.results {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (s *fakeStore) DecodeResult(data []byte) (SearchResult, error) {
	c, err := cid.Cast(data)
	if err != nil {
		return nil, err
	}
	return fakeResult{id: c}, nil
}

func newTestPeer(t *testing.T) peer.ID {
	t.Helper()
	p, err := test.RandPeerID()
	require.NoError(t, err)
	return p
}

func newTestDB(n uint) *Database {
	cfg := DefaultKamilataConfig()
	cfg.FilterCount = 3
	cfg.MaxSeeders = 2
	cfg.MaxLeechers = 2
	return NewDatabase(cfg, newFakeStore(n))
}

func TestDatabaseAddSeederEnforcesCap(t *testing.T) {
	db := newTestDB(4)
	p1, p2, p3 := newTestPeer(t), newTestPeer(t), newTestPeer(t)

	require.NoError(t, db.AddSeeder(p1))
	require.NoError(t, db.AddSeeder(p2))
	assert.ErrorIs(t, db.AddSeeder(p3), ErrTooManySeeders)
	assert.Equal(t, 2, db.SeederCount())

	// Re-adding an existing seeder is a no-op, not an admission attempt.
	assert.NoError(t, db.AddSeeder(p1))
}

func TestDatabaseAddLeecherEnforcesCap(t *testing.T) {
	db := newTestDB(4)
	p1, p2, p3 := newTestPeer(t), newTestPeer(t), newTestPeer(t)

	require.NoError(t, db.AddLeecher(p1))
	require.NoError(t, db.AddLeecher(p2))
	assert.ErrorIs(t, db.AddLeecher(p3), ErrTooManyLeechers)
}

func TestDatabaseSetRemoteFilterTruncatesAndValidates(t *testing.T) {
	db := newTestDB(4)
	p := newTestPeer(t)
	require.NoError(t, db.AddSeeder(p))

	stack := Stack{NewFilter(4), NewFilter(4), NewFilter(4), NewFilter(4), NewFilter(4)}
	require.NoError(t, db.SetRemoteFilter(p, stack))

	db.filtersMu.RLock()
	got := db.remoteFilters[p]
	db.filtersMu.RUnlock()
	assert.Len(t, got, 3) // clamped to FilterCount

	badStack := Stack{NewFilter(2)}
	err := db.SetRemoteFilter(p, badStack)
	assert.ErrorIs(t, err, ErrFilterSize)
}

func TestDatabaseRemovePeerClearsEverything(t *testing.T) {
	db := newTestDB(4)
	p := newTestPeer(t)
	require.NoError(t, db.AddSeeder(p))
	require.NoError(t, db.AddLeecher(p))
	require.NoError(t, db.SetRemoteFilter(p, Stack{NewFilter(4)}))

	db.RemovePeer(p)

	assert.Equal(t, 0, db.SeederCount())
	assert.Equal(t, 0, db.LeecherCount())
	assert.False(t, db.IsSeeder(p))
	assert.Empty(t, db.GetAddresses(p))
}

func TestDatabaseGetFiltersAggregatesAndStopsOnEmptyLevel(t *testing.T) {
	db := newTestDB(4)
	p1, p2 := newTestPeer(t), newTestPeer(t)
	require.NoError(t, db.AddSeeder(p1))
	require.NoError(t, db.AddSeeder(p2))

	level0a := NewFilter(4)
	level0a.Set(1)
	level1a := NewFilter(4)
	level1a.Set(2)
	require.NoError(t, db.SetRemoteFilter(p1, Stack{level0a, level1a}))

	level0b := NewFilter(4)
	level0b.Set(9)
	require.NoError(t, db.SetRemoteFilter(p2, Stack{level0b}))

	stack, err := db.GetFilters(context.Background(), nil, 0)
	require.NoError(t, err)

	// level 0: our own filter (empty). level 1: union of p1 and p2's level-0
	// filters. level 2: union of p1's level-1 filter only (p2 has none).
	require.Len(t, stack, 3)
	assert.True(t, stack[1].Test(1))
	assert.True(t, stack[1].Test(9))
	assert.True(t, stack[2].Test(2))
}

func TestDatabaseGetFiltersHonoursRequestedLevelBound(t *testing.T) {
	db := newTestDB(4)
	p1 := newTestPeer(t)
	require.NoError(t, db.AddSeeder(p1))

	level0 := NewFilter(4)
	level0.Set(1)
	level1 := NewFilter(4)
	level1.Set(2)
	require.NoError(t, db.SetRemoteFilter(p1, Stack{level0, level1}))

	stack, err := db.GetFilters(context.Background(), nil, 2)
	require.NoError(t, err)
	// Without a bound this would aggregate 3 levels (our own + 2 remote
	// levels); capped to 2 by the requester's filter_count.
	assert.Len(t, stack, 2)
}

func TestDatabaseGetFiltersHonoursIgnore(t *testing.T) {
	db := newTestDB(4)
	p1 := newTestPeer(t)
	require.NoError(t, db.AddSeeder(p1))
	f := NewFilter(4)
	f.Set(0)
	require.NoError(t, db.SetRemoteFilter(p1, Stack{f}))

	stack, err := db.GetFilters(context.Background(), map[peer.ID]struct{}{p1: {}}, 0)
	require.NoError(t, err)
	// With p1 ignored, level 1's union is empty and aggregation stops there.
	assert.Len(t, stack, 1)
}

func TestDatabaseSearchRoutesDropsNoMatchPeers(t *testing.T) {
	db := newTestDB(4)
	p1, p2 := newTestPeer(t), newTestPeer(t)
	require.NoError(t, db.AddSeeder(p1))
	require.NoError(t, db.AddSeeder(p2))

	store := db.Store().(*fakeStore)
	store.hashes["movie"] = []uint{0}

	f1 := NewFilter(4)
	f1.Set(0)
	require.NoError(t, db.SetRemoteFilter(p1, Stack{f1}))
	require.NoError(t, db.SetRemoteFilter(p2, Stack{NewFilter(4)}))

	routes := db.SearchRoutes(SearchQueries{{Words: []string{"movie"}, MinMatching: 1}})
	require.Len(t, routes, 1)
	assert.Equal(t, p1, routes[0].Peer)
	assert.Equal(t, Distance(0), routes[0].Distances[0])
}

func TestDatabaseBlockPeerExcludesFromAggregation(t *testing.T) {
	db := newTestDB(4)
	blocked, other := newTestPeer(t), newTestPeer(t)
	require.NoError(t, db.AddSeeder(blocked))
	require.NoError(t, db.AddSeeder(other))

	fBlocked := NewFilter(4)
	fBlocked.Set(3)
	require.NoError(t, db.SetRemoteFilter(blocked, Stack{fBlocked}))
	fOther := NewFilter(4)
	fOther.Set(5)
	require.NoError(t, db.SetRemoteFilter(other, Stack{fOther}))

	db.BlockPeer(blocked)
	assert.ElementsMatch(t, []peer.ID{blocked}, db.BlockedPeers())

	ignore := map[peer.ID]struct{}{}
	for _, p := range db.BlockedPeers() {
		ignore[p] = struct{}{}
	}
	stack, err := db.GetFilters(context.Background(), ignore, 0)
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.False(t, stack[1].Test(3), "blocked peer's filter must not be aggregated")
	assert.True(t, stack[1].Test(5))

	db.UnblockPeer(blocked)
	assert.Empty(t, db.BlockedPeers())
}

func TestDatabaseInsertAddressDedupsAndOrders(t *testing.T) {
	db := newTestDB(4)
	p := newTestPeer(t)
	a1, err := newTestMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	a2, err := newTestMultiaddr("/ip4/127.0.0.1/tcp/4002")
	require.NoError(t, err)

	db.InsertAddress(p, a1, false)
	db.InsertAddress(p, a2, true)
	db.InsertAddress(p, a1, false) // duplicate, ignored

	addrs := db.GetAddresses(p)
	require.Len(t, addrs, 2)
	assert.True(t, addrs[0].Equal(a2))
}
