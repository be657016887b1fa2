package kamilata

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Stack is a remote peer's filter stack, ordered level 0 (closest) to
// level K-1 (farthest) — spec §3 "Filter stack".
type Stack []*Filter

// Distance is a routing distance hint. NoDistance means a peer's filters
// never matched a query at any level (spec GLOSSARY "Distance").
type Distance int

const NoDistance Distance = -1

// ProviderRoute is one seeder's per-query distance vector, the frontier
// seed produced by SearchRoutes (spec §4.3 "Routing hint algorithm").
type ProviderRoute struct {
	Peer      peer.ID
	Distances []Distance
}

// LocalMatch pairs a search result with the index of the query it satisfied.
type LocalMatch struct {
	Query  int
	Result SearchResult
}

// Database is the process-wide mutable state (spec §4.3): config, the
// external store handle, per-peer filter stacks, seeder/leecher admission
// sets, and known addresses. Every operation is internally serialised with
// a fixed lock order — config, store, filters, leechers, addresses — to
// prevent deadlocks (spec §5 "Shared-resource policy").
type Database struct {
	configMu sync.RWMutex
	config   KamilataConfig

	storeMu sync.RWMutex
	store   Store

	// filters groups the seeder admission set with the filter stacks they
	// have sent us: admission happens before any stack is received, so the
	// two live under one lock but are logically distinct (spec §3).
	filtersMu     sync.RWMutex
	seeders       map[peer.ID]struct{}
	remoteFilters map[peer.ID]Stack

	leechersMu sync.RWMutex
	leechers   map[peer.ID]struct{}

	addressesMu sync.RWMutex
	addresses   map[peer.ID][]multiaddr.Multiaddr

	blockedMu sync.RWMutex
	blocked   map[peer.ID]struct{}

	log *zap.SugaredLogger
}

// NewDatabase constructs a Database around an application-supplied store.
func NewDatabase(config KamilataConfig, store Store) *Database {
	return &Database{
		config:        config,
		store:         store,
		seeders:       make(map[peer.ID]struct{}),
		remoteFilters: make(map[peer.ID]Stack),
		leechers:      make(map[peer.ID]struct{}),
		addresses:     make(map[peer.ID][]multiaddr.Multiaddr),
		blocked:       make(map[peer.ID]struct{}),
		log:           zap.L().Sugar().Named("kamilata.db"),
	}
}

// GetConfig returns a copy of the current configuration.
func (d *Database) GetConfig() KamilataConfig {
	d.configMu.RLock()
	defer d.configMu.RUnlock()
	return d.config
}

// SetConfig atomically replaces the configuration.
func (d *Database) SetConfig(c KamilataConfig) {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	d.config = c
}

// Store returns the store handle.
func (d *Database) Store() Store {
	d.storeMu.RLock()
	defer d.storeMu.RUnlock()
	return d.store
}

// SeederCount returns the number of peers currently admitted as seeders.
func (d *Database) SeederCount() int {
	d.filtersMu.RLock()
	defer d.filtersMu.RUnlock()
	return len(d.seeders)
}

// LeecherCount returns the number of peers currently admitted as leechers.
func (d *Database) LeecherCount() int {
	d.leechersMu.RLock()
	defer d.leechersMu.RUnlock()
	return len(d.leechers)
}

// AddSeeder admits p as a peer allowed to send us filters, enforcing
// max_seeders (spec §4.3, invariant P1).
func (d *Database) AddSeeder(p peer.ID) error {
	cfg := d.GetConfig()
	d.filtersMu.Lock()
	defer d.filtersMu.Unlock()
	if _, ok := d.seeders[p]; ok {
		return nil
	}
	if len(d.seeders) >= cfg.MaxSeeders {
		return ErrTooManySeeders
	}
	d.seeders[p] = struct{}{}
	return nil
}

// AddLeecher admits p as a peer we send our filters to, enforcing
// max_leechers (spec §4.3, invariant P1).
func (d *Database) AddLeecher(p peer.ID) error {
	cfg := d.GetConfig()
	d.leechersMu.Lock()
	defer d.leechersMu.Unlock()
	if _, ok := d.leechers[p]; ok {
		return nil
	}
	if len(d.leechers) >= cfg.MaxLeechers {
		return ErrTooManyLeechers
	}
	d.leechers[p] = struct{}{}
	return nil
}

// IsSeeder reports whether p is currently admitted as a seeder.
func (d *Database) IsSeeder(p peer.ID) bool {
	d.filtersMu.RLock()
	defer d.filtersMu.RUnlock()
	_, ok := d.seeders[p]
	return ok
}

// SetRemoteFilter replaces the filter stack received from p. Stacks longer
// than the configured filter_count are truncated; any filter whose byte
// length differs from the store's N is rejected outright (spec §4.3, open
// question "filter-stack truncation on receive").
func (d *Database) SetRemoteFilter(p peer.ID, stack Stack) error {
	cfg := d.GetConfig()
	n := d.Store().FilterSize()
	for i, f := range stack {
		if f.N() != n {
			return fmt.Errorf("%w: level %d has %d bytes, want %d", ErrFilterSize, i, f.N(), n)
		}
	}
	if len(stack) > cfg.FilterCount {
		stack = stack[:cfg.FilterCount]
	}
	d.filtersMu.Lock()
	defer d.filtersMu.Unlock()
	d.remoteFilters[p] = stack
	return nil
}

// RemovePeer atomically removes all data about p: its seeder/leecher
// admission, its filter stack, and its known addresses (spec §4.3).
func (d *Database) RemovePeer(p peer.ID) {
	d.filtersMu.Lock()
	delete(d.seeders, p)
	delete(d.remoteFilters, p)
	d.filtersMu.Unlock()

	d.leechersMu.Lock()
	delete(d.leechers, p)
	d.leechersMu.Unlock()

	d.addressesMu.Lock()
	delete(d.addresses, p)
	d.addressesMu.Unlock()
}

// InsertAddress records a deduplicated address for p. front=true means the
// address was just verified by a successful dial and is moved to the head
// of the list (spec §4.3).
func (d *Database) InsertAddress(p peer.ID, addr multiaddr.Multiaddr, front bool) {
	d.addressesMu.Lock()
	defer d.addressesMu.Unlock()
	addrs := d.addresses[p]
	for _, a := range addrs {
		if a.Equal(addr) {
			return
		}
	}
	if front {
		addrs = append([]multiaddr.Multiaddr{addr}, addrs...)
	} else {
		addrs = append(addrs, addr)
	}
	d.addresses[p] = addrs
}

// SetAddresses replaces the known address list for p outright.
func (d *Database) SetAddresses(p peer.ID, addrs []multiaddr.Multiaddr) {
	d.addressesMu.Lock()
	defer d.addressesMu.Unlock()
	cp := make([]multiaddr.Multiaddr, len(addrs))
	copy(cp, addrs)
	d.addresses[p] = cp
}

// GetAddresses returns the addresses known for p, best first.
func (d *Database) GetAddresses(p peer.ID) []multiaddr.Multiaddr {
	d.addressesMu.RLock()
	defer d.addressesMu.RUnlock()
	addrs := d.addresses[p]
	cp := make([]multiaddr.Multiaddr, len(addrs))
	copy(cp, addrs)
	return cp
}

// BlockPeer marks p so that no aggregation we send out will route through
// it, per the "do not aggregate via this peer" intent (spec §4.4, open
// question "blocked_peers semantics", resolved in DESIGN.md as authoritative
// at the sender of UpdateFilters).
func (d *Database) BlockPeer(p peer.ID) {
	d.blockedMu.Lock()
	defer d.blockedMu.Unlock()
	d.blocked[p] = struct{}{}
}

// UnblockPeer reverses a prior BlockPeer.
func (d *Database) UnblockPeer(p peer.ID) {
	d.blockedMu.Lock()
	defer d.blockedMu.Unlock()
	delete(d.blocked, p)
}

// BlockedPeers returns every peer currently blocked from aggregation.
func (d *Database) BlockedPeers() []peer.ID {
	d.blockedMu.RLock()
	defer d.blockedMu.RUnlock()
	out := make([]peer.ID, 0, len(d.blocked))
	for p := range d.blocked {
		out = append(out, p)
	}
	return out
}

// GetFilters runs the aggregation algorithm (spec §4.3): level 0 is our own
// store's filter; level k>=1 is the union, over every admitted seeder not
// in ignore, of that seeder's level k-1 filter. Aggregation stops the first
// time a level's union is empty. The filters read-lock is held for the
// whole aggregation and never across I/O or the store call.
// GetFilters aggregates the filter stack we push to a seeker (spec §4.3
// "get_filters"). maxLevels, when positive, additionally bounds the result
// to that many levels even if our own FilterCount is larger — this is how a
// requester's "filter_count" in a GetFilters request is honored.
func (d *Database) GetFilters(ctx context.Context, ignore map[peer.ID]struct{}, maxLevels int) (Stack, error) {
	store := d.Store()
	level0, err := store.GetFilter(ctx)
	if err != nil {
		return nil, fmt.Errorf("get local filter: %w", err)
	}
	cfg := d.GetConfig()
	n := store.FilterSize()
	levels := cfg.FilterCount
	if maxLevels > 0 && maxLevels < levels {
		levels = maxLevels
	}

	result := Stack{level0}
	d.filtersMu.RLock()
	defer d.filtersMu.RUnlock()
	for k := 1; k < levels; k++ {
		agg := NewFilter(n)
		isNull := true
		for p, stack := range d.remoteFilters {
			if _, skip := ignore[p]; skip {
				continue
			}
			if k-1 < len(stack) {
				agg.UnionInPlace(stack[k-1])
				isNull = false
			}
		}
		if isNull {
			break
		}
		result = append(result, agg)
	}
	return result, nil
}

// SearchRoutes computes, for every admitted seeder, the smallest filter
// level at which each query matches (spec §4.3 "Routing hint algorithm").
// Peers for which every query is NoDistance are dropped from the result.
func (d *Database) SearchRoutes(queries SearchQueries) []ProviderRoute {
	hash := d.Store()
	d.filtersMu.RLock()
	defer d.filtersMu.RUnlock()

	out := make([]ProviderRoute, 0, len(d.remoteFilters))
	for p, stack := range d.remoteFilters {
		distances := make([]Distance, len(queries))
		anyMatch := false
		for qi, q := range queries {
			distances[qi] = NoDistance
			for level, f := range stack {
				if q.Matches(f, hash) {
					distances[qi] = Distance(level)
					anyMatch = true
					break
				}
			}
		}
		if anyMatch {
			out = append(out, ProviderRoute{Peer: p, Distances: distances})
		}
	}
	return out
}

// SearchLocal runs one Store.Search per query and flattens the results,
// without de-duplicating across queries: callers (the search engine, the
// inbound request handler) own their own de-duplication policy (spec §4.7,
// design note "De-duplication across queries").
func (d *Database) SearchLocal(ctx context.Context, queries SearchQueries) ([]LocalMatch, error) {
	store := d.Store()
	var out []LocalMatch
	for qi, q := range queries {
		ch, err := store.Search(ctx, q.Words, q.MinMatching)
		if err != nil {
			return nil, fmt.Errorf("search query %d: %w", qi, err)
		}
		for r := range ch {
			out = append(out, LocalMatch{Query: qi, Result: r})
		}
	}
	return out, nil
}
