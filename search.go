package kamilata

import (
	"container/heap"
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ongoingSearch is the shared state behind one Search call: the query
// writer side (this file, driven by SearchEngine.run) and the caller-facing
// reader side (searchcontrol.go's SearchHandle) both act on it under mu
// (ports control.rs's OngoingSearchState, split across Controler/Follower).
type ongoingSearch struct {
	mu sync.Mutex

	queries        SearchQueries
	cfg            SearchConfig
	documentsFound int
	queriedPeers   map[peer.ID]struct{}
	matchedPeers   map[peer.ID]struct{}
	seenCids       map[cid.Cid]struct{}
	inFlight       int

	results  chan SearchResult
	done     chan struct{}
	doneOnce sync.Once
	cancel   context.CancelFunc
}

func newOngoingSearch(ctx context.Context, queries SearchQueries, cfg SearchConfig) (*ongoingSearch, context.Context) {
	searchCtx, cancel := context.WithCancel(ctx)
	return &ongoingSearch{
		queries:      queries,
		cfg:          cfg,
		queriedPeers: make(map[peer.ID]struct{}),
		matchedPeers: make(map[peer.ID]struct{}),
		seenCids:     make(map[cid.Cid]struct{}),
		results:      make(chan SearchResult, 256),
		done:         make(chan struct{}),
		cancel:       cancel,
	}, searchCtx
}

func (s *ongoingSearch) Queries() SearchQueries {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(SearchQueries(nil), s.queries...)
}

// TruncateQueries drops every query past n, letting a caller narrow an
// in-progress search once it has enough signal from the leading queries
// (ports control.rs's truncate_queries).
func (s *ongoingSearch) TruncateQueries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.queries) {
		s.queries = s.queries[:n]
	}
}

func (s *ongoingSearch) Config() SearchConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *ongoingSearch) SetConfig(c SearchConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = c
}

func (s *ongoingSearch) Priority() SearchPriority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Priority
}

func (s *ongoingSearch) SetPriority(p SearchPriority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Priority = p
}

func (s *ongoingSearch) DocumentsFound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentsFound
}

func (s *ongoingSearch) QueriedPeers() []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.ID, 0, len(s.queriedPeers))
	for p := range s.queriedPeers {
		out = append(out, p)
	}
	return out
}

// FinalPeers returns every queried peer that returned at least one match
// (spec §4.7: "Count this peer as a 'final' peer iff it returned at least
// one match" — a peer that only returned routing hints is not final).
func (s *ongoingSearch) FinalPeers() []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.ID, 0, len(s.matchedPeers))
	for p := range s.matchedPeers {
		out = append(out, p)
	}
	return out
}

func (s *ongoingSearch) OngoingQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *ongoingSearch) hasQueried(p peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queriedPeers[p]
	return ok
}

func (s *ongoingSearch) markQueried(p peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queriedPeers[p] = struct{}{}
	s.inFlight++
}

func (s *ongoingSearch) markFinished(peerID peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

// markMatched records that p's response carried at least one decodable
// match, making it a "final" peer regardless of whether tryEmit judged the
// match a duplicate.
func (s *ongoingSearch) markMatched(p peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchedPeers[p] = struct{}{}
}

// tryEmit delivers r to the caller unless it is a duplicate Cid already
// seen this search, the search was Finish()ed, or ctx expired — the last
// two are how a "caller gone" condition is detected, in place of the
// original's channel-send-error signal (spec §4.7 "De-duplication",
// "Abandonment").
func (s *ongoingSearch) tryEmit(ctx context.Context, r SearchResult) bool {
	s.mu.Lock()
	c := r.Cid()
	if _, dup := s.seenCids[c]; dup {
		s.mu.Unlock()
		return false
	}
	s.seenCids[c] = struct{}{}
	s.documentsFound++
	s.mu.Unlock()

	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case s.results <- r:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *ongoingSearch) Finish() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func (s *ongoingSearch) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *ongoingSearch) Recv(ctx context.Context) (SearchResult, bool) {
	select {
	case r, ok := <-s.results:
		return r, ok
	case <-ctx.Done():
		return nil, false
	case <-s.done:
		select {
		case r, ok := <-s.results:
			return r, ok
		default:
			return nil, false
		}
	}
}

func (s *ongoingSearch) TryRecv() (SearchResult, bool) {
	select {
	case r, ok := <-s.results:
		return r, ok
	default:
		return nil, false
	}
}

// SearchEngine drives the distributed best-effort search algorithm: a local
// scan, then a priority-ordered frontier of remote peers queried with
// bounded concurrency until the frontier is empty or the caller stops the
// search (spec §4.7, ports search.rs's search function).
type SearchEngine struct {
	b *Behaviour
}

// NewSearchEngine builds a SearchEngine bound to b's Database and host.
func NewSearchEngine(b *Behaviour) *SearchEngine {
	return &SearchEngine{b: b}
}

// Search starts a search for queries and returns a handle the caller uses
// to receive results and steer the search. The search runs in its own
// goroutine until its frontier is exhausted, ctx is cancelled, or the
// handle's Finish is called.
func (e *SearchEngine) Search(ctx context.Context, queries SearchQueries, cfg SearchConfig) *SearchHandle {
	state, searchCtx := newOngoingSearch(ctx, queries, cfg)
	go e.run(searchCtx, state)
	return &SearchHandle{s: state}
}

type queryOutcome struct {
	peer peer.ID
	resp *ResponsePacket
	err  error
}

func (e *SearchEngine) run(ctx context.Context, state *ongoingSearch) {
	defer close(state.results)
	defer state.Finish()

	db := e.b.Database()

	if localMatches, err := db.SearchLocal(ctx, state.Queries()); err == nil {
		for _, m := range localMatches {
			state.tryEmit(ctx, m.Result)
		}
	}

	h := &frontierHeap{mode: state.Priority().Resolve(state.DocumentsFound())}
	for _, rt := range db.SearchRoutes(state.Queries()) {
		h.items = append(h.items, frontierItem{route: rt})
	}
	heap.Init(h)

	outcomes := make(chan queryOutcome)

	for {
		if state.isDone() {
			return
		}
		cfg := state.Config()
		if mode := cfg.Priority.Resolve(state.DocumentsFound()); mode != h.mode {
			h.mode = mode
			heap.Init(h)
		}

		for state.OngoingQueries() < cfg.ReqLimit && h.Len() > 0 {
			item := heap.Pop(h).(frontierItem)
			if state.hasQueried(item.route.Peer) {
				continue
			}
			state.markQueried(item.route.Peer)
			go e.queryPeer(ctx, state, item.route, outcomes)
		}

		if state.OngoingQueries() == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case oc := <-outcomes:
			state.markFinished(oc.peer)
			if oc.err != nil {
				continue
			}
			e.absorbResponse(ctx, db, state, h, oc.peer, oc.resp)
		}
	}
}

func (e *SearchEngine) queryPeer(ctx context.Context, state *ongoingSearch, route ProviderRoute, outcomes chan<- queryOutcome) {
	cfg := state.Config()
	qctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	resp, err := requestSearch(qctx, e.b.Host(), route.Peer, state.Queries(), cfg.Priority, cfg.ReqLimit)
	select {
	case outcomes <- queryOutcome{peer: route.Peer, resp: resp, err: err}:
	case <-ctx.Done():
	}
}

func (e *SearchEngine) absorbResponse(ctx context.Context, db *Database, state *ongoingSearch, h *frontierHeap, from peer.ID, resp *ResponsePacket) {
	store := db.Store()
	for _, m := range resp.Matches {
		result, err := store.DecodeResult(m.Data)
		if err != nil {
			continue
		}
		state.markMatched(from)
		state.tryEmit(ctx, result)
	}
	for _, rt := range resp.Routes {
		if state.hasQueried(rt.Peer) {
			continue
		}
		for _, a := range rt.Addresses {
			db.InsertAddress(rt.Peer, a, false)
		}
		heap.Push(h, frontierItem{route: ProviderRoute{Peer: rt.Peer, Distances: rt.Distances}})
	}
}
