package kamilata

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

// SearchHandle is the caller-facing side of an ongoing search (ports
// control.rs's OngoingSearchFollower plus the steering calls it exposes).
// All methods are safe for concurrent use.
type SearchHandle struct {
	s *ongoingSearch
}

// Recv blocks for the next result, returning false once the search has
// finished and drained its buffer, or ctx is cancelled first.
func (h *SearchHandle) Recv(ctx context.Context) (SearchResult, bool) {
	return h.s.Recv(ctx)
}

// TryRecv returns the next buffered result without blocking.
func (h *SearchHandle) TryRecv() (SearchResult, bool) {
	return h.s.TryRecv()
}

// Queries returns the queries currently driving the search.
func (h *SearchHandle) Queries() SearchQueries { return h.s.Queries() }

// TruncateQueries drops every query past n.
func (h *SearchHandle) TruncateQueries(n int) { h.s.TruncateQueries(n) }

// Config returns the search's current tunables.
func (h *SearchHandle) Config() SearchConfig { return h.s.Config() }

// SetConfig replaces the search's tunables, taking effect from the next
// frontier pop onward.
func (h *SearchHandle) SetConfig(c SearchConfig) { h.s.SetConfig(c) }

// Priority returns the search's current priority policy.
func (h *SearchHandle) Priority() SearchPriority { return h.s.Priority() }

// SetPriority replaces the search's priority policy.
func (h *SearchHandle) SetPriority(p SearchPriority) { h.s.SetPriority(p) }

// QueriedPeers returns every peer queried so far, in no particular order.
func (h *SearchHandle) QueriedPeers() []peer.ID { return h.s.QueriedPeers() }

// FinalPeers returns every queried peer that returned at least one match.
func (h *SearchHandle) FinalPeers() []peer.ID { return h.s.FinalPeers() }

// OngoingQueries returns the number of remote queries currently in flight.
func (h *SearchHandle) OngoingQueries() int { return h.s.OngoingQueries() }

// Finish stops the search immediately: in-flight requests are abandoned, and
// Recv and TryRecv return any results still buffered, then false.
func (h *SearchHandle) Finish() { h.s.Finish() }
