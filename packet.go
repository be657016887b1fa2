package kamilata

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// RequestPacket is the tagged union of messages a substream initiator sends
// (spec §4.4). Only the fields of the variant selected by Kind are meaningful.
type RequestPacket struct {
	Kind RequestKind

	// GetFilters / PostFilters
	Interval MinTargetMax

	// GetFilters only: how many filter levels the requester wants the
	// responder to aggregate (spec §4.4 "filter_count: u8"). Zero means
	// "use the responder's own configured level count".
	FilterCount int

	// GetFilters only: peers the requester asks the responder to exclude
	// from its filter aggregation (spec §4.4 "blocked_peers").
	BlockedPeers []peer.ID

	// Search
	Queries  SearchQueries
	Priority SearchPriority
	ReqLimit int

	// Disconnect only
	Reason     string
	TryAgainIn *uint32 // seconds; nil means no retry hint
}

// RequestKind tags a RequestPacket's active variant.
type RequestKind uint8

const (
	ReqGetFilters RequestKind = iota
	ReqPostFilters
	ReqSearch
	ReqDisconnect
)

// ResponsePacket is the tagged union of messages a substream acceptor sends
// back (spec §4.4).
type ResponsePacket struct {
	Kind ResponseKind

	// ConfirmRefresh / UpdateFilters
	Interval MinTargetMax
	Filters  Stack

	// Results
	Routes  []ResultRoute
	Matches []ResultMatch

	// Disconnect only
	Reason     string
	TryAgainIn *uint32 // seconds; nil means no retry hint
}

// ResponseKind tags a ResponsePacket's active variant.
type ResponseKind uint8

const (
	RespConfirmRefresh ResponseKind = iota
	RespUpdateFilters
	RespResults
	RespDisconnect
)

// ResultRoute is one entry of a Results response's routing hints: a peer
// that might have better answers than the responder, plus how to reach it
// (spec §4.4 "Results", ports packets.rs's RemoteMatch).
type ResultRoute struct {
	Peer      peer.ID
	Addresses []multiaddr.Multiaddr
	Distances []Distance
}

// ResultMatch is one local document match carried in a Results response
// (ports packets.rs's LocalMatch).
type ResultMatch struct {
	Query int
	Data  []byte
}
