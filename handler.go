package kamilata

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// handleInboundStream dispatches a freshly-opened inbound substream to the
// task matching its first request (spec §4.4, §4.5). It owns the stream for
// its whole lifetime and always closes it on return.
func handleInboundStream(ctx context.Context, db *Database, s network.Stream, log *zap.SugaredLogger) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	r := bufio.NewReader(s)

	req, err := readRequest(r)
	if err != nil {
		log.Debugw("read inbound request failed", "peer", remote, "err", err)
		return
	}

	switch req.Kind {
	case ReqGetFilters:
		handleInboundGetFilters(ctx, db, s, r, remote, req, log)
	case ReqPostFilters:
		handleInboundPostFilters(ctx, db, s, r, remote, req, log)
	case ReqSearch:
		handleInboundSearch(ctx, db, s, remote, req, log)
	case ReqDisconnect:
	default:
		log.Debugw("unknown request kind", "peer", remote, "kind", req.Kind)
	}
}

// handleInboundGetFilters admits remote as a leecher and pushes UpdateFilters
// on the negotiated interval until the stream closes (spec §4.5 "GetFilters").
func handleInboundGetFilters(ctx context.Context, db *Database, s network.Stream, r *bufio.Reader, remote peer.ID, req *RequestPacket, log *zap.SugaredLogger) {
	if err := db.AddLeecher(remote); err != nil {
		sendResponse(s, &ResponsePacket{Kind: RespDisconnect, Reason: err.Error()})
		return
	}
	interval, ok := db.GetConfig().GetFiltersInterval.Intersection(req.Interval)
	if !ok {
		log.Debugw("no overlapping refresh interval", "peer", remote, "err", ErrNoIntervalAgreement)
		sendResponse(s, &ResponsePacket{Kind: RespDisconnect, Reason: ErrNoIntervalAgreement.Error()})
		return
	}
	if err := sendResponse(s, &ResponsePacket{Kind: RespConfirmRefresh, Interval: interval}); err != nil {
		return
	}
	ignore := map[peer.ID]struct{}{remote: {}}
	for _, p := range db.BlockedPeers() {
		ignore[p] = struct{}{}
	}
	for _, p := range req.BlockedPeers {
		ignore[p] = struct{}{}
	}
	runSeederSide(ctx, s, db, remote, interval, req.FilterCount, ignore, log)
}

// handleInboundPostFilters admits remote as a seeder and then reads the
// UpdateFilters it pushes on the negotiated interval (spec §4.5 "PostFilters").
func handleInboundPostFilters(ctx context.Context, db *Database, s network.Stream, r *bufio.Reader, remote peer.ID, req *RequestPacket, log *zap.SugaredLogger) {
	if err := db.AddSeeder(remote); err != nil {
		sendResponse(s, &ResponsePacket{Kind: RespDisconnect, Reason: err.Error()})
		return
	}
	interval, ok := db.GetConfig().GetFiltersInterval.Intersection(req.Interval)
	if !ok {
		log.Debugw("no overlapping refresh interval", "peer", remote, "err", ErrNoIntervalAgreement)
		sendResponse(s, &ResponsePacket{Kind: RespDisconnect, Reason: ErrNoIntervalAgreement.Error()})
		return
	}
	if err := sendResponse(s, &ResponsePacket{Kind: RespConfirmRefresh, Interval: interval}); err != nil {
		return
	}
	runLeecherSide(ctx, r, db, remote, interval, log)
}

// handleInboundSearch answers a one-shot Search request with local matches
// plus routing hints toward better-positioned peers (spec §4.5 "Search").
func handleInboundSearch(ctx context.Context, db *Database, s network.Stream, remote peer.ID, req *RequestPacket, log *zap.SugaredLogger) {
	resp, err := buildResultsResponse(ctx, db, req.Queries)
	if err != nil {
		log.Debugw("local search failed", "peer", remote, "err", err)
		sendResponse(s, &ResponsePacket{Kind: RespDisconnect, Reason: err.Error()})
		return
	}
	sendResponse(s, resp)
}

// buildResultsResponse runs a local search and routing-hint computation and
// assembles the Results response that inbound Search handling sends back to
// a querying peer's search engine (spec §4.5, §4.7).
func buildResultsResponse(ctx context.Context, db *Database, queries SearchQueries) (*ResponsePacket, error) {
	routes := db.SearchRoutes(queries)
	matches, err := db.SearchLocal(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}

	seen := make(map[cid.Cid]struct{}, len(matches))
	resultMatches := make([]ResultMatch, 0, len(matches))
	for _, m := range matches {
		c := m.Result.Cid()
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		resultMatches = append(resultMatches, ResultMatch{Query: m.Query, Data: m.Result.Bytes()})
	}

	resultRoutes := make([]ResultRoute, 0, len(routes))
	for _, rt := range routes {
		resultRoutes = append(resultRoutes, ResultRoute{
			Peer:      rt.Peer,
			Addresses: db.GetAddresses(rt.Peer),
			Distances: rt.Distances,
		})
	}

	return &ResponsePacket{Kind: RespResults, Routes: resultRoutes, Matches: resultMatches}, nil
}

// runSeederSide pushes this node's aggregated filter stack to remote
// immediately, then again on every tick of interval.Target() (spec §4.5
// "seed_filters": "loop { compute get_filters, send UpdateFilters,
// sleep(interval) }" — the first stack must not wait out a full interval).
// ignore always contains remote itself, plus any peers blocked from
// aggregation locally or by the leecher's own request (spec §4.4
// "blocked_peers"). requestedLevels bounds aggregation to at most that many
// levels (spec §4.4 "filter_count"); zero means use our own configured
// count.
func runSeederSide(ctx context.Context, s network.Stream, db *Database, remote peer.ID, interval MinTargetMax, requestedLevels int, ignore map[peer.ID]struct{}, log *zap.SugaredLogger) {
	send := func() bool {
		stack, err := db.GetFilters(ctx, ignore, requestedLevels)
		if err != nil {
			log.Debugw("aggregate filters failed", "peer", remote, "err", err)
			return false
		}
		if err := WriteFrame(s, EncodeResponse(&ResponsePacket{Kind: RespUpdateFilters, Filters: stack})); err != nil {
			return false
		}
		return true
	}
	if !send() {
		return
	}

	ticker := time.NewTicker(time.Duration(interval.Target()) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// runLeecherSide reads UpdateFilters frames pushed by remote and stores
// them, until the stream closes, a frame fails to decode (including a stack
// with more than FilterCount levels), a packet of another kind arrives, or
// the stack is rejected by SetRemoteFilter.
func runLeecherSide(ctx context.Context, r *bufio.Reader, db *Database, remote peer.ID, interval MinTargetMax, log *zap.SugaredLogger) {
	maxLevels := db.GetConfig().FilterCount
	for {
		frame, err := ReadFrame(r)
		if err != nil {
			return
		}
		resp, err := DecodeResponse(frame, maxLevels)
		if err != nil {
			log.Warnw("decode update filters failed", "peer", remote, "err", err)
			return
		}
		if resp.Kind != RespUpdateFilters {
			log.Warnw("unexpected packet while leeching filters", "peer", remote, "kind", resp.Kind, "err", ErrUnexpectedPacket)
			return
		}
		if err := db.SetRemoteFilter(remote, resp.Filters); err != nil {
			log.Warnw("set remote filter failed", "peer", remote, "err", err)
			return
		}
		if len(resp.Filters) > 0 {
			log.Debugw("stored remote filters", "peer", remote, "levels", len(resp.Filters), "load", resp.Filters[0].Load())
		}
	}
}
