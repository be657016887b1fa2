package kamilata

import (
	"bufio"
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// leechFilters opens a substream to remote, asks for its filters, and on
// acceptance registers remote as one of our seeders and reads every
// UpdateFilters it pushes (spec §4.5 "GetFilters", outbound side). It
// returns once the relationship ends; callers run it in its own goroutine.
func leechFilters(ctx context.Context, h host.Host, db *Database, remote peer.ID, log *zap.SugaredLogger) {
	s, err := h.NewStream(ctx, remote, ProtocolID)
	if err != nil {
		log.Debugw("open stream for leechFilters failed", "peer", remote, "err", err)
		return
	}
	defer s.Close()

	cfg := db.GetConfig()
	req := &RequestPacket{Kind: ReqGetFilters, Interval: cfg.GetFiltersInterval, FilterCount: cfg.FilterCount, BlockedPeers: db.BlockedPeers()}
	if err := WriteFrame(s, EncodeRequest(req)); err != nil {
		return
	}
	r := bufio.NewReader(s)
	resp, interval, ok := readConfirmRefresh(r, log, remote)
	if !ok {
		return
	}
	_ = resp
	if err := db.AddSeeder(remote); err != nil {
		log.Debugw("local seeder admission failed", "peer", remote, "err", err)
		return
	}
	runLeecherSide(ctx, r, db, remote, interval, log)
}

// seedFilters opens a substream to remote, offers to push our filters, and
// on acceptance registers remote as one of our leechers and pushes
// UpdateFilters on the negotiated interval (spec §4.5 "PostFilters",
// outbound side).
func seedFilters(ctx context.Context, h host.Host, db *Database, remote peer.ID, log *zap.SugaredLogger) {
	s, err := h.NewStream(ctx, remote, ProtocolID)
	if err != nil {
		log.Debugw("open stream for seedFilters failed", "peer", remote, "err", err)
		return
	}
	defer s.Close()

	want := db.GetConfig().GetFiltersInterval
	if err := WriteFrame(s, EncodeRequest(&RequestPacket{Kind: ReqPostFilters, Interval: want})); err != nil {
		return
	}
	r := bufio.NewReader(s)
	_, interval, ok := readConfirmRefresh(r, log, remote)
	if !ok {
		return
	}
	if err := db.AddLeecher(remote); err != nil {
		log.Debugw("local leecher admission failed", "peer", remote, "err", err)
		return
	}
	ignore := map[peer.ID]struct{}{remote: {}}
	for _, p := range db.BlockedPeers() {
		ignore[p] = struct{}{}
	}
	runSeederSide(ctx, s, db, remote, interval, 0, ignore, log)
}

// readConfirmRefresh reads and validates the ConfirmRefresh handshake
// response shared by leechFilters and seedFilters.
func readConfirmRefresh(r *bufio.Reader, log *zap.SugaredLogger, remote peer.ID) (*ResponsePacket, MinTargetMax, bool) {
	frame, err := ReadFrame(r)
	if err != nil {
		log.Debugw("read confirm refresh failed", "peer", remote, "err", err)
		return nil, MinTargetMax{}, false
	}
	resp, err := DecodeResponse(frame, 0)
	if err != nil {
		log.Debugw("decode confirm refresh failed", "peer", remote, "err", err)
		return nil, MinTargetMax{}, false
	}
	if resp.Kind != RespConfirmRefresh {
		log.Debugw("peer declined refresh negotiation", "peer", remote, "kind", resp.Kind, "err", ErrUnexpectedPacket)
		return nil, MinTargetMax{}, false
	}
	return resp, resp.Interval, true
}

// requestSearch runs a one-shot Search exchange against remote and returns
// the parsed Results response (spec §4.5 "Search", §4.7 outbound queries).
func requestSearch(ctx context.Context, h host.Host, remote peer.ID, queries SearchQueries, priority SearchPriority, reqLimit int) (*ResponsePacket, error) {
	s, err := h.NewStream(ctx, remote, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer s.Close()

	req := &RequestPacket{Kind: ReqSearch, Queries: queries, Priority: priority, ReqLimit: reqLimit}
	return sendRequest(s, req)
}
