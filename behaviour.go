package kamilata

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const peerstoreTTL = peerstore.TempAddrTTL

// RoutingStats summarises the current seeder/leecher relationships against
// their configured caps, for diagnostics and tests (ports
// tests/routing_targets.rs's get_routing_stats).
type RoutingStats struct {
	Seeders     int
	Leechers    int
	MaxSeeders  int
	MaxLeechers int
}

// Behaviour is the top-level protocol driver for one libp2p host: it wires
// the substream handler, watches connection lifecycle to keep Database
// consistent, and keeps seeder/leecher relationships near their configured
// targets (spec §4.5 "Routing-init task"). It is the Go-idiom analogue of
// the original NetworkBehaviour: go-libp2p has no behaviour trait, so the
// same responsibilities are split across a stream handler and a
// network.Notifiee, following the pattern in mesh.go.
type Behaviour struct {
	host host.Host
	db   *Database
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	engine *SearchEngine

	connMu    sync.Mutex
	connected map[peer.ID]struct{}
}

// NewBehaviour builds a Behaviour around an already-constructed host and
// Database. Call Start to begin serving.
func NewBehaviour(h host.Host, db *Database) *Behaviour {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Behaviour{
		host:      h,
		db:        db,
		log:       zap.L().Sugar().Named("kamilata.behaviour"),
		ctx:       ctx,
		cancel:    cancel,
		connected: make(map[peer.ID]struct{}),
	}
	b.engine = NewSearchEngine(b)
	return b
}

// Start installs the substream handler and connection notifiee.
func (b *Behaviour) Start() {
	b.host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			handleInboundStream(b.ctx, b.db, s, b.log)
		}()
	})
	b.host.Network().Notify(b)
}

// Close stops accepting new work and waits for in-flight substream
// goroutines to return.
func (b *Behaviour) Close() error {
	b.cancel()
	b.host.RemoveStreamHandler(ProtocolID)
	b.host.Network().StopNotify(b)
	b.wg.Wait()
	return nil
}

// Database returns the behaviour's underlying Database.
func (b *Behaviour) Database() *Database { return b.db }

// Host returns the underlying libp2p host.
func (b *Behaviour) Host() host.Host { return b.host }

// RoutingStats reports the current seeder/leecher counts against their caps.
func (b *Behaviour) RoutingStats() RoutingStats {
	cfg := b.db.GetConfig()
	return RoutingStats{
		Seeders:     b.db.SeederCount(),
		Leechers:    b.db.LeecherCount(),
		MaxSeeders:  cfg.MaxSeeders,
		MaxLeechers: cfg.MaxLeechers,
	}
}

// Search starts a distributed best-effort search over queries (spec §4.7).
func (b *Behaviour) Search(ctx context.Context, queries SearchQueries, cfg SearchConfig) *SearchHandle {
	return b.engine.Search(ctx, queries, cfg)
}

// LeechFrom forces a leechFilters relationship toward remote regardless of
// how close we are to max_seeders' target, used when a caller already knows
// remote is worth following (spec supplemented feature, ports behaviour.rs's
// explicit dial-then-leech support). Admission is still governed by
// Database.AddSeeder; this only skips the automatic candidate selection.
func (b *Behaviour) LeechFrom(remote peer.ID) {
	b.spawn(func() { leechFilters(b.ctx, b.host, b.db, remote, b.log) })
}

// AddAddress records a known listen address for remote, returning
// ErrDisconnectedPeer if we are not currently connected to it (spec §6
// control surface "add_address", ports behaviour.rs's add_address).
func (b *Behaviour) AddAddress(remote peer.ID, addr multiaddr.Multiaddr) error {
	if !b.isConnected(remote) {
		return ErrDisconnectedPeer
	}
	b.db.InsertAddress(remote, addr, true)
	return nil
}

// SetAddresses replaces the known listen addresses for remote, returning
// ErrDisconnectedPeer if we are not currently connected to it (spec §6
// control surface "set_addresses", ports behaviour.rs's set_addresses).
func (b *Behaviour) SetAddresses(remote peer.ID, addrs []multiaddr.Multiaddr) error {
	if !b.isConnected(remote) {
		return ErrDisconnectedPeer
	}
	b.db.SetAddresses(remote, addrs)
	return nil
}

func (b *Behaviour) isConnected(remote peer.ID) bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	_, ok := b.connected[remote]
	return ok
}

func (b *Behaviour) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Connected implements network.Notifiee: it learns the peer's address,
// marks it live, and runs routing-init for the new connection.
func (b *Behaviour) Connected(n network.Network, c network.Conn) {
	remote := c.RemotePeer()
	b.connMu.Lock()
	_, already := b.connected[remote]
	b.connected[remote] = struct{}{}
	b.connMu.Unlock()
	if already {
		return
	}
	b.db.InsertAddress(remote, c.RemoteMultiaddr(), true)
	b.spawn(func() { b.initRouting(remote) })
}

// Disconnected implements network.Notifiee: it drops all bookkeeping for a
// peer once its last connection closes.
func (b *Behaviour) Disconnected(n network.Network, c network.Conn) {
	remote := c.RemotePeer()
	if len(n.ConnsToPeer(remote)) > 0 {
		return
	}
	b.connMu.Lock()
	delete(b.connected, remote)
	b.connMu.Unlock()
	b.db.RemovePeer(remote)
}

// Listen and ListenClose are required by network.Notifiee but carry no
// protocol-level meaning here.
func (b *Behaviour) Listen(network.Network, multiaddr.Multiaddr)      {}
func (b *Behaviour) ListenClose(network.Network, multiaddr.Multiaddr) {}

// initRouting decides, for a newly connected peer, whether we should try to
// leech its filters and/or offer to seed it ours (spec §4.5 "Routing-init
// task", ports routing_init.rs). With no separate target field in
// KamilataConfig, "below target" is read as "below the configured max".
func (b *Behaviour) initRouting(remote peer.ID) {
	cfg := b.db.GetConfig()
	if b.db.SeederCount() < cfg.MaxSeeders && !b.db.IsSeeder(remote) {
		b.spawn(func() { leechFilters(b.ctx, b.host, b.db, remote, b.log) })
	}
	if b.db.LeecherCount() < cfg.MaxLeechers {
		b.spawn(func() { seedFilters(b.ctx, b.host, b.db, remote, b.log) })
	}
}

// Controller returns a BehaviourController bound to this behaviour's host.
func (b *Behaviour) Controller() *BehaviourController {
	return &BehaviourController{host: b.host, db: b.db}
}

// BehaviourController exposes the dial/message operations available to
// callers outside the connection-lifecycle machinery (spec §4.5, ports
// behaviour.rs's BehaviourControlMessage). go-libp2p's NewStream already
// dials as needed and blocks until the substream is negotiated, so unlike
// the original's queued control messages awaiting a future connection
// event, these calls are synchronous — the same simplification mesh.go
// takes in SendPacket.
type BehaviourController struct {
	host host.Host
	db   *Database
}

// DialPeer ensures a connection to remote exists, adding addrs to the
// peerstore first if given.
func (c *BehaviourController) DialPeer(ctx context.Context, remote peer.ID, addrs []multiaddr.Multiaddr) error {
	if len(addrs) > 0 {
		c.host.Peerstore().AddAddrs(remote, addrs, peerstoreTTL)
	}
	if err := c.host.Connect(ctx, c.host.Peerstore().PeerInfo(remote)); err != nil {
		return fmt.Errorf("dial %s: %w", remote, err)
	}
	return nil
}

// DialPeerAndMessage dials remote if necessary, opens a substream, and runs
// fn against it, closing the substream afterward.
func (c *BehaviourController) DialPeerAndMessage(ctx context.Context, remote peer.ID, addrs []multiaddr.Multiaddr, fn func(network.Stream) error) error {
	if err := c.DialPeer(ctx, remote, addrs); err != nil {
		return err
	}
	return c.MessageHandler(ctx, remote, fn)
}

// MessageHandler opens a substream to an already-connected remote and runs
// fn against it.
func (c *BehaviourController) MessageHandler(ctx context.Context, remote peer.ID, fn func(network.Stream) error) error {
	s, err := c.host.NewStream(ctx, remote, ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", remote, err)
	}
	defer s.Close()
	return fn(s)
}
