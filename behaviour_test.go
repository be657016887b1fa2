package kamilata

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func remoteFilterLevel0(db *Database, p peer.ID) *Filter {
	db.filtersMu.RLock()
	defer db.filtersMu.RUnlock()
	stack := db.remoteFilters[p]
	if len(stack) == 0 {
		return nil
	}
	return stack[0]
}

// TestBehaviourLeechFiltersEndToEnd wires two real libp2p hosts and drives
// one outbound leechFilters task against the other's inbound handler,
// checking that B ends up admitting A as a seeder and learning A's filter
// bit over the wire (spec §4.5 "GetFilters").
func TestBehaviourLeechFiltersEndToEnd(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	storeA := newFakeStore(4)
	storeA.level0 = NewFilter(4)
	storeA.level0.Set(2)

	cfgA := DefaultKamilataConfig()
	cfgA.GetFiltersInterval = NewMinTargetMax(50, 50, 500)
	dbA := NewDatabase(cfgA, storeA)
	behA := NewBehaviour(hostA, dbA)
	behA.Start()
	defer behA.Close()

	cfgB := DefaultKamilataConfig()
	cfgB.GetFiltersInterval = NewMinTargetMax(50, 50, 500)
	dbB := NewDatabase(cfgB, newFakeStore(4))
	behB := NewBehaviour(hostB, dbB)
	behB.Start()
	defer behB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hostB.Connect(ctx, hostA.Peerstore().PeerInfo(hostA.ID())))

	ctxTask, cancelTask := context.WithCancel(context.Background())
	defer cancelTask()
	go leechFilters(ctxTask, hostB, dbB, hostA.ID(), behB.log)

	require.Eventually(t, func() bool {
		return dbB.IsSeeder(hostA.ID())
	}, 3*time.Second, 20*time.Millisecond, "B should admit A as a seeder")

	require.Eventually(t, func() bool {
		f := remoteFilterLevel0(dbB, hostA.ID())
		return f != nil && f.Test(2)
	}, 3*time.Second, 20*time.Millisecond, "B should learn A's filter bit")
}

// TestBehaviourAddAddressRequiresConnection checks that AddAddress/
// SetAddresses reject a peer we have never connected to, and succeed once
// we have (spec §6 "add_address"/"set_addresses" return DisconnectedPeer).
func TestBehaviourAddAddressRequiresConnection(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	dbB := NewDatabase(DefaultKamilataConfig(), newFakeStore(4))
	behB := NewBehaviour(hostB, dbB)
	behB.Start()
	defer behB.Close()

	addr, err := newTestMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	assert.ErrorIs(t, behB.AddAddress(hostA.ID(), addr), ErrDisconnectedPeer)
	assert.ErrorIs(t, behB.SetAddresses(hostA.ID(), []multiaddr.Multiaddr{addr}), ErrDisconnectedPeer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hostB.Connect(ctx, hostA.Peerstore().PeerInfo(hostA.ID())))

	require.Eventually(t, func() bool {
		return behB.AddAddress(hostA.ID(), addr) == nil
	}, 3*time.Second, 20*time.Millisecond, "AddAddress should succeed once connected")
	assert.NoError(t, behB.SetAddresses(hostA.ID(), []multiaddr.Multiaddr{addr}))
}

// TestBehaviourSearchFindsRemoteLocalMatch drives a one-shot Search request
// from B to A and checks that A's Results response carries A's document
// (spec §4.5 "Search", §4.7).
func TestBehaviourSearchFindsRemoteLocalMatch(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)

	target := mustCid(t, "remote-doc")
	storeA := newFakeStore(4)
	storeA.results = []SearchResult{fakeResult{id: target}}

	dbA := NewDatabase(DefaultKamilataConfig(), storeA)
	behA := NewBehaviour(hostA, dbA)
	behA.Start()
	defer behA.Close()

	dbB := NewDatabase(DefaultKamilataConfig(), newFakeStore(4))
	behB := NewBehaviour(hostB, dbB)
	behB.Start()
	defer behB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hostB.Connect(ctx, hostA.Peerstore().PeerInfo(hostA.ID())))

	resp, err := requestSearch(ctx, hostB, hostA.ID(), QueriesFromText("anything"), FixedPriority(PrioritySpeed), 10)
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)

	decoded, err := dbA.Store().DecodeResult(resp.Matches[0].Data)
	require.NoError(t, err)
	require.Equal(t, target, decoded.Cid())
}
