package mixed

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/discovery"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/peermanager"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmr"
)

const bootstrapPeer = peer.ID("bootstrap")

type fakeDialer struct {
	dials int
}

func (f *fakeDialer) Dial(multiaddr.Multiaddr) error { f.dials++; return nil }

type noopTransport struct{}

func (noopTransport) OpenStream(context.Context, peer.ID, protocol.Tag) (sqmr.Stream, error) {
	return nil, context.Canceled
}

type noopPeers struct{}

func (noopPeers) AssignPeer(protocol.Tag) (peer.ID, error)   { return "", context.Canceled }
func (noopPeers) BeginSession(protocol.Tag, peer.ID, uint64) {}
func (noopPeers) EndSession(protocol.Tag, peer.ID, uint64)   {}

func TestDispatchPeerConnected(t *testing.T) {
	peers := peermanager.New(nil)
	b := New(nil, peers, nil, sqmr.New(nil, noopTransport{}, noopPeers{}, time.Minute))

	out := b.Dispatch(SwarmEvent{Kind: PeerConnected, Peer: "p1", Addrs: []string{"/ip4/1.2.3.4/tcp/1"}})
	assert.Equal(t, OutPeerConnected, out.Kind)

	rec, ok := peers.Record("p1")
	require.True(t, ok)
	assert.Equal(t, peermanager.Connected, rec.State)
}

func TestDispatchPeerDisconnectedFailsSessions(t *testing.T) {
	peers := peermanager.New(nil)
	s := sqmr.New(nil, noopTransport{}, noopPeers{}, time.Minute)
	b := New(nil, peers, nil, s)

	peers.Observe("p1", nil)
	peers.BeginSession(protocol.SignedBlockHeader, "p1", 1)

	out := b.Dispatch(SwarmEvent{Kind: PeerDisconnected, Peer: "p1"})
	assert.Equal(t, OutPeerDisconnected, out.Kind)
	assert.Equal(t, 1, out.FailedCount)

	rec, ok := peers.Record("p1")
	require.True(t, ok)
	assert.Equal(t, peermanager.Disconnected, rec.State)
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestDispatchBootstrapDisconnectSchedulesRedial(t *testing.T) {
	peers := peermanager.New(nil)
	dialer := &fakeDialer{}
	disc := discovery.New(nil, dialer, mustAddr(t, "/ip4/1.2.3.4/tcp/30303"), bootstrapPeer)
	disc.Start()
	require.Equal(t, 1, dialer.dials)

	s := sqmr.New(nil, noopTransport{}, noopPeers{}, time.Minute)
	b := New(nil, peers, disc, s)

	out := b.Dispatch(SwarmEvent{Kind: PeerDisconnected, Peer: bootstrapPeer})
	assert.Equal(t, OutRedialScheduled, out.Kind)
	assert.Equal(t, time.Second, out.RedialDelay)
}

func TestDispatchDialFailedRecordsLastErr(t *testing.T) {
	peers := peermanager.New(nil)
	b := New(nil, peers, nil, sqmr.New(nil, noopTransport{}, noopPeers{}, time.Minute))

	failure := context.Canceled
	out := b.Dispatch(SwarmEvent{Kind: DialFailed, Peer: "p2", Err: failure})
	assert.Equal(t, OutNoop, out.Kind)

	rec, ok := peers.Record("p2")
	require.True(t, ok)
	assert.Equal(t, peermanager.Disconnected, rec.State)
	assert.Equal(t, failure, rec.LastErr)
}
