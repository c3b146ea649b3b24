package networkmanager

import (
	"time"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/mixed"
)

// hostNotifiee adapts libp2p's connection-lifecycle callbacks into the
// mixed behavior's tagged SwarmEvent, so the peer manager, discovery, and
// SQMR behavior learn about connects/disconnects the same way regardless
// of whether the swarm is real or (in tests) faked.
type hostNotifiee struct {
	mgr *Manager
}

func newNotifiee(mgr *Manager) *hostNotifiee { return &hostNotifiee{mgr: mgr} }

func (n *hostNotifiee) Listen(libp2pnetwork.Network, multiaddr.Multiaddr)      {}
func (n *hostNotifiee) ListenClose(libp2pnetwork.Network, multiaddr.Multiaddr) {}

func (n *hostNotifiee) Connected(_ libp2pnetwork.Network, c libp2pnetwork.Conn) {
	id := c.RemotePeer()
	n.mgr.mixed.Dispatch(mixed.SwarmEvent{
		Kind:  mixed.PeerConnected,
		Peer:  id,
		Addrs: []string{c.RemoteMultiaddr().String()},
	})
}

func (n *hostNotifiee) Disconnected(_ libp2pnetwork.Network, c libp2pnetwork.Conn) {
	id := c.RemotePeer()
	outcome := n.mgr.mixed.Dispatch(mixed.SwarmEvent{Kind: mixed.PeerDisconnected, Peer: id})
	if outcome.Kind == mixed.OutRedialScheduled {
		go func() {
			select {
			case <-n.mgr.done:
				return
			case <-time.After(outcome.RedialDelay):
				n.mgr.disc.Redial()
			}
		}()
	}
}
