// Package mixed routes swarm connection events to the peer manager,
// discovery, and SQMR behavior (spec §4.6). Gossip events are not routed
// through it: the gossip behavior runs its own delivery and publish
// goroutines. It holds no state of its own beyond references to the
// three sub-behaviors; every SwarmEvent is matched on its Kind and
// dispatched to exactly the sub-behaviors it concerns, the way
// 0xPolygon-polygon-sdk's network.Server matches on PeerEvent.Type rather
// than dispatching through an interface.
package mixed

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/discovery"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/peermanager"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmr"
)

// SwarmKind tags the variant of a SwarmEvent. Dispatch is an explicit
// switch over this value, never runtime type assertion.
type SwarmKind int

const (
	PeerConnected SwarmKind = iota
	PeerDisconnected
	DialFailed
)

// SwarmEvent is the tagged input the transport feeds into Dispatch: one
// connection-lifecycle notification from the swarm. Only the fields the
// Kind uses are populated.
type SwarmEvent struct {
	Kind  SwarmKind
	Peer  peer.ID
	Addrs []string
	Err   error
}

// OutKind tags the variant of an Outcome, the derived event Dispatch
// reports back to the manager's loop for logging and metrics.
type OutKind int

const (
	OutPeerConnected OutKind = iota
	OutPeerDisconnected
	OutRedialScheduled
	OutNoop
)

// Outcome is what Dispatch reports after routing a SwarmEvent: what
// happened, and (for OutRedialScheduled) how long to wait before the
// manager calls Redial.
type Outcome struct {
	Kind        OutKind
	Peer        peer.ID
	FailedCount int
	RedialDelay time.Duration
}

// Behavior fans one swarm notification out to the peer manager, discovery,
// and SQMR behavior that need to react to it. It is not a separate event
// source in its own right — the manager calls Dispatch directly from
// whatever goroutine observes the swarm notification (libp2p's
// network.Notifiee callbacks run on their own goroutine already, so no
// additional channel is introduced here).
type Behavior struct {
	log   hclog.Logger
	peers *peermanager.Manager
	disc  *discovery.Discovery
	sqmr  *sqmr.Behavior
}

// New constructs a mixed behavior over the three sub-behaviors. disc may
// be nil when no bootstrap peer is configured.
func New(log hclog.Logger, peers *peermanager.Manager, disc *discovery.Discovery, s *sqmr.Behavior) *Behavior {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Behavior{log: log.Named("mixed"), peers: peers, disc: disc, sqmr: s}
}

// Dispatch routes one swarm event to the relevant sub-behaviors and
// reports what happened.
func (b *Behavior) Dispatch(ev SwarmEvent) Outcome {
	switch ev.Kind {
	case PeerConnected:
		becameConnected := b.peers.Observe(ev.Peer, ev.Addrs)
		if becameConnected {
			b.log.Info("peer connected", "peer", ev.Peer.String())
		}
		if b.disc != nil {
			if id, ok := b.disc.BootstrapPeerID(); ok && id == ev.Peer {
				b.disc.ResetBackoff()
			}
		}
		return Outcome{Kind: OutPeerConnected, Peer: ev.Peer}

	case PeerDisconnected:
		refs := b.peers.OnDisconnect(ev.Peer)
		b.sqmr.FailSessionsForPeer(ev.Peer)
		b.log.Info("peer disconnected", "peer", ev.Peer.String(), "sessions_failed", len(refs))

		if b.disc != nil {
			if delay, shouldRedial := b.disc.OnDisconnect(ev.Peer); shouldRedial {
				b.log.Info("bootstrap peer disconnected, scheduling redial", "peer", ev.Peer.String(), "delay", delay)
				return Outcome{Kind: OutRedialScheduled, Peer: ev.Peer, FailedCount: len(refs), RedialDelay: delay}
			}
		}
		return Outcome{Kind: OutPeerDisconnected, Peer: ev.Peer, FailedCount: len(refs)}

	case DialFailed:
		b.peers.MarkDialFailed(ev.Peer, ev.Err)
		b.log.Warn("dial failed", "peer", ev.Peer.String(), "err", ev.Err)
		return Outcome{Kind: OutNoop, Peer: ev.Peer}

	default:
		return Outcome{Kind: OutNoop}
	}
}
