// Package networkmanager owns the swarm, the registration table, and the
// event loop that ties the peer manager, discovery, SQMR, and gossip
// sub-behaviors together (spec §4.8). It is the composition root the
// other network/* packages are wired from; cmd/papyrusd constructs one
// per process.
package networkmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/config"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/discovery"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/gossip"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/metrics"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/mixed"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/peermanager"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmr"
)

const tickInterval = time.Second

// Manager is the network manager: the single type that owns the libp2p
// host and drives every sub-behavior's event loop.
type Manager struct {
	log hclog.Logger
	cfg *config.Config

	host      host.Host
	transport *libp2pTransport

	metrics *metrics.Metrics
	peers   *peermanager.Manager
	disc    *discovery.Discovery
	sqmr    *sqmr.Behavior
	gossip  *gossip.Behavior
	mixed   *mixed.Behavior

	localPeerID peer.ID
	done        chan struct{}
}

// New constructs a Manager: builds the libp2p host, derives the local
// peer id from cfg.SecretKey, and wires every sub-behavior (spec §4.8
// "new(config) → Manager").
func New(log hclog.Logger, cfg *config.Config, reg prometheus.Registerer) (*Manager, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("network")

	h, err := newHost(cfg.SecretKey, cfg.TCPPort, cfg.QUICPort)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	transport := newTransport(h)
	peers := peermanager.New(log)
	sqmrBehavior := sqmr.New(log, transport, peers, cfg.SessionTimeout)
	sqmrBehavior.OnProtocolViolation(func() { m.ProtocolViolations.Inc() })

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		return nil, fmt.Errorf("networkmanager: construct gossipsub: %w", err)
	}
	gossipBehavior := gossip.New(log, gossip.NewLibp2pPubSub(ps), m, h.ID().String())

	var bootstrapID peer.ID
	if cfg.BootstrapPeerMultiaddr != nil {
		info, err := peer.AddrInfoFromP2pAddr(cfg.BootstrapPeerMultiaddr)
		if err != nil {
			return nil, fmt.Errorf("networkmanager: invalid bootstrap multiaddr: %w", err)
		}
		bootstrapID = info.ID
	}
	disc := discovery.New(log, transport, cfg.BootstrapPeerMultiaddr, bootstrapID)

	mixedBehavior := mixed.New(log, peers, disc, sqmrBehavior)

	mgr := &Manager{
		log:         log,
		cfg:         cfg,
		host:        h,
		transport:   transport,
		metrics:     m,
		peers:       peers,
		disc:        disc,
		sqmr:        sqmrBehavior,
		gossip:      gossipBehavior,
		mixed:       mixedBehavior,
		localPeerID: h.ID(),
		done:        make(chan struct{}),
	}
	h.Network().Notify(newNotifiee(mgr))
	return mgr, nil
}

// LocalPeerID returns the textual form of the local peer id, stable for
// the manager's lifetime (spec §4.8).
func (m *Manager) LocalPeerID() string { return m.localPeerID.String() }

// RegisterSQMRClient allocates the client-side endpoints for tag (spec
// §4.8 register_sqmr_client).
func (m *Manager) RegisterSQMRClient(tag protocol.Tag) (sqmr.ClientChannels, error) {
	return m.sqmr.RegisterClient(tag)
}

// RegisterSQMRServer allocates the server-side endpoints for tag and
// wires the wire protocol id to the sqmr behavior's inbound handler
// (spec §4.8 register_sqmr_server).
func (m *Manager) RegisterSQMRServer(tag protocol.Tag) (sqmr.ServerChannels, error) {
	chans, err := m.sqmr.RegisterServer(tag)
	if err != nil {
		return sqmr.ServerChannels{}, err
	}
	setStreamHandler(m.host, tag, func(s libp2pnetwork.Stream) {
		m.sqmr.HandleInboundStream(tag, sqmr.WrapStream(s))
	})
	return chans, nil
}

// RegisterBroadcast subscribes to topic and returns its publish/deliver
// endpoints (spec §4.8 register_broadcast).
func (m *Manager) RegisterBroadcast(topic string, capacity int) (gossip.BroadcastChannels, error) {
	return m.gossip.Subscribe(topic, capacity)
}

// Run drives the manager's timers until ctx is cancelled: the session
// timeout sweep and the gauge updates are the only periodic work left
// once the swarm notifiee and per-stream goroutines are wired (spec §4.8
// run()). No idle-connection sweep runs; cfg.IdleConnectionTimeout is not
// enforced. It
// returns only on ctx cancellation or an unrecoverable error, matching
// the teacher's errgroup-driven shutdown in cmd/papyrusd.
func (m *Manager) Run(ctx context.Context) error {
	m.disc.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				m.sqmr.Tick(now)
				m.metrics.ActiveSessions.Set(float64(m.sqmr.SessionCount()))
				m.metrics.ConnectedPeers.Set(float64(m.peers.PeerCount()))
			}
		}
	})
	err := g.Wait()
	close(m.done)
	m.gossip.Close()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close releases the underlying libp2p host's listeners and connections.
// It does not stop Run; call it after Run returns.
func (m *Manager) Close() error {
	return m.host.Close()
}
