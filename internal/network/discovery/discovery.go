// Package discovery dials the configured bootstrap peer on startup and
// re-dials it on disconnect with exponential backoff, per spec §4.3. It
// emits no events of its own beyond triggering a dial.
package discovery

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// Dialer abstracts the swarm's ability to dial an address; the network
// manager's transport satisfies it.
type Dialer interface {
	Dial(addr multiaddr.Multiaddr) error
}

// Discovery holds the optional bootstrap address and the backoff state
// for re-dialing it.
type Discovery struct {
	log         hclog.Logger
	dialer      Dialer
	bootstrap   multiaddr.Multiaddr
	bootstrapID peer.ID
	backoff     time.Duration
}

// New constructs a Discovery. bootstrap may be nil, meaning no bootstrap
// peer is configured and Discovery is inert.
func New(log hclog.Logger, dialer Dialer, bootstrap multiaddr.Multiaddr, bootstrapID peer.ID) *Discovery {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Discovery{
		log:         log.Named("discovery"),
		dialer:      dialer,
		bootstrap:   bootstrap,
		bootstrapID: bootstrapID,
		backoff:     initialBackoff,
	}
}

// Start issues the initial bootstrap dial, if one is configured.
func (d *Discovery) Start() {
	if d.bootstrap == nil {
		return
	}
	d.dial()
}

// BootstrapPeerID reports the peer id discovery will re-dial, and whether
// one is configured at all.
func (d *Discovery) BootstrapPeerID() (peer.ID, bool) {
	if d.bootstrap == nil {
		return "", false
	}
	return d.bootstrapID, true
}

// OnDisconnect should be called by the network manager whenever a peer
// disconnects; if it is the bootstrap peer, Discovery schedules a re-dial
// after the current backoff and doubles the backoff up to maxBackoff.
// It reports the delay to wait before redialing, or false if id is not
// the bootstrap peer.
func (d *Discovery) OnDisconnect(id peer.ID) (delay time.Duration, shouldRedial bool) {
	if d.bootstrap == nil || id != d.bootstrapID {
		return 0, false
	}
	delay = d.backoff
	d.backoff *= 2
	if d.backoff > maxBackoff {
		d.backoff = maxBackoff
	}
	return delay, true
}

// ResetBackoff restores the backoff to its initial value, called once a
// re-dial to the bootstrap peer succeeds.
func (d *Discovery) ResetBackoff() {
	d.backoff = initialBackoff
}

// Redial re-issues the bootstrap dial; callers invoke it after waiting
// the delay OnDisconnect returned.
func (d *Discovery) Redial() {
	d.dial()
}

func (d *Discovery) dial() {
	d.log.Info("dialing bootstrap peer", "addr", d.bootstrap.String())
	if err := d.dialer.Dial(d.bootstrap); err != nil {
		d.log.Warn("bootstrap dial failed", "addr", d.bootstrap.String(), "err", err)
	}
}
