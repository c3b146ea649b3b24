package networkmanager

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmr"
)

// deriveKey builds the node's libp2p identity from config.SecretKey. A
// present secret key deterministically seeds Ed25519 key generation (the
// same 32 bytes always yield the same peer id); an absent one draws from
// the system CSPRNG, matching spec §4.8's "derives local peer id from
// secret_key (random keypair when absent)".
func deriveKey(secret []byte) (crypto.PrivKey, error) {
	var reader io.Reader = rand.Reader
	if len(secret) > 0 {
		reader = bytes.NewReader(secret)
	}
	priv, _, err := crypto.GenerateEd25519Key(reader)
	if err != nil {
		return nil, fmt.Errorf("networkmanager: derive identity: %w", err)
	}
	return priv, nil
}

// newHost constructs the libp2p host listening on tcpPort and quicPort,
// secured with noise (spec's transport/crypto internals are a Non-goal;
// this is the minimum real wiring to exercise go-libp2p's own defaults
// rather than hand-rolling a transport).
func newHost(secret []byte, tcpPort, quicPort uint16) (host.Host, error) {
	priv, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	tcpAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", tcpPort)
	quicAddr := fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", quicPort)

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(tcpAddr, quicAddr),
		libp2p.Security(noise.ID, noise.New),
	)
	if err != nil {
		return nil, fmt.Errorf("networkmanager: construct libp2p host: %w", err)
	}
	return h, nil
}

// libp2pTransport adapts a real host.Host to the narrow Transport and
// Dialer interfaces the sqmr and discovery packages depend on, so neither
// imports go-libp2p's host package directly.
type libp2pTransport struct {
	host host.Host
}

func newTransport(h host.Host) *libp2pTransport { return &libp2pTransport{host: h} }

// OpenStream satisfies sqmr.Transport.
func (t *libp2pTransport) OpenStream(ctx context.Context, id peer.ID, tag protocol.Tag) (sqmr.Stream, error) {
	s, err := t.host.NewStream(ctx, id, libp2pprotocol.ID(tag.AsWire()))
	if err != nil {
		return nil, err
	}
	return sqmr.WrapStream(s), nil
}

// Dial satisfies discovery.Dialer.
func (t *libp2pTransport) Dial(addr multiaddr.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	return t.host.Connect(context.Background(), *info)
}

// setStreamHandler wires tag's wire protocol id to handle, the way
// host.SetStreamHandler is used for every registered server protocol.
func setStreamHandler(h host.Host, tag protocol.Tag, handle func(libp2pnetwork.Stream)) {
	h.SetStreamHandler(libp2pprotocol.ID(tag.AsWire()), handle)
}
