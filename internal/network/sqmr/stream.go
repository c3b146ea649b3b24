package sqmr

import (
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Stream is the minimal surface the sqmr behavior needs from a libp2p
// substream. network.Stream satisfies it directly; tests supply an
// in-memory fake.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	Reset() error
	RemotePeer() peer.ID
}

// netStream adapts a real libp2p network.Stream to Stream.
type netStream struct {
	network.Stream
}

func (s netStream) RemotePeer() peer.ID { return s.Conn().RemotePeer() }

// WrapStream adapts a libp2p network.Stream for use by the sqmr behavior.
func WrapStream(s network.Stream) Stream { return netStream{Stream: s} }
