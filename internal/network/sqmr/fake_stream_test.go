package sqmr

import (
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
)

// pipeStream adapts a net.Conn (from net.Pipe) into the Stream interface
// the behavior needs, for tests that don't stand up a real libp2p host.
type pipeStream struct {
	net.Conn
	remote peer.ID
}

func (p pipeStream) Reset() error        { return p.Conn.Close() }
func (p pipeStream) RemotePeer() peer.ID { return p.remote }

func newPipe(clientPeer, serverPeer peer.ID) (client Stream, server Stream) {
	a, b := net.Pipe()
	return pipeStream{Conn: a, remote: serverPeer}, pipeStream{Conn: b, remote: clientPeer}
}
