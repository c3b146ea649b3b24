// Package sqmr implements the Single-Query-Multiple-Response behavior: a
// per-substream state machine that frames one client query and a lazily
// streamed, Fin-terminated server response (spec §4.4).
package sqmr

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"
)

// Role distinguishes which side of the session this node plays.
type Role int

const (
	Client Role = iota
	Server
)

// State is a session's lifecycle state (spec §3 "Session").
type State int

const (
	AwaitingResponse State = iota
	Streaming
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingResponse:
		return "AwaitingResponse"
	case Streaming:
		return "Streaming"
	case Finished:
		return "Finished"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ClientItem is delivered to a client's inbound channel: exactly one of
// Data, Fin, or Failed is set (spec §8: "Data* Fin" xor "Data* Failed").
type ClientItem struct {
	SessionID uint64
	Data      []byte
	Fin       bool
	Failed    *neterr.Error
}

// ServerItem is delivered to a server's inbound channel when a query
// arrives on a freshly opened substream.
type ServerItem struct {
	SessionID uint64
	PeerID    peer.ID
	Query     *sqmrpb.Query
}

// ServerOutput is enqueued by server-side callers: zero or more Data
// frames followed by exactly one Fin.
type ServerOutput struct {
	SessionID uint64
	Data      []byte
	Fin       bool
}

// Session is one SQMR interaction on one substream (spec §3).
type Session struct {
	ID       uint64
	Protocol protocol.Tag
	PeerID   peer.ID
	Role     Role
	State    State
	Deadline time.Time

	// finSent/finReceived track the "exactly one Fin" invariant so a
	// caller error (server writing past Fin) or a peer violation (data
	// after Fin) is caught locally rather than silently accepted.
	finSent     bool
	finReceived bool
}

// NewSession constructs a session in its initial state.
func NewSession(id uint64, tag protocol.Tag, peerID peer.ID, role Role, timeout time.Duration) *Session {
	return &Session{
		ID:       id,
		Protocol: tag,
		PeerID:   peerID,
		Role:     role,
		State:    AwaitingResponse,
		Deadline: time.Now().Add(timeout),
	}
}

// Terminal reports whether the session has reached Finished or Failed.
func (s *Session) Terminal() bool {
	return s.State == Finished || s.State == Failed
}

// ClientRecvFrame applies an inbound response-or-fin frame to a
// client-role session and returns the item to deliver to the client
// channel, per the state table in spec §4.4.
func (s *Session) ClientRecvFrame(resp *sqmrpb.Response) (ClientItem, error) {
	if s.Role != Client {
		panic("sqmr: ClientRecvFrame called on a server-role session")
	}
	if s.finReceived {
		s.State = Failed
		err := neterr.New(neterr.ProtocolViolation, "frame received after Fin")
		return ClientItem{SessionID: s.ID, Failed: err}, err
	}
	if resp.IsFin() {
		s.finReceived = true
		s.State = Finished
		return ClientItem{SessionID: s.ID, Fin: true}, nil
	}
	s.State = Streaming
	return ClientItem{SessionID: s.ID, Data: resp.Payload}, nil
}

// Fail transitions the session to Failed and returns the ClientItem (for
// client-role sessions) to deliver.
func (s *Session) Fail(kind neterr.Kind, note string) ClientItem {
	s.State = Failed
	err := neterr.New(kind, note)
	return ClientItem{SessionID: s.ID, Failed: err}
}

// Expired reports whether the session's deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.Terminal() && now.After(s.Deadline)
}

// ServerEnqueue validates a caller-produced ServerOutput against the
// "exactly one Fin, nothing after it" invariant before it is written to
// the wire. A violation (another frame after Fin) is a caller error: the
// manager drops the frame and logs rather than resetting the substream.
func (s *Session) ServerEnqueue(out ServerOutput) (ok bool) {
	if s.Role != Server {
		panic("sqmr: ServerEnqueue called on a client-role session")
	}
	if s.finSent {
		return false
	}
	s.State = Streaming
	if out.Fin {
		s.finSent = true
		s.State = Finished
	}
	return true
}
