package sqmr

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"
)

// Transport is the subset of the swarm the sqmr behavior needs: opening
// an outbound substream for a protocol against an already-connected peer.
type Transport interface {
	OpenStream(ctx context.Context, id peer.ID, tag protocol.Tag) (Stream, error)
}

// PeerAssigner is the subset of the peer manager the sqmr behavior needs.
// peermanager.Manager satisfies this directly.
type PeerAssigner interface {
	AssignPeer(tag protocol.Tag) (peer.ID, error)
	BeginSession(tag protocol.Tag, id peer.ID, sessionID uint64)
	EndSession(tag protocol.Tag, id peer.ID, sessionID uint64)
}

type sessionEntry struct {
	session *Session
	stream  Stream
	items   chan ClientItem // client-role only
	output  chan ServerOutput
}

// Behavior is the SQMR sub-behavior: per-substream session state machine,
// wire framing, and the registration table for client/server channel
// pairs (spec §4.4).
type Behavior struct {
	log            hclog.Logger
	transport      Transport
	peers          PeerAssigner
	sessionTimeout time.Duration

	sessionIDs uint64 // atomic counter, never reused (spec §3 invariant)

	mu           sync.Mutex
	sessions     map[uint64]*sessionEntry
	clientReg    map[protocol.Tag]bool
	serverReg    map[protocol.Tag]bool
	serverQueues map[protocol.Tag]chan ServerItem
	onViolation  func()
}

// New constructs an SQMR behavior bound to transport and peers.
func New(log hclog.Logger, transport Transport, peers PeerAssigner, sessionTimeout time.Duration) *Behavior {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Behavior{
		log:            log.Named("sqmr"),
		transport:      transport,
		peers:          peers,
		sessionTimeout: sessionTimeout,
		sessions:       make(map[uint64]*sessionEntry),
		clientReg:      make(map[protocol.Tag]bool),
		serverReg:      make(map[protocol.Tag]bool),
	}
}

// OnProtocolViolation installs a hook invoked whenever a session fails with
// ProtocolViolation, so the network manager can bump a metric without the
// sqmr package importing the metrics package directly.
func (b *Behavior) OnProtocolViolation(fn func()) { b.onViolation = fn }

func (b *Behavior) nextSessionID() uint64 {
	return atomic.AddUint64(&b.sessionIDs, 1)
}

// RegisterClient allocates the client-side endpoints for tag. It fails
// without mutating state if tag is already registered as client (spec
// §3 invariant, §8 idempotence property).
func (b *Behavior) RegisterClient(tag protocol.Tag) (ClientChannels, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clientReg[tag] {
		return ClientChannels{}, neterr.New(neterr.ConfigInvalid, fmt.Sprintf("%s already registered as client", tag))
	}
	b.clientReg[tag] = true

	submit := make(chan QueryRequest, 16)
	go b.runClientSubmitLoop(tag, submit)
	return ClientChannels{Submit: submit}, nil
}

// RegisterServer allocates the server-side endpoints for tag. Symmetric
// to RegisterClient.
func (b *Behavior) RegisterServer(tag protocol.Tag) (ServerChannels, error) {
	b.mu.Lock()
	if b.serverReg[tag] {
		b.mu.Unlock()
		return ServerChannels{}, neterr.New(neterr.ConfigInvalid, fmt.Sprintf("%s already registered as server", tag))
	}
	b.serverReg[tag] = true
	queries := make(chan ServerItem, 16)
	if b.serverQueues == nil {
		b.serverQueues = make(map[protocol.Tag]chan ServerItem)
	}
	b.serverQueues[tag] = queries
	b.mu.Unlock()

	output := make(chan ServerOutput, 16)
	b.registerServerOutputRouter(output)
	return ServerChannels{Queries: queries, Output: output}, nil
}

func (b *Behavior) registerServerOutputRouter(output chan ServerOutput) {
	go func() {
		for out := range output {
			b.handleServerOutput(out)
		}
	}()
}

func (b *Behavior) runClientSubmitLoop(tag protocol.Tag, submit <-chan QueryRequest) {
	for req := range submit {
		b.handleQueryRequest(tag, req)
	}
}

func (b *Behavior) handleQueryRequest(tag protocol.Tag, req QueryRequest) {
	peerID, err := b.peers.AssignPeer(tag)
	if err != nil {
		req.Result <- QueryHandle{Err: err}
		return
	}

	sessionID := b.nextSessionID()
	stream, err := b.transport.OpenStream(context.Background(), peerID, tag)
	if err != nil {
		b.peers.EndSession(tag, peerID, sessionID)
		req.Result <- QueryHandle{Err: neterr.Wrap(neterr.TransportError, "open stream", err)}
		return
	}
	b.peers.BeginSession(tag, peerID, sessionID)

	session := NewSession(sessionID, tag, peerID, Client, b.sessionTimeout)
	items := make(chan ClientItem, 16)
	entry := &sessionEntry{session: session, stream: stream, items: items}

	b.mu.Lock()
	b.sessions[sessionID] = entry
	b.mu.Unlock()

	if err := sqmrpb.WriteFrame(stream, req.Query.Marshal()); err != nil {
		b.failSession(entry, neterr.TransportError, "write query")
		req.Result <- QueryHandle{SessionID: sessionID, Items: items, Err: nil}
		return
	}

	go b.runClientReadLoop(entry)

	req.Result <- QueryHandle{SessionID: sessionID, Items: items}
}

func (b *Behavior) runClientReadLoop(entry *sessionEntry) {
	br := bufio.NewReader(entry.stream)
	for {
		raw, err := sqmrpb.ReadFrame(br)
		if err != nil {
			b.failSession(entry, neterr.TransportError, "read frame")
			return
		}
		resp, err := sqmrpb.UnmarshalResponse(raw)
		if err != nil {
			b.failSession(entry, neterr.ProtocolViolation, "decode frame")
			return
		}

		item, violation := entry.session.ClientRecvFrame(resp)
		entry.items <- item
		if violation != nil {
			if b.onViolation != nil {
				b.onViolation()
			}
			b.finishSession(entry)
			return
		}
		if entry.session.Terminal() {
			// Fin delivered: release the session and close the client's
			// channel, then read once more so a frame sent after Fin is
			// counted as a protocol violation.
			close(entry.items)
			b.peers.EndSession(entry.session.Protocol, entry.session.PeerID, entry.session.ID)
			b.mu.Lock()
			delete(b.sessions, entry.session.ID)
			b.mu.Unlock()
			if _, err := sqmrpb.ReadFrame(br); err == nil && b.onViolation != nil {
				b.onViolation()
			}
			_ = entry.stream.Close()
			return
		}
	}
}

func (b *Behavior) failSession(entry *sessionEntry, kind neterr.Kind, note string) {
	// Tick and FailSessionsForPeer remove a session from the table before
	// resetting its stream and delivering their own Failed item; the read
	// error that reset causes must not deliver a second one.
	b.mu.Lock()
	_, owned := b.sessions[entry.session.ID]
	b.mu.Unlock()
	if !owned {
		return
	}
	item := entry.session.Fail(kind, note)
	entry.items <- item
	b.finishSession(entry)
}

func (b *Behavior) finishSession(entry *sessionEntry) {
	close(entry.items)
	_ = entry.stream.Close()
	b.peers.EndSession(entry.session.Protocol, entry.session.PeerID, entry.session.ID)
	b.mu.Lock()
	delete(b.sessions, entry.session.ID)
	b.mu.Unlock()
}

// HandleInboundStream accepts a freshly opened inbound substream for tag.
// It must run on its own goroutine (libp2p invokes stream handlers that
// way); the initial query read is a blocking suspension point, matching
// spec §5 "every substream await may suspend."
func (b *Behavior) HandleInboundStream(tag protocol.Tag, s Stream) {
	b.mu.Lock()
	queriesCh, ok := b.serverQueues[tag]
	b.mu.Unlock()
	if !ok {
		_ = s.Reset()
		return
	}

	br := bufio.NewReader(s)
	raw, err := sqmrpb.ReadFrame(br)
	if err != nil {
		_ = s.Reset()
		return
	}
	query, err := sqmrpb.UnmarshalQuery(raw)
	if err != nil {
		if b.onViolation != nil {
			b.onViolation()
		}
		_ = s.Reset()
		return
	}

	sessionID := b.nextSessionID()
	session := NewSession(sessionID, tag, s.RemotePeer(), Server, b.sessionTimeout)
	entry := &sessionEntry{session: session, stream: s}

	b.mu.Lock()
	b.sessions[sessionID] = entry
	b.mu.Unlock()

	queriesCh <- ServerItem{SessionID: sessionID, PeerID: s.RemotePeer(), Query: query}
}

func (b *Behavior) handleServerOutput(out ServerOutput) {
	b.mu.Lock()
	entry, ok := b.sessions[out.SessionID]
	b.mu.Unlock()
	if !ok {
		return // session already terminated; drop per spec (caller error / late write)
	}

	if !entry.session.ServerEnqueue(out) {
		b.log.Warn("server wrote frame after Fin", "session", out.SessionID)
		return
	}

	var frame []byte
	if out.Fin {
		frame = sqmrpb.FinResponse().Marshal()
	} else {
		frame = sqmrpb.DataResponse(out.Data).Marshal()
	}
	if err := sqmrpb.WriteFrame(entry.stream, frame); err != nil {
		b.log.Error("write response frame failed", "session", out.SessionID, "err", err)
		entry.session.State = Failed
	}

	if entry.session.Terminal() {
		_ = entry.stream.Close()
		b.mu.Lock()
		delete(b.sessions, out.SessionID)
		b.mu.Unlock()
	}
}

// Tick fails every session whose deadline has elapsed with Timeout and
// resets its substream (spec §4.4: "session_timeout applies... on expiry
// the session transitions to Failed with Timeout").
func (b *Behavior) Tick(now time.Time) {
	b.mu.Lock()
	var expired []*sessionEntry
	for id, entry := range b.sessions {
		if entry.session.Expired(now) {
			expired = append(expired, entry)
			delete(b.sessions, id)
		}
	}
	b.mu.Unlock()

	for _, entry := range expired {
		_ = entry.stream.Reset()
		if entry.session.Role == Client {
			item := entry.session.Fail(neterr.Timeout, "session_timeout elapsed")
			entry.items <- item
			close(entry.items)
		} else {
			entry.session.State = Failed
		}
		b.peers.EndSession(entry.session.Protocol, entry.session.PeerID, entry.session.ID)
	}
}

// FailSessionsForPeer fails every open session owned by peerID with
// PeerDisconnected (spec §4.2 on_disconnect).
func (b *Behavior) FailSessionsForPeer(peerID peer.ID) {
	b.mu.Lock()
	var affected []*sessionEntry
	for id, entry := range b.sessions {
		if entry.session.PeerID == peerID {
			affected = append(affected, entry)
			delete(b.sessions, id)
		}
	}
	b.mu.Unlock()

	for _, entry := range affected {
		_ = entry.stream.Reset()
		if entry.session.Role == Client {
			item := entry.session.Fail(neterr.PeerDisconnected, "peer disconnected")
			entry.items <- item
			close(entry.items)
		} else {
			entry.session.State = Failed
		}
	}
}

// SessionCount returns the number of open sessions, for metrics/tests.
func (b *Behavior) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
