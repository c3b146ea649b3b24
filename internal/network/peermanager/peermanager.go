// Package peermanager tracks known peers, assigns outbound SQMR queries to
// connected peers, and records connection state. It is reputation-free:
// selection is plain round-robin, matching spec §4.2.
package peermanager

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
)

// ConnState is a peer record's connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Dialing
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Dialing:
		return "Dialing"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Record is a single peer's tracked state (spec §3 "Peer record").
type Record struct {
	ID      peer.ID
	State   ConnState
	Addrs   []string
	LastErr error
}

// inFlight tracks the session currently assigned for a (peer, protocol)
// pair (spec §3 invariant: at most one in-flight query per (peer,
// protocol)). The queued field is never filled: AssignPeer does not queue
// a query behind a busy pair, it skips the pair or returns NoPeer.
type inFlight struct {
	sessionID uint64
	queued    []chan<- AssignResult
}

// AssignResult is the element type of inFlight.queued. No code in this
// package sends one: assignments are never queued, so nothing resolves
// them when a prior session terminates.
type AssignResult struct {
	PeerID peer.ID
	Err    error
}

// Manager is the peer manager component. It is safe for concurrent use; a
// single mutex guards the peer table and assignment bookkeeping, and is
// never held across a channel send (spec §5: "no lock is ever held across
// a suspension point").
type Manager struct {
	log hclog.Logger

	mu          sync.Mutex
	peers       map[peer.ID]*Record
	order       []peer.ID // round-robin cursor order
	rrCursor    int
	assignments map[protocol.Tag]map[peer.ID]*inFlight
	// sessionsByPeer indexes open session ids per peer so on_disconnect
	// can fail them all without a second table.
	sessionsByPeer map[peer.ID]map[uint64]protocol.Tag
}

// New constructs an empty peer manager.
func New(log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Manager{
		log:            log.Named("peermanager"),
		peers:          make(map[peer.ID]*Record),
		assignments:    make(map[protocol.Tag]map[peer.ID]*inFlight),
		sessionsByPeer: make(map[peer.ID]map[uint64]protocol.Tag),
	}
}

// Observe upserts a peer record, marks it Connected, and appends the peer
// to the round-robin order exactly once. It reports whether the peer was
// not Connected before. No queries are held for a peer, so none are
// flushed when it connects.
func (m *Manager) Observe(id peer.ID, addrs []string) (becameConnected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.peers[id]
	if !ok {
		r = &Record{ID: id}
		m.peers[id] = r
		m.order = append(m.order, id)
	}
	r.Addrs = addrs
	wasConnected := r.State == Connected
	r.State = Connected
	return !wasConnected
}

// MarkDialing records an outbound dial attempt.
func (m *Manager) MarkDialing(id peer.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(id)
	r.State = Dialing
}

// MarkDialFailed records a failed dial and the reason.
func (m *Manager) MarkDialFailed(id peer.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(id)
	r.State = Disconnected
	r.LastErr = err
}

func (m *Manager) recordLocked(id peer.ID) *Record {
	r, ok := m.peers[id]
	if !ok {
		r = &Record{ID: id}
		m.peers[id] = r
		m.order = append(m.order, id)
	}
	return r
}

// AssignPeer selects a Connected peer with no in-flight session for
// protocol, round-robin over eligible peers. It returns NoPeer
// immediately (never blocks) when none is eligible — callers decide
// whether to retry (spec §4.2).
func (m *Manager) AssignPeer(tag protocol.Tag) (peer.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.order)
	if n == 0 {
		return "", neterr.New(neterr.NoPeer, "no known peers")
	}
	busy := m.assignments[tag]
	for i := 0; i < n; i++ {
		idx := (m.rrCursor + i) % n
		id := m.order[idx]
		r := m.peers[id]
		if r.State != Connected {
			continue
		}
		if busy != nil {
			if _, taken := busy[id]; taken {
				continue
			}
		}
		m.rrCursor = (idx + 1) % n
		return id, nil
	}
	return "", neterr.New(neterr.NoPeer, "no eligible peer for "+tag.String())
}

// BeginSession records that sessionID is now the in-flight session for
// (peer, protocol), so subsequent AssignPeer calls skip this peer for the
// same protocol until EndSession is called.
func (m *Manager) BeginSession(tag protocol.Tag, id peer.ID, sessionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPeer, ok := m.assignments[tag]
	if !ok {
		byPeer = make(map[peer.ID]*inFlight)
		m.assignments[tag] = byPeer
	}
	byPeer[id] = &inFlight{sessionID: sessionID}

	sessions, ok := m.sessionsByPeer[id]
	if !ok {
		sessions = make(map[uint64]protocol.Tag)
		m.sessionsByPeer[id] = sessions
	}
	sessions[sessionID] = tag
}

// EndSession releases the (peer, protocol) slot a prior BeginSession took.
func (m *Manager) EndSession(tag protocol.Tag, id peer.ID, sessionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endSessionLocked(tag, id, sessionID)
}

func (m *Manager) endSessionLocked(tag protocol.Tag, id peer.ID, sessionID uint64) {
	if byPeer, ok := m.assignments[tag]; ok {
		if cur, ok := byPeer[id]; ok && cur.sessionID == sessionID {
			delete(byPeer, id)
		}
	}
	if sessions, ok := m.sessionsByPeer[id]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.sessionsByPeer, id)
		}
	}
}

// OnDisconnect marks a peer Disconnected and returns the set of session
// ids (with their protocol) that were in flight for it, so the caller can
// fail them with PeerDisconnected — spec §4.2: "disconnect always cancels
// in-flight sessions rather than waiting."
func (m *Manager) OnDisconnect(id peer.ID) []SessionRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.peers[id]; ok {
		r.State = Disconnected
	}

	var refs []SessionRef
	for sessionID, tag := range m.sessionsByPeer[id] {
		refs = append(refs, SessionRef{SessionID: sessionID, Tag: tag})
	}
	for _, ref := range refs {
		m.endSessionLocked(ref.Tag, id, ref.SessionID)
	}
	return refs
}

// SessionRef names one in-flight session by id and protocol.
type SessionRef struct {
	SessionID uint64
	Tag       protocol.Tag
}

// Record returns a copy of the tracked record for id, if any.
func (m *Manager) Record(id peer.ID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peers[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// PeerCount returns the number of peers currently in the Connected state.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.peers {
		if r.State == Connected {
			n++
		}
	}
	return n
}
