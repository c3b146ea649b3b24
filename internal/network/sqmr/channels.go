package sqmr

import "github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"

// QueryRequest is submitted by client code to open a new session. Result
// is sent exactly once by the manager: either a QueryHandle with a live
// Items channel, or a QueryHandle with Err set (NoPeer, or TransportError
// when the substream cannot be opened) and a nil Items channel — the
// caller decides whether to retry (spec §4.2).
type QueryRequest struct {
	Query  *sqmrpb.Query
	Result chan<- QueryHandle
}

// QueryHandle correlates a submitted query with its assigned session and
// the channel its response stream will arrive on.
type QueryHandle struct {
	SessionID uint64
	Items     <-chan ClientItem
	Err       error
}

// ClientChannels are the endpoints returned to a caller that registers as
// an SQMR client for a protocol (spec §4.8 RegisterSQMRClient).
type ClientChannels struct {
	// Submit sends queries to the manager.
	Submit chan<- QueryRequest
}

// ServerChannels are the endpoints returned to a caller that registers as
// an SQMR server for a protocol (spec §4.8 RegisterSQMRServer).
type ServerChannels struct {
	// Queries delivers inbound queries as they arrive on fresh substreams.
	Queries <-chan ServerItem
	// Output accepts outbound Data/Fin frames keyed by session id.
	Output chan<- ServerOutput
}
