package sqmr

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/protocol"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"
)

const testPeer = peer.ID("server-peer")

// fakeTransport hands out one pre-wired net.Pipe per OpenStream call and
// hands the server half to the test via serverStreams.
type fakeTransport struct {
	serverStreams chan Stream
}

func (f *fakeTransport) OpenStream(_ context.Context, _ peer.ID, _ protocol.Tag) (Stream, error) {
	client, server := newPipe("client", testPeer)
	f.serverStreams <- server
	return client, nil
}

// fakePeers is a single-peer always-eligible assigner, standing in for
// peermanager.Manager in tests that only exercise the sqmr state machine.
type fakePeers struct{}

func (fakePeers) AssignPeer(protocol.Tag) (peer.ID, error)   { return testPeer, nil }
func (fakePeers) BeginSession(protocol.Tag, peer.ID, uint64) {}
func (fakePeers) EndSession(protocol.Tag, peer.ID, uint64)   {}

func newTestBehavior(timeout time.Duration) (*Behavior, *fakeTransport) {
	transport := &fakeTransport{serverStreams: make(chan Stream, 4)}
	b := New(nil, transport, fakePeers{}, timeout)
	return b, transport
}

// readQueryFrame drains and decodes the query frame the client wrote, as
// a hand-rolled db executor would on the server side of the pipe.
func readQueryFrame(t *testing.T, s Stream) *sqmrpb.Query {
	t.Helper()
	raw, err := sqmrpb.ReadFrame(bufio.NewReader(s))
	require.NoError(t, err)
	q, err := sqmrpb.UnmarshalQuery(raw)
	require.NoError(t, err)
	return q
}

func drain(ch <-chan ClientItem) []ClientItem {
	var items []ClientItem
	for item := range ch {
		items = append(items, item)
	}
	return items
}

func TestHeaderRoundTrip(t *testing.T) {
	b, transport := newTestBehavior(time.Minute)
	clientChans, err := b.RegisterClient(protocol.SignedBlockHeader)
	require.NoError(t, err)

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 3}, Result: result}

	serverStream := <-transport.serverStreams
	go func() {
		readQueryFrame(t, serverStream)
		for i := 0; i < 3; i++ {
			require.NoError(t, sqmrpb.WriteFrame(serverStream, sqmrpb.DataResponse([]byte{byte(i)}).Marshal()))
		}
		require.NoError(t, sqmrpb.WriteFrame(serverStream, sqmrpb.FinResponse().Marshal()))
	}()

	handle := <-result
	require.NoError(t, handle.Err)
	assert.NotZero(t, handle.SessionID)

	items := drain(handle.Items)
	require.Len(t, items, 4)
	for i := 0; i < 3; i++ {
		require.Nil(t, items[i].Failed)
		assert.Equal(t, []byte{byte(i)}, items[i].Data)
	}
	assert.True(t, items[3].Fin)
}

func TestServerTruncation(t *testing.T) {
	b, transport := newTestBehavior(time.Minute)
	clientChans, err := b.RegisterClient(protocol.StateDiff)
	require.NoError(t, err)

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 100}, Result: result}

	serverStream := <-transport.serverStreams
	go func() {
		readQueryFrame(t, serverStream)
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.DataResponse([]byte("h0")).Marshal())
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.FinResponse().Marshal())
	}()

	handle := <-result
	require.NoError(t, handle.Err)

	items := drain(handle.Items)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("h0"), items[0].Data)
	assert.True(t, items[1].Fin)
}

func TestPeerDisconnectMidStream(t *testing.T) {
	b, transport := newTestBehavior(time.Minute)
	clientChans, err := b.RegisterClient(protocol.Transaction)
	require.NoError(t, err)

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 10}, Result: result}

	serverStream := <-transport.serverStreams
	go func() {
		readQueryFrame(t, serverStream)
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.DataResponse([]byte("h0")).Marshal())
		_ = serverStream.Close()
	}()

	handle := <-result
	require.NoError(t, handle.Err)

	items := drain(handle.Items)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("h0"), items[0].Data)
	require.NotNil(t, items[1].Failed)
	assert.False(t, items[1].Fin)
}

func TestSessionTimeout(t *testing.T) {
	b, transport := newTestBehavior(10 * time.Millisecond)
	clientChans, err := b.RegisterClient(protocol.SignedBlockHeader)
	require.NoError(t, err)

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 10}, Result: result}

	serverStream := <-transport.serverStreams
	defer serverStream.Close()

	handle := <-result
	require.NoError(t, handle.Err)

	time.Sleep(30 * time.Millisecond)
	b.Tick(time.Now())

	item, ok := <-handle.Items
	require.True(t, ok)
	require.NotNil(t, item.Failed)
	kind, _ := neterr.KindOf(item.Failed)
	assert.Equal(t, neterr.Timeout, kind)
}

func TestLimitZeroYieldsOnlyFin(t *testing.T) {
	b, transport := newTestBehavior(time.Minute)
	clientChans, err := b.RegisterClient(protocol.StateDiff)
	require.NoError(t, err)

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 0}, Result: result}

	serverStream := <-transport.serverStreams
	go func() {
		readQueryFrame(t, serverStream)
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.FinResponse().Marshal())
	}()

	handle := <-result
	require.NoError(t, handle.Err)
	items := drain(handle.Items)
	require.Len(t, items, 1)
	assert.True(t, items[0].Fin)
}

func TestFrameAfterFinIsProtocolViolation(t *testing.T) {
	b, transport := newTestBehavior(time.Minute)
	clientChans, err := b.RegisterClient(protocol.Transaction)
	require.NoError(t, err)

	var violations int
	b.OnProtocolViolation(func() { violations++ })

	result := make(chan QueryHandle, 1)
	clientChans.Submit <- QueryRequest{Query: &sqmrpb.Query{StartBlock: 0, Limit: 10}, Result: result}

	serverStream := <-transport.serverStreams
	go func() {
		readQueryFrame(t, serverStream)
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.FinResponse().Marshal())
		_ = sqmrpb.WriteFrame(serverStream, sqmrpb.DataResponse([]byte("late")).Marshal())
	}()

	handle := <-result
	require.NoError(t, handle.Err)
	items := drain(handle.Items)
	require.Len(t, items, 1)
	assert.True(t, items[0].Fin)
	assert.Eventually(t, func() bool { return violations == 1 }, time.Second, time.Millisecond)
}

func TestServerWriteAfterFinIsDropped(t *testing.T) {
	b, _ := newTestBehavior(time.Minute)
	serverChans, err := b.RegisterServer(protocol.SignedBlockHeader)
	require.NoError(t, err)

	clientStream, serverStream := newPipe("client", testPeer)
	go b.HandleInboundStream(protocol.SignedBlockHeader, serverStream)

	go func() {
		_ = sqmrpb.WriteFrame(clientStream, (&sqmrpb.Query{Limit: 1}).Marshal())
	}()

	item := <-serverChans.Queries
	serverChans.Output <- ServerOutput{SessionID: item.SessionID, Fin: true}
	serverChans.Output <- ServerOutput{SessionID: item.SessionID, Data: []byte("dropped")}

	raw, err := sqmrpb.ReadFrame(bufio.NewReader(clientStream))
	require.NoError(t, err)
	resp, err := sqmrpb.UnmarshalResponse(raw)
	require.NoError(t, err)
	assert.True(t, resp.IsFin())
}
