package gossip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTopic is the shared mesh state for one topic, fanning each publish
// out to every subscriber (mirroring go-libp2p-pubsub, which delivers to
// every peer subscribed to the topic, including the publisher itself).
type fakeTopic struct {
	mu   sync.Mutex
	subs []chan fakeMsg
}

type fakeMsg struct {
	data []byte
	from string
}

func newFakeTopic() *fakeTopic { return &fakeTopic{} }

func (f *fakeTopic) publish(from string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub <- fakeMsg{data: data, from: from}
	}
}

func (f *fakeTopic) subscribe() chan fakeMsg {
	ch := make(chan fakeMsg, 64)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// fakeTopicView is the per-node handle onto a shared fakeTopic, tagging
// this node's own publications with its peer id.
type fakeTopicView struct {
	topic *fakeTopic
	from  string
}

func (v fakeTopicView) Publish(_ context.Context, data []byte) error {
	v.topic.publish(v.from, data)
	return nil
}

func (v fakeTopicView) Subscribe() (Subscription, error) {
	return &fakeSubscription{msgs: v.topic.subscribe()}, nil
}

type fakeSubscription struct {
	msgs chan fakeMsg
}

func (f *fakeSubscription) Next(ctx context.Context) ([]byte, string, error) {
	select {
	case m := <-f.msgs:
		return m.data, m.from, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (f *fakeSubscription) Cancel() {}

// fakeBroker is the shared mesh all of a test's fakePubSub instances join,
// standing in for the real swarm go-libp2p-pubsub gossips over.
type fakeBroker struct {
	mu     sync.Mutex
	topics map[string]*fakeTopic
}

func newFakeBroker() *fakeBroker { return &fakeBroker{topics: make(map[string]*fakeTopic)} }

func (b *fakeBroker) topic(name string) *fakeTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = newFakeTopic()
		b.topics[name] = t
	}
	return t
}

// fakePubSub is one node's view of the broker, identified by localID so
// its own publications carry that id (for loopback filtering).
type fakePubSub struct {
	broker  *fakeBroker
	localID string
}

func newFakePubSub(broker *fakeBroker, localID string) *fakePubSub {
	return &fakePubSub{broker: broker, localID: localID}
}

func (f *fakePubSub) Join(topic string) (Topic, error) {
	return fakeTopicView{topic: f.broker.topic(topic), from: f.localID}, nil
}

func TestPublishDeliversToOtherSubscriber(t *testing.T) {
	broker := newFakeBroker()
	a := New(nil, newFakePubSub(broker, "node-a"), nil, "node-a")
	b := New(nil, newFakePubSub(broker, "node-b"), nil, "node-b")

	chansA, err := a.Subscribe(ConsensusTopic, 10)
	require.NoError(t, err)
	chansB, err := b.Subscribe(ConsensusTopic, 10)
	require.NoError(t, err)

	chansA.Publish <- []byte{0xDE, 0xAD, 0xBE, 0xEF}

	select {
	case msg := <-chansB.Delivered:
		assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestNoLoopback(t *testing.T) {
	broker := newFakeBroker()
	a := New(nil, newFakePubSub(broker, "node-a"), nil, "node-a")
	chans, err := a.Subscribe(ConsensusTopic, 10)
	require.NoError(t, err)

	// a publishes through its own fakeTopicView, tagged "from: node-a",
	// matching its own localPeerID, so the deliver loop drops it.
	chans.Publish <- []byte("self")

	select {
	case msg := <-chans.Delivered:
		t.Fatalf("unexpected self-delivery: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeTwiceFails(t *testing.T) {
	broker := newFakeBroker()
	a := New(nil, newFakePubSub(broker, "node-a"), nil, "node-a")
	_, err := a.Subscribe(ConsensusTopic, 10)
	require.NoError(t, err)
	_, err = a.Subscribe(ConsensusTopic, 10)
	require.Error(t, err)
}

func TestDropOldestWhenQueueFull(t *testing.T) {
	broker := newFakeBroker()
	a := New(nil, newFakePubSub(broker, "node-a"), nil, "node-a")
	b := New(nil, newFakePubSub(broker, "node-b"), nil, "node-b")

	chansA, err := a.Subscribe("topic", 2)
	require.NoError(t, err)
	chansB, err := b.Subscribe("topic", 2)
	require.NoError(t, err)

	chansA.Publish <- []byte("1")
	chansA.Publish <- []byte("2")
	chansA.Publish <- []byte("3")

	// B's queue has capacity 2; the oldest ("1") should have been dropped
	// in favor of "2" and "3" (spec §4.5 drop-oldest backpressure).
	require.Eventually(t, func() bool {
		select {
		case msg := <-chansB.Delivered:
			return string(msg) == "2"
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	select {
	case msg := <-chansB.Delivered:
		assert.Equal(t, []byte("3"), msg)
	case <-time.After(time.Second):
		t.Fatal("expected second queued message")
	}
}
