// Package gossip implements the topic-based pub/sub behavior: topic
// subscription, publish, and delivery into bounded per-subscriber queues
// with drop-oldest backpressure (spec §4.5).
package gossip

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/metrics"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
)

// ConsensusTopic is the well-known topic name consensus messages are
// broadcast on (spec §6, recovered from original_source's main.rs wiring
// of BroadcastSubscriberChannels).
const ConsensusTopic = "consensus"

// PubSub is the subset of a gossip transport the behavior needs: joining
// a topic and getting back a publish/subscribe handle. go-libp2p-pubsub's
// *pubsub.PubSub satisfies this through a thin adapter (NewLibp2pPubSub
// in libp2p_adapter.go).
type PubSub interface {
	Join(topic string) (Topic, error)
}

// Topic is the subset of *pubsub.Topic the behavior needs.
type Topic interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe() (Subscription, error)
}

// Subscription is the subset of *pubsub.Subscription the behavior needs.
// From identifies the publishing peer, so the behavior can filter out the
// local node's own publications (spec §8 scenario 5: "no loopback").
type Subscription interface {
	Next(ctx context.Context) (data []byte, from string, err error)
	Cancel()
}

// BroadcastChannels are the endpoints returned to a caller that
// registers a broadcast topic (spec §4.8 RegisterBroadcast).
type BroadcastChannels struct {
	Publish   chan<- []byte
	Delivered <-chan []byte
}

type subscriberState struct {
	topic     Topic
	sub       Subscription
	delivered chan []byte
	publish   chan []byte
	cancel    context.CancelFunc
}

// Behavior is the gossip sub-behavior.
type Behavior struct {
	log         hclog.Logger
	ps          PubSub
	metrics     *metrics.Metrics
	localPeerID string

	mu     sync.Mutex
	topics map[string]*subscriberState
}

// New constructs a gossip behavior over ps. localPeerID is used to filter
// a node's own publications out of its own delivered queue.
func New(log hclog.Logger, ps PubSub, m *metrics.Metrics, localPeerID string) *Behavior {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Behavior{
		log:         log.Named("gossip"),
		ps:          ps,
		metrics:     m,
		localPeerID: localPeerID,
		topics:      make(map[string]*subscriberState),
	}
}

// Subscribe joins topic (once) and returns its publish/deliver channels.
// capacity bounds the deliver queue; when full, the oldest undelivered
// message is dropped and a metric incremented (spec §4.5, §9 Open
// Questions: drop-oldest is this spec's committed policy).
func (b *Behavior) Subscribe(topic string, capacity int) (BroadcastChannels, error) {
	b.mu.Lock()
	if _, ok := b.topics[topic]; ok {
		b.mu.Unlock()
		return BroadcastChannels{}, neterr.New(neterr.ConfigInvalid, fmt.Sprintf("topic %q already registered", topic))
	}
	b.mu.Unlock()

	t, err := b.ps.Join(topic)
	if err != nil {
		return BroadcastChannels{}, neterr.Wrap(neterr.TransportError, "join topic", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return BroadcastChannels{}, neterr.Wrap(neterr.TransportError, "subscribe topic", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &subscriberState{
		topic:     t,
		sub:       sub,
		delivered: make(chan []byte, capacity),
		publish:   make(chan []byte, 16),
		cancel:    cancel,
	}

	b.mu.Lock()
	b.topics[topic] = state
	b.mu.Unlock()

	go b.runDeliverLoop(ctx, topic, state)
	go b.runPublishLoop(ctx, topic, state)

	return BroadcastChannels{Publish: state.publish, Delivered: state.delivered}, nil
}

func (b *Behavior) runDeliverLoop(ctx context.Context, topic string, state *subscriberState) {
	for {
		msg, from, err := state.sub.Next(ctx)
		if err != nil {
			return // topic cancelled or subscription torn down
		}
		if from == b.localPeerID {
			continue // no loopback: drop our own publications (spec §8 scenario 5)
		}
		b.deliver(topic, state, msg)
	}
}

// deliver enqueues msg, dropping the oldest queued message if the bounded
// queue is full (drop-oldest backpressure, spec §4.5).
func (b *Behavior) deliver(topic string, state *subscriberState, msg []byte) {
	select {
	case state.delivered <- msg:
		return
	default:
	}
	select {
	case <-state.delivered:
		if b.metrics != nil {
			b.metrics.BroadcastDrops.WithLabelValues(topic).Inc()
		}
	default:
	}
	select {
	case state.delivered <- msg:
	default:
		// Another goroutine drained/filled it in between; drop msg
		// rather than block the delivery loop.
		if b.metrics != nil {
			b.metrics.BroadcastDrops.WithLabelValues(topic).Inc()
		}
	}
}

func (b *Behavior) runPublishLoop(ctx context.Context, topic string, state *subscriberState) {
	for {
		select {
		case payload, ok := <-state.publish:
			if !ok {
				return
			}
			if err := state.topic.Publish(ctx, payload); err != nil {
				b.log.Warn("publish failed", "topic", topic, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close tears down every registered topic's goroutines.
func (b *Behavior) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, state := range b.topics {
		state.cancel()
		state.sub.Cancel()
		close(state.delivered)
	}
}
