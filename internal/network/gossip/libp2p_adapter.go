package gossip

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// libp2pPubSub adapts *pubsub.PubSub (go-libp2p-pubsub) to the PubSub
// interface above.
type libp2pPubSub struct {
	ps *pubsub.PubSub
}

// NewLibp2pPubSub wraps a GossipSub router for use by the gossip behavior.
func NewLibp2pPubSub(ps *pubsub.PubSub) PubSub {
	return libp2pPubSub{ps: ps}
}

func (l libp2pPubSub) Join(topic string) (Topic, error) {
	t, err := l.ps.Join(topic)
	if err != nil {
		return nil, err
	}
	return libp2pTopic{t: t}, nil
}

type libp2pTopic struct {
	t *pubsub.Topic
}

func (l libp2pTopic) Publish(ctx context.Context, data []byte) error {
	return l.t.Publish(ctx, data)
}

func (l libp2pTopic) Subscribe() (Subscription, error) {
	sub, err := l.t.Subscribe()
	if err != nil {
		return nil, err
	}
	return libp2pSubscription{sub: sub}, nil
}

type libp2pSubscription struct {
	sub *pubsub.Subscription
}

func (l libp2pSubscription) Next(ctx context.Context) ([]byte, string, error) {
	msg, err := l.sub.Next(ctx)
	if err != nil {
		return nil, "", err
	}
	return msg.Data, msg.GetFrom().String(), nil
}

func (l libp2pSubscription) Cancel() { l.sub.Cancel() }
