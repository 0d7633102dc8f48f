package chat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	jww "github.com/spf13/jwalterweatherman"
)

const DefaultRelayChannel = "petconnect:relay"

// RedisBroker shares deliveries between server processes over a single
// Redis pub/sub channel. Every process receives every delivery and fans it
// out to its own local members.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode delivery")
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Delivery)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe %s", b.channel)
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				jww.WARN.Printf("[relay] dropping undecodable delivery: %v", err)
				continue
			}
			deliver(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RedisBroker) Distributed() bool { return true }

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
