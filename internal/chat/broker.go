package chat

import (
	"context"
	"encoding/json"
)

// Delivery is one encoded event addressed to a channel. Exclude names a
// connection id and ExcludeUser a user id whose connections must not get it.
type Delivery struct {
	Channel     string          `json:"channel"`
	Exclude     string          `json:"exclude,omitempty"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Broker fans deliveries out to every hub that shares it.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe calls deliver for every published delivery until ctx is done.
	Subscribe(ctx context.Context, deliver func(Delivery)) error
	// Distributed reports whether other processes may hold channel members.
	Distributed() bool
	Close() error
}

// LocalBroker keeps deliveries inside the process.
type LocalBroker struct {
	queue chan Delivery
}

func NewLocalBroker(size int) *LocalBroker {
	if size <= 0 {
		size = 256
	}
	return &LocalBroker{queue: make(chan Delivery, size)}
}

func (b *LocalBroker) Publish(ctx context.Context, d Delivery) error {
	select {
	case b.queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Subscribe(ctx context.Context, deliver func(Delivery)) error {
	for {
		select {
		case d := <-b.queue:
			deliver(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *LocalBroker) Distributed() bool { return false }

func (b *LocalBroker) Close() error { return nil }
