package chat

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"petconnect/internal/auth"
)

type Options struct {
	SendBuffer      int
	MaxMessageSize  int64
	EventsPerSecond int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.EventsPerSecond <= 0 {
		o.EventsPerSecond = 20
	}
	return o
}

type directMessage struct {
	client *Client
	data   []byte
}

// Hub owns the set of live connections on this process. Run is the only
// goroutine that writes into a client's send queue or closes it; everything
// else reaches clients through the hub's channels.
type Hub struct {
	clients    map[*Client]bool
	registry   *Registry
	broker     Broker
	opts       Options
	broadcast  chan Delivery      // From broker -> local members
	direct     chan directMessage // Replies to a single connection
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(broker Broker, registry *Registry, opts Options) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		registry:   registry,
		broker:     broker,
		opts:       opts.withDefaults(),
		broadcast:  make(chan Delivery),
		direct:     make(chan directMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Run processes registrations and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			jww.DEBUG.Printf("[hub] connected %s (user %s)", client.ID, client.UserID())

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.broadcast:
			for _, client := range h.registry.Members(d.Channel) {
				if client.ID == d.Exclude || (d.ExcludeUser != "" && client.UserID() == d.ExcludeUser) {
					continue
				}
				h.send(client, d.Payload)
			}

		case m := <-h.direct:
			h.send(m.client, m.data)

		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

func (h *Hub) send(client *Client, data []byte) {
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		jww.WARN.Printf("[hub] send queue full, dropping %s (user %s)", client.ID, client.UserID())
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	// A dropped client may still be dispatching a frame it read earlier, so
	// its memberships are cleared on every call.
	h.registry.Drop(client)
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	jww.DEBUG.Printf("[hub] disconnected %s (user %s)", client.ID, client.UserID())
}

// SubscribeToBroker feeds deliveries from the broker into Run.
func (h *Hub) SubscribeToBroker(ctx context.Context) {
	err := h.broker.Subscribe(ctx, func(d Delivery) {
		select {
		case h.broadcast <- d:
		case <-h.done:
		case <-ctx.Done():
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		jww.ERROR.Printf("[hub] broker subscription ended: %+v", err)
	}
}

func (h *Hub) NewClient(conn *websocket.Conn, id auth.Identity) *Client {
	return newClient(h, conn, id)
}

// Register joins client to its personal channel and admits it. The join
// happens before the handoff, so once Register returns every delivery to
// the personal channel counts and reaches client. It returns false once the
// hub has stopped.
func (h *Hub) Register(client *Client) bool {
	h.registry.Join(client, PersonalChannel(client.UserID()))
	select {
	case h.register <- client:
		return true
	case <-h.done:
		h.registry.Drop(client)
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Emit publishes event to every member of channel except the exclude
// connection, which may be nil.
func (h *Hub) Emit(ctx context.Context, channel string, exclude *Client, event string, data interface{}) error {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	d := Delivery{Channel: channel, Payload: payload}
	if exclude != nil {
		d.Exclude = exclude.ID
	}
	return h.broker.Publish(ctx, d)
}

// Reply queues event for a single connection.
func (h *Hub) Reply(client *Client, event string, data interface{}) error {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	select {
	case h.direct <- directMessage{client: client, data: payload}:
	case <-h.done:
	}
	return nil
}

// audience counts who besides exclude would receive a delivery to channel.
// The count is only known when no other process shares the broker.
func (h *Hub) audience(channel string, exclude *Client) (int, bool) {
	if h.broker.Distributed() {
		return 0, false
	}
	return h.registry.CountExcept(channel, exclude), true
}

// RelayMessage publishes a committed message from the server side: the
// conversation channel gets new_message and the receiver's personal channel
// gets message_notification. Connections of the sender are skipped since the
// sender already holds the stored record.
func (h *Hub) RelayMessage(ctx context.Context, senderID, receiverID string, message interface{}) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	conversationID := ConversationID(senderID, receiverID)

	if err := h.emitSkippingUser(ctx, conversationID, senderID, EventNewMessage, json.RawMessage(raw)); err != nil {
		return err
	}
	return h.emitSkippingUser(ctx, PersonalChannel(receiverID), senderID, EventMessageNotification, MessageNotification{
		ConversationID: conversationID,
		Message:        raw,
	})
}

// RelayRead publishes a read receipt for messages the reader marked as read.
func (h *Hub) RelayRead(ctx context.Context, readerID, senderID string, messageIDs []string) error {
	return h.emitSkippingUser(ctx, ConversationID(readerID, senderID), readerID, EventMessagesMarkedRead, MessagesMarkedRead{
		MessageIDs: messageIDs,
		ReadBy:     readerID,
	})
}

func (h *Hub) emitSkippingUser(ctx context.Context, channel, userID, event string, data interface{}) error {
	payload, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, Delivery{Channel: channel, ExcludeUser: userID, Payload: payload})
}
