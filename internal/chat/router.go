package chat

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Router turns inbound client events into channel broadcasts. It never
// persists anything: send_message relays a record the message gateway has
// already stored.
type Router struct {
	hub *Hub
	// enforceParticipants restricts conversation events to the two users
	// encoded in the conversation id.
	enforceParticipants bool
}

func NewRouter(hub *Hub, enforceParticipants bool) *Router {
	return &Router{hub: hub, enforceParticipants: enforceParticipants}
}

func (rt *Router) Handle(ctx context.Context, c *Client, frame []byte) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		jww.DEBUG.Printf("[router] %s (user %s): %v", c.ID, c.UserID(), err)
		rt.replyError(c, err)
		return
	}

	status, err := rt.dispatch(ctx, c, env)
	if err != nil {
		jww.WARN.Printf("[router] %s from %s (user %s): %v", env.Event, c.ID, c.UserID(), err)
	}

	if env.Ack != "" {
		ack := AckPayload{ID: env.Ack, Status: status}
		if err != nil {
			ack.Status = StatusError
			ack.Error = errorCode(err)
		}
		rt.hub.Reply(c, EventAck, ack)
		return
	}
	if err != nil {
		rt.replyError(c, err)
	}
}

func (rt *Router) dispatch(ctx context.Context, c *Client, env *Envelope) (string, error) {
	switch env.Event {
	case EventJoinConversation:
		id, err := rt.conversation(c, env.Data)
		if err != nil {
			return "", err
		}
		rt.hub.registry.Join(c, id)
		return StatusDelivered, nil

	case EventLeaveConversation:
		id, err := conversationRef(env.Data)
		if err != nil {
			return "", err
		}
		rt.hub.registry.Leave(c, id)
		return StatusDelivered, nil

	case EventSendMessage:
		var p SendMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return "", err
		}
		if err := rt.authorize(c, p.ConversationID); err != nil {
			return "", err
		}
		if len(p.Message) == 0 || string(p.Message) == "null" {
			return "", errors.Wrap(ErrBadPayload, "missing message")
		}
		if err := rt.hub.Emit(ctx, p.ConversationID, c, EventNewMessage, p.Message); err != nil {
			return "", err
		}
		reached := []string{p.ConversationID}

		if receiver := receiverOf(p.Message); receiver != "" {
			personal := PersonalChannel(receiver)
			err := rt.hub.Emit(ctx, personal, c, EventMessageNotification, MessageNotification{
				ConversationID: p.ConversationID,
				Message:        p.Message,
			})
			if err != nil {
				return "", err
			}
			reached = append(reached, personal)
		}
		return rt.status(c, reached...), nil

	case EventTypingStart, EventTypingStop:
		var p TypingPayload
		if err := decode(env.Data, &p); err != nil {
			return "", err
		}
		if err := rt.authorize(c, p.ConversationID); err != nil {
			return "", err
		}
		typing := UserTyping{UserID: c.UserID(), IsTyping: env.Event == EventTypingStart}
		if typing.IsTyping {
			typing.UserName = p.UserName
		}
		if err := rt.hub.Emit(ctx, p.ConversationID, c, EventUserTyping, typing); err != nil {
			return "", err
		}
		return rt.status(c, p.ConversationID), nil

	case EventMessagesRead:
		var p ReadPayload
		if err := decode(env.Data, &p); err != nil {
			return "", err
		}
		if err := rt.authorize(c, p.ConversationID); err != nil {
			return "", err
		}
		if len(p.MessageIDs) == 0 {
			return "", errors.Wrap(ErrBadPayload, "missing messageIds")
		}
		err := rt.hub.Emit(ctx, p.ConversationID, c, EventMessagesMarkedRead, MessagesMarkedRead{
			MessageIDs: p.MessageIDs,
			ReadBy:     c.UserID(),
		})
		if err != nil {
			return "", err
		}
		return rt.status(c, p.ConversationID), nil
	}

	return "", errors.Wrapf(ErrBadPayload, "unknown event %q", env.Event)
}

// conversation resolves and authorizes the conversation named by data.
func (rt *Router) conversation(c *Client, data json.RawMessage) (string, error) {
	id, err := conversationRef(data)
	if err != nil {
		return "", err
	}
	return id, rt.authorize(c, id)
}

func (rt *Router) authorize(c *Client, conversationID string) error {
	if conversationID == "" {
		return errors.Wrap(ErrBadPayload, "missing conversationId")
	}
	// Personal channels are never reachable through conversation events.
	if isPersonalChannel(conversationID) {
		return ErrForbidden
	}
	if rt.enforceParticipants && !IsParticipant(conversationID, c.UserID()) {
		return ErrForbidden
	}
	return nil
}

func (rt *Router) status(c *Client, channels ...string) string {
	total := 0
	for _, channel := range channels {
		n, known := rt.hub.audience(channel, c)
		if !known {
			return StatusDelivered
		}
		total += n
	}
	if total == 0 {
		return StatusChannelEmpty
	}
	return StatusDelivered
}

func (rt *Router) replyError(c *Client, err error) {
	rt.hub.Reply(c, EventError, ErrorPayload{Code: errorCode(err), Message: errorMessage(err)})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.Wrap(ErrBadPayload, "missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(ErrBadPayload, err.Error())
	}
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrBadPayload):
		return ErrCodeBadPayload
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	default:
		return ErrCodeInternal
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrBadPayload):
		return err.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	default:
		return "internal error"
	}
}
