package chat

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Client -> server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessagesRead      = "messages_read"
)

// Server -> client events.
const (
	EventNewMessage          = "new_message"
	EventMessageNotification = "message_notification"
	EventUserTyping          = "user_typing"
	EventMessagesMarkedRead  = "messages_marked_read"
	EventAck                 = "ack"
	EventError               = "error"
)

// Ack statuses.
const (
	StatusDelivered    = "delivered"
	StatusChannelEmpty = "channel_empty"
	StatusError        = "error"
)

// Error codes carried by the error event.
const (
	ErrCodeBadPayload = "bad_payload"
	ErrCodeForbidden  = "forbidden"
	ErrCodeInternal   = "internal_error"
)

var (
	ErrBadPayload = errors.New("malformed event payload")
	ErrForbidden  = errors.New("not a participant of this conversation")
)

// Envelope is the frame exchanged in both directions. Ack is optional: when
// a client sets it, the server answers with an ack event carrying the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

func NewEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", event)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrBadPayload, err.Error())
	}
	if env.Event == "" {
		return nil, errors.Wrap(ErrBadPayload, "missing event name")
	}
	return &env, nil
}

type SendMessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName,omitempty"`
}

type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type MessageNotification struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type MessagesMarkedRead struct {
	MessageIDs []string `json:"messageIds"`
	ReadBy     string   `json:"readBy"`
}

type AckPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// conversationRef accepts either a bare string or {"conversationId": "..."}.
func conversationRef(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", errors.Wrap(ErrBadPayload, "missing conversationId")
	}

	var id string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", errors.Wrap(ErrBadPayload, err.Error())
		}
	} else {
		var obj struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", errors.Wrap(ErrBadPayload, err.Error())
		}
		id = obj.ConversationID
	}
	if id == "" {
		return "", errors.Wrap(ErrBadPayload, "missing conversationId")
	}
	return id, nil
}

// receiverOf finds the receiver named by a relayed message. The payload is
// the record returned by the message gateway, where receiver is either an id
// or a user object; receiverId is accepted as well.
func receiverOf(message json.RawMessage) string {
	var m struct {
		Receiver   json.RawMessage `json:"receiver"`
		ReceiverID string          `json:"receiverId"`
	}
	if err := json.Unmarshal(message, &m); err != nil {
		return ""
	}
	if m.ReceiverID != "" {
		return m.ReceiverID
	}
	r := bytes.TrimSpace(m.Receiver)
	if len(r) == 0 {
		return ""
	}
	if r[0] == '"' {
		var id string
		_ = json.Unmarshal(r, &id)
		return id
	}
	var obj struct {
		ObjectID string `json:"_id"`
		ID       string `json:"id"`
	}
	if err := json.Unmarshal(r, &obj); err != nil {
		return ""
	}
	if obj.ObjectID != "" {
		return obj.ObjectID
	}
	return obj.ID
}
