package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, event string, data interface{}, ack string) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(Envelope{Event: event, Data: raw, Ack: ack})
	require.NoError(t, err)
	return out
}

func ackOf(t *testing.T, c *Client) AckPayload {
	t.Helper()
	env := next(t, c)
	require.Equal(t, EventAck, env.Event)
	var ack AckPayload
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	return ack
}

func TestSendMessageScenario(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()

	a := connect(t, hub, "u1")
	b := connect(t, hub, "u2")
	conv := ConversationID("u2", "u1")
	require.Equal(t, "u1_u2", conv)

	rt.Handle(ctx, a, frame(t, EventJoinConversation, conv, "j1"))
	require.Equal(t, StatusDelivered, ackOf(t, a).Status)
	rt.Handle(ctx, b, frame(t, EventJoinConversation, map[string]string{"conversationId": conv}, "j2"))
	require.Equal(t, StatusDelivered, ackOf(t, b).Status)

	message := json.RawMessage(`{"_id":"m1","sender":{"_id":"u1"},"receiver":{"_id":"u2"},"content":"walk at 5?"}`)
	rt.Handle(ctx, a, frame(t, EventSendMessage, SendMessagePayload{ConversationID: conv, Message: message}, ""))

	env := next(t, b)
	require.Equal(t, EventNewMessage, env.Event)
	require.JSONEq(t, string(message), string(env.Data))

	env = next(t, b)
	require.Equal(t, EventMessageNotification, env.Event)
	var n MessageNotification
	require.NoError(t, json.Unmarshal(env.Data, &n))
	require.Equal(t, conv, n.ConversationID)
	require.JSONEq(t, string(message), string(n.Message))

	expectNothing(t, a)
	expectNothing(t, b)
}

func TestNotificationReachesReceiverOutsideConversation(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()

	a := connect(t, hub, "u1")
	b := connect(t, hub, "u2")
	rt.Handle(ctx, a, frame(t, EventJoinConversation, "u1_u2", ""))

	message := json.RawMessage(`{"receiver":"u2","content":"hi"}`)
	rt.Handle(ctx, a, frame(t, EventSendMessage, SendMessagePayload{ConversationID: "u1_u2", Message: message}, "s1"))
	require.Equal(t, StatusDelivered, ackOf(t, a).Status)

	env := next(t, b)
	require.Equal(t, EventMessageNotification, env.Event)
	expectNothing(t, b)
}

func TestTypingIndicators(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()

	a := connect(t, hub, "u1")
	b := connect(t, hub, "u2")
	a2 := connect(t, hub, "u1")
	for _, c := range []*Client{a, b, a2} {
		hub.Registry().Join(c, "u1_u2")
	}

	rt.Handle(ctx, a, frame(t, EventTypingStart, TypingPayload{ConversationID: "u1_u2", UserName: "Ana"}, ""))
	for _, c := range []*Client{b, a2} {
		env := next(t, c)
		require.Equal(t, EventUserTyping, env.Event)
		require.JSONEq(t, `{"userId":"u1","userName":"Ana","isTyping":true}`, string(env.Data))
	}

	rt.Handle(ctx, a, frame(t, EventTypingStop, TypingPayload{ConversationID: "u1_u2"}, ""))
	env := next(t, b)
	require.JSONEq(t, `{"userId":"u1","isTyping":false}`, string(env.Data))
	next(t, a2)

	expectNothing(t, a)
}

func TestMessagesRead(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()

	a := connect(t, hub, "u1")
	b := connect(t, hub, "u2")
	hub.Registry().Join(a, "u1_u2")
	hub.Registry().Join(b, "u1_u2")

	rt.Handle(ctx, b, frame(t, EventMessagesRead, ReadPayload{ConversationID: "u1_u2", MessageIDs: []string{"m1", "m2"}}, ""))

	env := next(t, a)
	require.Equal(t, EventMessagesMarkedRead, env.Event)
	var read MessagesMarkedRead
	require.NoError(t, json.Unmarshal(env.Data, &read))
	require.Equal(t, []string{"m1", "m2"}, read.MessageIDs)
	require.Equal(t, "u2", read.ReadBy)

	expectNothing(t, a)
	expectNothing(t, b)
}

func TestLeaveWithoutJoinIsNoop(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	a := connect(t, hub, "u1")

	rt.Handle(context.Background(), a, frame(t, EventLeaveConversation, "u1_u9", "l1"))
	ack := ackOf(t, a)
	require.Equal(t, StatusDelivered, ack.Status)
	require.Empty(t, ack.Error)

	rt.Handle(context.Background(), a, frame(t, EventLeaveConversation, "u1_u9", ""))
	expectNothing(t, a)
}

func TestJoinAuthorization(t *testing.T) {
	hub := startHub(t, Options{})
	strict := NewRouter(hub, true)
	open := NewRouter(hub, false)
	ctx := context.Background()

	outsider := connect(t, hub, "u3")

	strict.Handle(ctx, outsider, frame(t, EventJoinConversation, "u1_u2", "j1"))
	ack := ackOf(t, outsider)
	require.Equal(t, StatusError, ack.Status)
	require.Equal(t, ErrCodeForbidden, ack.Error)
	require.False(t, hub.Registry().IsMember(outsider, "u1_u2"))

	open.Handle(ctx, outsider, frame(t, EventJoinConversation, "u1_u2", "j2"))
	require.Equal(t, StatusDelivered, ackOf(t, outsider).Status)
	require.True(t, hub.Registry().IsMember(outsider, "u1_u2"))

	// Personal channels stay private either way.
	open.Handle(ctx, outsider, frame(t, EventJoinConversation, "user:u1", ""))
	env := next(t, outsider)
	require.Equal(t, EventError, env.Event)
	require.False(t, hub.Registry().IsMember(outsider, "user:u1"))
}

func TestMalformedEvents(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()
	a := connect(t, hub, "u1")

	for name, raw := range map[string][]byte{
		"not json":        []byte("{"),
		"no event":        []byte(`{"data":"u1_u2"}`),
		"unknown event":   frame(t, "dance", nil, ""),
		"no conversation": frame(t, EventSendMessage, map[string]string{}, ""),
		"no message":      frame(t, EventSendMessage, map[string]string{"conversationId": "u1_u2"}, ""),
		"no ids":          frame(t, EventMessagesRead, map[string]string{"conversationId": "u1_u2"}, ""),
		"empty join":      frame(t, EventJoinConversation, "", ""),
	} {
		t.Run(name, func(t *testing.T) {
			rt.Handle(ctx, a, raw)
			env := next(t, a)
			require.Equal(t, EventError, env.Event)
			var e ErrorPayload
			require.NoError(t, json.Unmarshal(env.Data, &e))
			require.Equal(t, ErrCodeBadPayload, e.Code)
		})
	}
	require.Equal(t, []string{"user:u1"}, hub.Registry().Channels(a))
}

func TestAckReportsEmptyChannel(t *testing.T) {
	hub := startHub(t, Options{})
	rt := NewRouter(hub, true)
	ctx := context.Background()
	a := connect(t, hub, "u1")
	hub.Registry().Join(a, "u1_u2")

	rt.Handle(ctx, a, frame(t, EventTypingStart, TypingPayload{ConversationID: "u1_u2"}, "t1"))
	ack := ackOf(t, a)
	require.Equal(t, "t1", ack.ID)
	require.Equal(t, StatusChannelEmpty, ack.Status)

	rt.Handle(ctx, a, frame(t, EventSendMessage, SendMessagePayload{
		ConversationID: "u1_u2",
		Message:        json.RawMessage(`{"content":"anyone?"}`),
	}, "s1"))
	require.Equal(t, StatusChannelEmpty, ackOf(t, a).Status)
	expectNothing(t, a)
}

func TestReceiverOf(t *testing.T) {
	cases := map[string]string{
		`{"receiver":{"_id":"u2","name":"Bo"}}`: "u2",
		`{"receiver":{"id":"u3"}}`:              "u3",
		`{"receiver":"u4"}`:                     "u4",
		`{"receiverId":"u5"}`:                   "u5",
		`{"content":"x"}`:                       "",
		`"just text"`:                           "",
	}
	for in, want := range cases {
		require.Equal(t, want, receiverOf(json.RawMessage(in)), in)
	}
}
