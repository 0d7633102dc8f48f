package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationIDIsOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"u2", "u1"},
		{"b6f1c2", "0a9e"},
		{"same", "same"},
		{"", "x"},
		{"Zed", "abe"},
	}
	for _, p := range pairs {
		require.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]), "%v", p)
	}
	require.Equal(t, "u1_u2", ConversationID("u2", "u1"))
	require.Equal(t, "Zed_abe", ConversationID("abe", "Zed"))
}

func TestParticipants(t *testing.T) {
	a, b, ok := Participants("u1_u2")
	require.True(t, ok)
	require.Equal(t, "u1", a)
	require.Equal(t, "u2", b)

	for _, id := range []string{"", "u1", "_u2", "u1_", "u2_u1", "user:u1"} {
		_, _, ok := Participants(id)
		require.False(t, ok, id)
	}

	require.True(t, IsParticipant("u1_u2", "u2"))
	require.False(t, IsParticipant("u1_u2", "u3"))
	require.False(t, IsParticipant("u2_u1", "u1"))
}

func TestPersonalChannel(t *testing.T) {
	require.Equal(t, "user:u2", PersonalChannel("u2"))
	require.True(t, isPersonalChannel(PersonalChannel("u2")))
	require.False(t, isPersonalChannel("u1_u2"))
}
