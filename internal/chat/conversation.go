package chat

import "strings"

const (
	conversationSeparator = "_"
	personalPrefix        = "user:"
)

// ConversationID derives the shared channel name for a pair of users.
// The pair is sorted first, so ConversationID(a, b) == ConversationID(b, a)
// and both sides reach the same channel without asking the server.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + conversationSeparator + b
}

// Participants splits a conversation id back into its two user ids. It only
// accepts ids in the canonical form ConversationID produces.
func Participants(conversationID string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationID, conversationSeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	if ConversationID(a, b) != conversationID {
		return "", "", false
	}
	return a, b, true
}

// IsParticipant reports whether userID is one of the two users encoded in
// conversationID.
func IsParticipant(conversationID, userID string) bool {
	a, b, ok := Participants(conversationID)
	return ok && (userID == a || userID == b)
}

// PersonalChannel is the notification channel every connection of a user
// joins on connect.
func PersonalChannel(userID string) string {
	return personalPrefix + userID
}

func isPersonalChannel(name string) bool {
	return strings.HasPrefix(name, personalPrefix)
}
