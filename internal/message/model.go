package message

import "time"

const (
	AttachmentImage    = "image"
	AttachmentDocument = "document"
)

type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Participant is the user reference embedded in a message record.
type Participant struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Message is the stored record the gateway returns and the relay forwards
// unchanged.
type Message struct {
	ID          string       `json:"_id"`
	Sender      Participant  `json:"sender"`
	Receiver    Participant  `json:"receiver"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Read        bool         `json:"read"`
	ReadAt      *time.Time   `json:"readAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type SendRequest struct {
	ReceiverID  string       `json:"receiverId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

// ReadRequest marks either the listed messages or everything a sender has
// sent to the caller.
type ReadRequest struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

// Receipt identifies one message flipped to read.
type Receipt struct {
	MessageID string
	SenderID  string
}

type Summary struct {
	ConversationID string      `json:"conversationId"`
	OtherUser      Participant `json:"otherUser"`
	LastMessage    *Message    `json:"lastMessage"`
	UnreadCount    int         `json:"unreadCount"`
}
