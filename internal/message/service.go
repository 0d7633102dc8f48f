package message

import (
	"context"
	"mime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"petconnect/internal/auth"
	"petconnect/internal/chat"
)

var (
	ErrInvalid     = errors.New("invalid message")
	ErrUnknownUser = errors.New("unknown user")
)

const (
	MaxContentLength   = 5000
	MaxAttachments     = 10
	DefaultHistorySize = 50
	MaxHistorySize     = 200
)

// Directory resolves user ids to display names.
type Directory interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// Relay publishes committed changes to connected clients.
type Relay interface {
	RelayMessage(ctx context.Context, senderID, receiverID string, message interface{}) error
	RelayRead(ctx context.Context, readerID, senderID string, messageIDs []string) error
}

type Service struct {
	repo  Repository
	users Directory
	relay Relay
	now   func() time.Time
	// scanSize bounds how many recent messages Conversations reads to find
	// the caller's peers.
	scanSize int
}

// NewService builds the gateway. relay may be nil, in which case clients
// relay through send_message themselves.
func NewService(repo Repository, users Directory, relay Relay) *Service {
	return &Service{repo: repo, users: users, relay: relay, now: time.Now, scanSize: 500}
}

func (s *Service) Send(ctx context.Context, sender auth.Identity, req *SendRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	switch {
	case req.ReceiverID == "":
		return nil, errors.Wrap(ErrInvalid, "receiverId is required")
	case req.ReceiverID == sender.UserID:
		return nil, errors.Wrap(ErrInvalid, "cannot message yourself")
	case content == "" && len(req.Attachments) == 0:
		return nil, errors.Wrap(ErrInvalid, "message needs content or attachments")
	case utf8.RuneCountInString(content) > MaxContentLength:
		return nil, errors.Wrapf(ErrInvalid, "content exceeds %d characters", MaxContentLength)
	case len(req.Attachments) > MaxAttachments:
		return nil, errors.Wrapf(ErrInvalid, "at most %d attachments", MaxAttachments)
	}

	attachments := make([]Attachment, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		a, err := normalizeAttachment(a)
		if err != nil {
			return nil, errors.Wrapf(err, "attachment %d", i)
		}
		attachments = append(attachments, a)
	}

	names, err := s.users.Names(ctx, []string{sender.UserID, req.ReceiverID})
	if err != nil {
		return nil, err
	}
	if _, ok := names[req.ReceiverID]; !ok {
		return nil, ErrUnknownUser
	}

	m := &Message{
		ID:          uuid.NewString(),
		Sender:      Participant{ID: sender.UserID, Name: names[sender.UserID]},
		Receiver:    Participant{ID: req.ReceiverID, Name: names[req.ReceiverID]},
		Content:     content,
		Attachments: attachments,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	if s.relay != nil {
		if err := s.relay.RelayMessage(ctx, m.Sender.ID, m.Receiver.ID, m); err != nil {
			jww.WARN.Printf("[message] relay of %s failed: %v", m.ID, err)
		}
	}
	return m, nil
}

func normalizeAttachment(a Attachment) (Attachment, error) {
	if a.URL == "" {
		return a, errors.Wrap(ErrInvalid, "url is required")
	}
	if a.Size < 0 {
		return a, errors.Wrap(ErrInvalid, "size is negative")
	}
	if a.MimeType != "" {
		mt, _, err := mime.ParseMediaType(a.MimeType)
		if err != nil {
			return a, errors.Wrap(ErrInvalid, "mimeType is invalid")
		}
		a.MimeType = mt
	}
	switch a.Type {
	case "":
		if strings.HasPrefix(a.MimeType, "image/") {
			a.Type = AttachmentImage
		} else {
			a.Type = AttachmentDocument
		}
	case AttachmentImage, AttachmentDocument:
	default:
		return a, errors.Wrapf(ErrInvalid, "type %q is not image or document", a.Type)
	}
	return a, nil
}

// History returns the conversation between userID and otherID, oldest first.
func (s *Service) History(ctx context.Context, userID, otherID string, before time.Time, limit int) ([]*Message, error) {
	if otherID == "" {
		return nil, errors.Wrap(ErrInvalid, "user id is required")
	}
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	if limit > MaxHistorySize {
		limit = MaxHistorySize
	}
	if before.IsZero() {
		before = s.now().UTC().Add(time.Second)
	}

	messages, err := s.repo.Between(ctx, userID, otherID, before, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if err := s.fillNames(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Conversations summarizes the caller's conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]Summary, error) {
	messages, err := s.repo.Recent(ctx, userID, s.scanSize)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.UnreadBySender(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Peers with unread messages older than the scan window still get a
	// summary.
	seen := make(map[string]bool)
	for _, m := range messages {
		seen[m.Sender.ID] = true
		seen[m.Receiver.ID] = true
	}
	for senderID := range unread {
		if seen[senderID] {
			continue
		}
		last, err := s.repo.Between(ctx, userID, senderID, s.now().UTC().Add(time.Second), 1)
		if err != nil {
			return nil, err
		}
		messages = append(messages, last...)
	}
	if err := s.fillNames(ctx, messages); err != nil {
		return nil, err
	}

	byOther := make(map[string]*Summary)
	var order []string
	for _, m := range messages {
		other := m.Receiver
		if other.ID == userID {
			other = m.Sender
		}
		if _, ok := byOther[other.ID]; ok {
			continue
		}
		// Recent is newest first, so the first message seen is the last one sent.
		byOther[other.ID] = &Summary{
			ConversationID: chat.ConversationID(userID, other.ID),
			OtherUser:      other,
			LastMessage:    m,
			UnreadCount:    unread[other.ID],
		}
		order = append(order, other.ID)
	}

	summaries := make([]Summary, 0, len(order))
	for _, id := range order {
		summaries = append(summaries, *byOther[id])
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.CreatedAt.After(summaries[j].LastMessage.CreatedAt)
	})
	return summaries, nil
}

// MarkRead marks messages addressed to readerID as read and returns how many
// changed.
func (s *Service) MarkRead(ctx context.Context, readerID string, req *ReadRequest) (int, error) {
	if len(req.MessageIDs) == 0 && req.SenderID == "" {
		return 0, errors.Wrap(ErrInvalid, "messageIds or senderId is required")
	}

	receipts, err := s.repo.MarkRead(ctx, readerID, req.MessageIDs, req.SenderID, s.now().UTC())
	if err != nil {
		return 0, err
	}

	if s.relay != nil {
		bySender := make(map[string][]string)
		for _, rc := range receipts {
			bySender[rc.SenderID] = append(bySender[rc.SenderID], rc.MessageID)
		}
		for senderID, ids := range bySender {
			if err := s.relay.RelayRead(ctx, readerID, senderID, ids); err != nil {
				jww.WARN.Printf("[message] read receipt relay to %s failed: %v", senderID, err)
			}
		}
	}
	return len(receipts), nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) fillNames(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range messages {
		for _, id := range []string{m.Sender.ID, m.Receiver.ID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	names, err := s.users.Names(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range messages {
		m.Sender.Name = names[m.Sender.ID]
		m.Receiver.Name = names[m.Receiver.ID]
	}
	return nil
}
