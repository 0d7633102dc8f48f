package message

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type messageRow struct {
	ID          string                          `gorm:"primaryKey"`
	SenderID    string                          `gorm:"not null;index:idx_pair,priority:1"`
	ReceiverID  string                          `gorm:"not null;index:idx_pair,priority:2;index"`
	Content     string                          `gorm:"not null;default:''"`
	Attachments datatypes.JSONSlice[Attachment] `gorm:"not null"`
	Read        bool                            `gorm:"not null;default:false"`
	ReadAt      *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (messageRow) TableName() string { return "messages" }

func toRow(m *Message) messageRow {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	return messageRow{
		ID:          m.ID,
		SenderID:    m.Sender.ID,
		ReceiverID:  m.Receiver.ID,
		Content:     m.Content,
		Attachments: attachments,
		Read:        m.Read,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
	}
}

func (row messageRow) toMessage() *Message {
	return &Message{
		ID:          row.ID,
		Sender:      Participant{ID: row.SenderID},
		Receiver:    Participant{ID: row.ReceiverID},
		Content:     row.Content,
		Attachments: row.Attachments,
		Read:        row.Read,
		ReadAt:      row.ReadAt,
		CreatedAt:   row.CreatedAt,
	}
}

// GormRepository stores messages in SQLite through gorm.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&messageRow{})
}

func (r *GormRepository) Create(ctx context.Context, m *Message) error {
	row := toRow(m)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (r *GormRepository) Between(ctx context.Context, a, b string, before time.Time, limit int) ([]*Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND created_at < ?", a, b, b, a, before).
		Order("created_at DESC").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "select messages")
	}
	return toMessages(rows), nil
}

func (r *GormRepository) Recent(ctx context.Context, userID string, limit int) ([]*Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "select messages")
	}
	return toMessages(rows), nil
}

func toMessages(rows []messageRow) []*Message {
	messages := make([]*Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toMessage())
	}
	return messages
}

func (r *GormRepository) MarkRead(ctx context.Context, readerID string, ids []string, senderID string, at time.Time) ([]Receipt, error) {
	var receipts []Receipt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&messageRow{}).Where("receiver_id = ? AND read = ?", readerID, false)
		if len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		} else {
			q = q.Where("sender_id = ?", senderID)
		}

		var rows []messageRow
		if err := q.Select("id", "sender_id").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		matched := make([]string, 0, len(rows))
		for _, row := range rows {
			matched = append(matched, row.ID)
			receipts = append(receipts, Receipt{MessageID: row.ID, SenderID: row.SenderID})
		}
		return tx.Model(&messageRow{}).Where("id IN ?", matched).
			Updates(map[string]interface{}{"read": true, "read_at": at}).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "mark read")
	}
	return receipts, nil
}

func (r *GormRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&messageRow{}).
		Where("receiver_id = ? AND read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return int(n), nil
}

func (r *GormRepository) UnreadBySender(ctx context.Context, userID string) (map[string]int, error) {
	var rows []struct {
		SenderID string
		Unread   int
	}
	err := r.db.WithContext(ctx).Model(&messageRow{}).
		Select("sender_id, count(*) AS unread").
		Where("receiver_id = ? AND read = ?", userID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count unread by sender")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Unread
	}
	return counts, nil
}
