package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// Between returns up to limit messages exchanged by a and b created
	// before the given time, newest first.
	Between(ctx context.Context, a, b string, before time.Time, limit int) ([]*Message, error)
	// Recent returns up to limit messages sent or received by userID,
	// newest first.
	Recent(ctx context.Context, userID string, limit int) ([]*Message, error)
	// MarkRead flips unread messages addressed to readerID. Either ids or
	// senderID selects them.
	MarkRead(ctx context.Context, readerID string, ids []string, senderID string, at time.Time) ([]Receipt, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// UnreadBySender counts unread messages addressed to userID per sender.
	UnreadBySender(ctx context.Context, userID string) (map[string]int, error)
}

// PostgresRepository stores messages through database/sql on the pgx driver.
type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectMessage = `SELECT id, sender_id, receiver_id, content, attachments, read, read_at, created_at FROM messages`

func (r *PostgresRepository) Create(ctx context.Context, m *Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return errors.Wrap(err, "encode attachments")
	}

	query := `INSERT INTO messages (id, sender_id, receiver_id, content, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query, m.ID, m.Sender.ID, m.Receiver.ID, m.Content, string(attachments), m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

func (r *PostgresRepository) Between(ctx context.Context, a, b string, before time.Time, limit int) ([]*Message, error) {
	query := selectMessage + `
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4`
	return r.query(ctx, query, a, b, before, limit)
}

func (r *PostgresRepository) Recent(ctx context.Context, userID string, limit int) ([]*Message, error) {
	query := selectMessage + `
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.query(ctx, query, userID, limit)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select messages")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var attachments []byte
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Sender.ID, &m.Receiver.ID, &m.Content, &attachments, &m.Read, &readAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, errors.Wrapf(err, "decode attachments of %s", m.ID)
		}
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkRead(ctx context.Context, readerID string, ids []string, senderID string, at time.Time) ([]Receipt, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) > 0 {
		rows, err = r.db.QueryContext(ctx, `UPDATE messages SET read = TRUE, read_at = $1
			WHERE receiver_id = $2 AND NOT read AND id = ANY($3)
			RETURNING id, sender_id`, at, readerID, ids)
	} else {
		rows, err = r.db.QueryContext(ctx, `UPDATE messages SET read = TRUE, read_at = $1
			WHERE receiver_id = $2 AND NOT read AND sender_id = $3
			RETURNING id, sender_id`, at, readerID, senderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "mark read")
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var rc Receipt
		if err := rows.Scan(&rc.MessageID, &rc.SenderID); err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func (r *PostgresRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE receiver_id = $1 AND NOT read`, userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return n, nil
}

func (r *PostgresRepository) UnreadBySender(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sender_id, count(*) FROM messages
		WHERE receiver_id = $1 AND NOT read GROUP BY sender_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "count unread by sender")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, errors.Wrap(err, "scan unread count")
		}
		counts[sender] = n
	}
	return counts, errors.Wrap(rows.Err(), "count unread by sender")
}
