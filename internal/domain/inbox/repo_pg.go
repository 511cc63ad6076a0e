package inbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medirec/medirec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING sent_at, is_read`,
		m.ID, m.SenderID, m.RecipientID, m.Content,
	).Scan(&m.SentAt, &m.IsRead)
}

const contactsQuery = `
	WITH mine AS (
		SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS contact_id,
			sender_id, content, sent_at, is_read
		FROM messages
		WHERE sender_id = $1 OR recipient_id = $1
	), latest AS (
		SELECT DISTINCT ON (contact_id) contact_id, content, sent_at
		FROM mine
		ORDER BY contact_id, sent_at DESC
	), unread AS (
		SELECT contact_id, COUNT(*) AS n
		FROM mine
		WHERE sender_id = contact_id AND NOT is_read
		GROUP BY contact_id
	)
	SELECT a.id, a.name, COALESCE(a.roles[1], ''), a.avatar_url,
		l.content, l.sent_at, COALESCE(u.n, 0)
	FROM latest l
	JOIN accounts a ON a.id = l.contact_id
	LEFT JOIN unread u ON u.contact_id = l.contact_id
	ORDER BY l.sent_at DESC`

func (r *messageRepoPG) Contacts(ctx context.Context, accountID uuid.UUID) ([]*Contact, error) {
	rows, err := r.conn(ctx).Query(ctx, contactsQuery, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ContactID, &c.ContactName, &c.ContactRole, &c.AvatarURL,
			&c.LastMessageContent, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *messageRepoPG) Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	const pair = `(m.sender_id = $1 AND m.recipient_id = $2) OR (m.sender_id = $2 AND m.recipient_id = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m WHERE `+pair, a, b).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.sender_id, s.name, m.recipient_id, m.content, m.sent_at, m.is_read
		FROM messages m
		JOIN accounts s ON s.id = m.sender_id
		WHERE `+pair+`
		ORDER BY m.sent_at, m.id
		LIMIT $3 OFFSET $4`, a, b, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.RecipientID,
			&m.Content, &m.SentAt, &m.IsRead); err != nil {
			return nil, 0, err
		}
		out = append(out, &m)
	}
	return out, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, recipient uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE recipient_id = $1 AND id = ANY($2::uuid[])`,
		recipient, strs)
	return err
}
