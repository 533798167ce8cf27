package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// messageColumns expects messages aliased as m and users as u.
const messageColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.message_type,
	m.attachments, m.reply_to, m.reactions, m.read_by, m.delivered_to,
	m.edited_at, m.deleted_at, m.created_at, m.updated_at,
	u.id, COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.avatar_url, '')`

const messageFrom = ` FROM messages m LEFT JOIN users u ON u.id = m.sender_id `

type PostgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func scanMessage(row pgx.Row) (message.Message, error) {
	var (
		m           message.Message
		msgType     string
		attachments []byte
		reactions   []byte
		senderID    *string
		sender      user.Profile
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &msgType,
		&attachments, &m.ReplyTo, &reactions, &m.ReadBy, &m.DeliveredTo,
		&m.EditedAt, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
		&senderID, &sender.Username, &sender.FirstName, &sender.LastName, &sender.AvatarURL,
	)
	if err != nil {
		return message.Message{}, err
	}
	m.Type = message.Type(msgType)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return message.Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return message.Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}
	if len(m.Attachments) == 0 {
		m.Attachments = nil
	}
	if len(m.Reactions) == 0 {
		m.Reactions = nil
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = []string{}
	}
	if senderID != nil {
		sender.ID = *senderID
		m.Sender = &sender
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]message.Message, error) {
	defer rows.Close()
	out := []message.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	attachments, err := encodeJSON(m.Attachments, "[]")
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, message_type, attachments, reply_to)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
			RETURNING created_at, updated_at`,
			m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Type), attachments, m.ReplyTo,
		).Scan(&m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE conversations SET last_activity_at = $2 WHERE id = $1`,
			m.ConversationID, m.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return mapNoRows(pgx.ErrNoRows)
		}
		m.ReadBy = []string{}
		m.DeliveredTo = []string{}
		return nil
	})
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+messageFrom+`WHERE m.id = $1`, id))
	if err != nil {
		return message.Message{}, mapNoRows(err)
	}
	return m, nil
}

// updateReturning runs an UPDATE ... RETURNING * inside a CTE so the result
// can be joined with the sender profile.
func (r *PostgresMessageRepository) updateReturning(ctx context.Context, update string, args ...any) (message.Message, error) {
	q := `WITH m AS (` + update + ` RETURNING *) SELECT ` + messageColumns + ` FROM m LEFT JOIN users u ON u.id = m.sender_id`
	msg, err := scanMessage(r.db.QueryRow(ctx, q, args...))
	if err != nil {
		return message.Message{}, mapNoRows(err)
	}
	return msg, nil
}

func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string) (message.Message, error) {
	return r.updateReturning(ctx,
		`UPDATE messages SET content = $2, edited_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, content)
}

// SoftDelete keeps the first deletion time when called again.
func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID) (message.Message, error) {
	return r.updateReturning(ctx, `
		UPDATE messages SET
			deleted_at = COALESCE(deleted_at, NOW()),
			updated_at = CASE WHEN deleted_at IS NULL THEN NOW() ELSE updated_at END
		WHERE id = $1`,
		id)
}

// SetReaction stores reaction for userID. An empty reaction removes the entry.
func (r *PostgresMessageRepository) SetReaction(ctx context.Context, id uuid.UUID, userID, reaction string) (message.Message, error) {
	return r.updateReturning(ctx, `
		UPDATE messages SET
			reactions = CASE
				WHEN $3::text = '' THEN reactions - $2::text
				ELSE jsonb_set(reactions, ARRAY[$2::text], to_jsonb($3::text), true)
			END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, userID, reaction)
}

func (r *PostgresMessageRepository) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, messageID *uuid.UUID) ([]uuid.UUID, error) {
	q := `
		UPDATE messages SET
			read_by = array_append(read_by, $2::text),
			delivered_to = CASE WHEN $2::text = ANY(delivered_to) THEN delivered_to ELSE array_append(delivered_to, $2::text) END,
			updated_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2::text
		  AND deleted_at IS NULL
		  AND NOT ($2::text = ANY(read_by))`
	args := []any{conversationID, userID}
	if messageID != nil {
		q += ` AND id = $3`
		args = append(args, *messageID)
	}
	rows, err := r.db.Query(ctx, q+` RETURNING id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *PostgresMessageRepository) MarkDelivered(ctx context.Context, conversationID uuid.UUID, userID string, messageIDs []uuid.UUID) ([]uuid.UUID, error) {
	q := `
		UPDATE messages SET
			delivered_to = array_append(delivered_to, $2::text),
			updated_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2::text
		  AND deleted_at IS NULL
		  AND NOT ($2::text = ANY(delivered_to))`
	args := []any{conversationID, userID}
	if len(messageIDs) > 0 {
		q += ` AND id = ANY($3::uuid[])`
		args = append(args, uuidStrings(messageIDs))
	}
	rows, err := r.db.Query(ctx, q+` RETURNING id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *PostgresMessageRepository) LiveIDs(ctx context.Context, conversationID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = $1 AND id = ANY($2::uuid[]) AND deleted_at IS NULL`,
		conversationID, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *PostgresMessageRepository) page(ctx context.Context, conversationID uuid.UUID, search string, before *Cursor, limit int) ([]message.Message, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + messageColumns + messageFrom + `WHERE m.conversation_id = $1 AND m.deleted_at IS NULL`)
	args := []any{conversationID}

	if search != "" {
		args = append(args, escapeLike(search))
		fmt.Fprintf(&b, ` AND m.content ILIKE '%%' || $%d::text || '%%'`, len(args))
	}
	if before != nil {
		args = append(args, before.CreatedAt, before.ID)
		fmt.Fprintf(&b, ` AND (m.created_at, m.id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, ClampLimit(limit))
	fmt.Fprintf(&b, ` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// List returns non-deleted messages newest first, strictly older than before.
func (r *PostgresMessageRepository) List(ctx context.Context, conversationID uuid.UUID, before *Cursor, limit int) ([]message.Message, error) {
	return r.page(ctx, conversationID, "", before, limit)
}

func (r *PostgresMessageRepository) Search(ctx context.Context, conversationID uuid.UUID, query string, before *Cursor, limit int) ([]message.Message, error) {
	return r.page(ctx, conversationID, query, before, limit)
}

// Since returns every row touched after since, tombstones included, oldest first.
func (r *PostgresMessageRepository) Since(ctx context.Context, conversationID uuid.UUID, since time.Time, limit int) ([]message.Message, error) {
	if limit <= 0 || limit > MaxSinceRows {
		limit = MaxSinceRows
	}
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+messageFrom+`
		WHERE m.conversation_id = $1 AND m.updated_at > $2
		ORDER BY m.updated_at ASC, m.id ASC
		LIMIT $3`, conversationID, since, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepository) LatestByConversation(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]message.Message, error) {
	out := make(map[uuid.UUID]message.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT DISTINCT ON (m.conversation_id) `+messageColumns+messageFrom+`
		WHERE m.conversation_id = ANY($1::uuid[]) AND m.deleted_at IS NULL
		ORDER BY m.conversation_id, m.created_at DESC, m.id DESC`, uuidStrings(conversationIDs))
	if err != nil {
		return nil, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ConversationID] = m
	}
	return out, nil
}

func (r *PostgresMessageRepository) UnreadByConversation(ctx context.Context, userID string, conversationIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id = ANY($1::uuid[])
		  AND sender_id <> $2
		  AND deleted_at IS NULL
		  AND NOT ($2 = ANY(read_by))
		GROUP BY conversation_id`, uuidStrings(conversationIDs), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id uuid.UUID
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *PostgresMessageRepository) TotalUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.user_low = $1 OR c.user_high = $1)
		  AND m.sender_id <> $1
		  AND m.deleted_at IS NULL
		  AND NOT ($1 = ANY(m.read_by))`, userID).Scan(&n)
	return n, err
}

func (r *PostgresMessageRepository) PurgeDeleted(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET
			content = '',
			attachments = '[]'::jsonb,
			reactions = '{}'::jsonb,
			purged_at = NOW()
		WHERE id IN (
			SELECT id FROM messages
			WHERE deleted_at IS NOT NULL AND deleted_at < $1 AND purged_at IS NULL
			LIMIT $2
		)`, cutoff, batch)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
