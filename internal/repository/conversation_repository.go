package repository

import (
	"context"
	"errors"
	"fmt"

	"pulse-dm/internal/domain/conversation"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, initiator_id, recipient_id, created_at, last_activity_at`

type PostgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func scanConversation(row pgx.Row) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := row.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt, &c.LastActivityAt)
	return c, err
}

func (r *PostgresConversationRepository) FindOrCreate(ctx context.Context, initiatorID, recipientID string) (conversation.Conversation, bool, error) {
	if initiatorID == recipientID {
		return conversation.Conversation{}, false, fmt.Errorf("%w: cannot start a conversation with yourself", pulse_errors.ErrValidation)
	}
	low, high := conversation.CanonicalPair(initiatorID, recipientID)

	c, err := scanConversation(r.db.QueryRow(ctx, `
		INSERT INTO conversations (initiator_id, recipient_id, user_low, user_high)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING `+conversationColumns,
		initiatorID, recipientID, low, high))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return conversation.Conversation{}, false, err
	}

	// Lost the race or the pair already existed: read the winner.
	c, err = r.FindByPair(ctx, initiatorID, recipientID)
	return c, false, err
}

func (r *PostgresConversationRepository) FindByPair(ctx context.Context, a, b string) (conversation.Conversation, error) {
	low, high := conversation.CanonicalPair(a, b)
	c, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_low = $1 AND user_high = $2`,
		low, high))
	if err != nil {
		return conversation.Conversation{}, mapNoRows(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return conversation.Conversation{}, mapNoRows(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]conversation.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_low = $1 OR user_high = $1
		ORDER BY last_activity_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresConversationRepository) ListIDsForUser(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM conversations WHERE user_low = $1 OR user_high = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *PostgresConversationRepository) IsParticipant(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND (user_low = $2 OR user_high = $2))`,
		id, userID).Scan(&ok)
	return ok, err
}
