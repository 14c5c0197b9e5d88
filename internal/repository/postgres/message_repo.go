package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/vedran77/parley/internal/domain"
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, image_url,
	status, created_at, updated_at, edited_at`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, image_url,
				status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, query,
			msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.ImageURL,
			string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE conversations SET updated_at = $1 WHERE id = $2 AND updated_at < $1`,
			msg.CreatedAt, msg.ConversationID,
		)
		return err
	})
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (r *MessageRepo) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.queryMessages(ctx, query, conversationID, limit)
}

func (r *MessageRepo) ListBefore(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	if before == nil {
		return r.ListRecent(ctx, conversationID, limit)
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
			AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2 AND conversation_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	return r.queryMessages(ctx, query, conversationID, *before, limit)
}

func (r *MessageRepo) UpdateContent(ctx context.Context, msg *domain.Message) (bool, error) {
	query := `UPDATE messages SET content = $1, image_url = $2, edited_at = $3, updated_at = $3 WHERE id = $4`
	tag, err := r.pool.Exec(ctx, query, msg.Content, msg.ImageURL, msg.UpdatedAt, msg.ID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (r *MessageRepo) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `DELETE FROM messages WHERE conversation_id = $1 RETURNING id`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *MessageRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.MessageStatus, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MessageRepo) AdvanceStatus(ctx context.Context, receiverID uuid.UUID, ids []uuid.UUID, from, to domain.MessageStatus, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		UPDATE messages SET status = $1, updated_at = $2
		WHERE receiver_id = $3 AND id = ANY($4::uuid[]) AND status = $5
		RETURNING id`
	rows, err := r.pool.Query(ctx, query, string(to), at, receiverID, uuidStrings(ids), string(from))
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, receiverID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE messages SET status = $1, updated_at = $2
		WHERE conversation_id = $3 AND receiver_id = $4 AND status <> $1
		RETURNING id`
	rows, err := r.pool.Query(ctx, query, string(domain.StatusRead), at, conversationID, receiverID)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (r *MessageRepo) CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND status <> $2`,
		userID, string(domain.StatusRead),
	).Scan(&n)
	return n, err
}

func (r *MessageRepo) CountUnreadInConversation(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND receiver_id = $2 AND status <> $3`,
		conversationID, userID, string(domain.StatusRead),
	).Scan(&n)
	return n, err
}

func (r *MessageRepo) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var status string
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.ImageURL,
		&status, &msg.CreatedAt, &msg.UpdatedAt, &msg.EditedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Status = domain.MessageStatus(status)
	return &msg, nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	return lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })
}
