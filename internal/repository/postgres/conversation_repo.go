package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository"
)

const uniqueViolation = "23505"

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) (repository.CreateResult, error) {
	query := `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query,
		conv.ID, conv.ParticipantA, conv.ParticipantB, conv.CreatedAt, conv.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.AlreadyExists, nil
	}
	if err != nil {
		return repository.Created, err
	}
	return repository.Created, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, created_at, updated_at
		FROM conversations
		WHERE id = $1`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &conv, err
}

func (r *ConversationRepo) GetByParticipants(ctx context.Context, participantA, participantB uuid.UUID) (*domain.Conversation, error) {
	a, b := domain.CanonicalPair(participantA, participantB)
	query := `
		SELECT id, participant_a, participant_b, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2`
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, a, b).Scan(
		&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &conv, err
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
