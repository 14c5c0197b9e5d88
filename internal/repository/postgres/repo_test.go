package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/parley/internal/database"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/repository"
	"github.com/vedran77/parley/internal/repository/postgres"
)

// Runs against a disposable database named by PARLEY_TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PARLEY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, zerolog.Nop()))
	return pool
}

func newConversation(t *testing.T, repo *postgres.ConversationRepo) domain.Conversation {
	t.Helper()
	a, b := domain.CanonicalPair(uuid.New(), uuid.New())
	at := time.Now().UTC().Truncate(time.Microsecond)
	conv := domain.Conversation{ID: uuid.New(), ParticipantA: a, ParticipantB: b, CreatedAt: at, UpdatedAt: at}
	res, err := repo.Create(context.Background(), &conv)
	require.NoError(t, err)
	require.Equal(t, repository.Created, res)
	return conv
}

func newMessage(t *testing.T, repo *postgres.MessageRepo, conv domain.Conversation, at time.Time) domain.Message {
	t.Helper()
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       conv.ParticipantA,
		ReceiverID:     conv.ParticipantB,
		Content:        "hi",
		Status:         domain.StatusSent,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	require.NoError(t, repo.Create(context.Background(), &msg))
	return msg
}

func TestConversationRepo_PairUniqueness(t *testing.T) {
	req := require.New(t)
	pool := testPool(t)
	ctx := context.Background()
	repo := postgres.NewConversationRepo(pool)

	// Given a stored conversation
	conv := newConversation(t, repo)

	// When a second row for the same pair is inserted
	dup := conv
	dup.ID = uuid.New()
	res, err := repo.Create(ctx, &dup)

	// Then the insert reports the existing row instead of failing
	req.NoError(err)
	req.Equal(repository.AlreadyExists, res)

	found, err := repo.GetByParticipants(ctx, conv.ParticipantB, conv.ParticipantA)
	req.NoError(err)
	req.Equal(conv.ID, found.ID)

	missing, err := repo.GetByID(ctx, uuid.New())
	req.NoError(err)
	req.Nil(missing)
}

func TestMessageRepo_StatusUpdates(t *testing.T) {
	req := require.New(t)
	pool := testPool(t)
	ctx := context.Background()
	convRepo := postgres.NewConversationRepo(pool)
	msgRepo := postgres.NewMessageRepo(pool)

	conv := newConversation(t, convRepo)
	at := time.Now().UTC().Truncate(time.Microsecond)
	m1 := newMessage(t, msgRepo, conv, at)
	m2 := newMessage(t, msgRepo, conv, at.Add(time.Millisecond))

	// Compare-and-set only succeeds from the expected status
	ok, err := msgRepo.CompareAndSetStatus(ctx, m2.ID, domain.StatusSent, domain.StatusDelivered, at)
	req.NoError(err)
	req.True(ok)
	ok, err = msgRepo.CompareAndSetStatus(ctx, m2.ID, domain.StatusSent, domain.StatusDelivered, at)
	req.NoError(err)
	req.False(ok)

	// Batch advance skips messages not at the source status and foreign receivers
	changed, err := msgRepo.AdvanceStatus(ctx, conv.ParticipantB, []uuid.UUID{m1.ID, m2.ID, m1.ID}, domain.StatusSent, domain.StatusDelivered, at)
	req.NoError(err)
	req.Equal([]uuid.UUID{m1.ID}, changed)

	changed, err = msgRepo.AdvanceStatus(ctx, conv.ParticipantA, []uuid.UUID{m1.ID}, domain.StatusDelivered, domain.StatusRead, at)
	req.NoError(err)
	req.Empty(changed)

	n, err := msgRepo.CountUnreadInConversation(ctx, conv.ID, conv.ParticipantB)
	req.NoError(err)
	req.EqualValues(2, n)

	// Reading the conversation flips everything addressed to the reader
	changed, err = msgRepo.MarkConversationRead(ctx, conv.ID, conv.ParticipantB, at)
	req.NoError(err)
	req.ElementsMatch([]uuid.UUID{m1.ID, m2.ID}, changed)

	n, err = msgRepo.CountUnreadForUser(ctx, conv.ParticipantB)
	req.NoError(err)
	req.Zero(n)
}

func TestMessageRepo_PagingAndDelete(t *testing.T) {
	req := require.New(t)
	pool := testPool(t)
	ctx := context.Background()
	convRepo := postgres.NewConversationRepo(pool)
	msgRepo := postgres.NewMessageRepo(pool)

	conv := newConversation(t, convRepo)
	at := time.Now().UTC().Truncate(time.Microsecond)
	var ids []uuid.UUID
	for i := range 5 {
		ids = append(ids, newMessage(t, msgRepo, conv, at.Add(time.Duration(i)*time.Millisecond)).ID)
	}

	// Newest first, then paging backwards from a cursor
	recent, err := msgRepo.ListRecent(ctx, conv.ID, 2)
	req.NoError(err)
	req.Equal([]uuid.UUID{ids[4], ids[3]}, []uuid.UUID{recent[0].ID, recent[1].ID})

	older, err := msgRepo.ListBefore(ctx, conv.ID, &ids[3], 10)
	req.NoError(err)
	req.Len(older, 3)
	req.Equal(ids[2], older[0].ID)

	// A cursor from another conversation matches nothing
	other := newConversation(t, convRepo)
	foreign := newMessage(t, msgRepo, other, at)
	none, err := msgRepo.ListBefore(ctx, conv.ID, &foreign.ID, 10)
	req.NoError(err)
	req.Empty(none)

	// Editing a deleted message reports that nothing changed
	req.NoError(msgRepo.Delete(ctx, foreign.ID))
	foreign.Content = "edited"
	ok, err := msgRepo.UpdateContent(ctx, &foreign)
	req.NoError(err)
	req.False(ok)

	// Sending bumps the conversation
	stored, err := convRepo.GetByID(ctx, conv.ID)
	req.NoError(err)
	req.WithinDuration(at.Add(4*time.Millisecond), stored.UpdatedAt, 0)

	deleted, err := msgRepo.DeleteByConversation(ctx, conv.ID)
	req.NoError(err)
	req.ElementsMatch(ids, deleted)
	req.NoError(convRepo.Delete(ctx, conv.ID))

	gone, err := convRepo.GetByID(ctx, conv.ID)
	req.NoError(err)
	req.Nil(gone)
}
