package service

import (
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// shuffledRepository returns history in random order to prove the service
// sorts it.
type shuffledRepository struct {
	repository.ChatRepository
	rnd *rand.Rand
}

func (r *shuffledRepository) GetChatMessages(ctx context.Context, chatID int64, q repository.MessageQuery) ([]*models.Message, error) {
	messages, err := r.ChatRepository.GetChatMessages(ctx, chatID, q)
	if err != nil {
		return nil, err
	}
	r.rnd.Shuffle(len(messages), func(i, j int) { messages[i], messages[j] = messages[j], messages[i] })
	return messages, nil
}

func setup(t *testing.T, usernames ...string) (ChatService, *repository.MemoryStore, []*models.User) {
	t.Helper()
	store := repository.NewMemoryStore()
	users := make([]*models.User, 0, len(usernames))
	for _, name := range usernames {
		u := &models.User{Username: name, DisplayName: name}
		require.NoError(t, store.CreateUser(context.Background(), u))
		users = append(users, u)
	}
	return NewChatService(store, store, testLogger()), store, users
}

func TestChatService_CreateChatIsOrderIndependent(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.CreateUser(ctx, &models.User{Username: string(rune('a' + i))}))
	}
	svc := NewChatService(store, store, testLogger())

	first, err := svc.CreateChat(ctx, 5, 3)
	require.NoError(t, err)
	second, err := svc.CreateChat(ctx, 3, 5)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(3), first.UserID1)
	assert.Equal(t, int64(5), first.UserID2)

	stored, err := store.GetChatByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.UserID1)
	assert.Equal(t, int64(5), stored.UserID2)
}

func TestChatService_CreateChatErrors(t *testing.T) {
	svc, _, users := setup(t, "alice", "bob")
	ctx := context.Background()

	_, err := svc.CreateChat(ctx, users[0].ID, users[0].ID)
	assert.ErrorIs(t, err, ErrSelfChat)

	_, err = svc.CreateChat(ctx, users[0].ID, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChatService_SendMessageVerifiesBeforePersisting(t *testing.T) {
	svc, store, users := setup(t, "alice", "bob", "carol")
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 404, users[0].ID, "hi")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = svc.SendMessage(ctx, chat.ID, users[2].ID, "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)

	count, err := store.CountChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	msg, err := svc.SendMessage(ctx, chat.ID, users[1].ID, "hello")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "bob", msg.Sender.Username)
}

func TestChatService_HistoryIsChronological(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	alice := &models.User{Username: "alice"}
	bob := &models.User{Username: "bob"}
	require.NoError(t, store.CreateUser(ctx, alice))
	require.NoError(t, store.CreateUser(ctx, bob))

	svc := NewChatService(&shuffledRepository{ChatRepository: store, rnd: rand.New(rand.NewSource(1))}, store, testLogger())

	chat, err := svc.CreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	const sends = 20
	for i := 0; i < sends; i++ {
		sender := alice.ID
		if i%3 == 0 {
			sender = bob.ID
		}
		_, err := svc.SendMessage(ctx, chat.ID, sender, "message")
		require.NoError(t, err)
	}

	messages, total, err := svc.GetChatMessages(ctx, chat.ID, repository.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, sends, total)
	require.Len(t, messages, sends)
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt), "message %d out of order", i)
	}
}

func TestChatService_GetChatMessagesClampsLimit(t *testing.T) {
	svc, _, users := setup(t, "alice", "bob")
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	for i := 0; i < maxMessageLimit+5; i++ {
		_, err := svc.SendMessage(ctx, chat.ID, users[0].ID, "x")
		require.NoError(t, err)
	}

	messages, _, err := svc.GetChatMessages(ctx, chat.ID, repository.MessageQuery{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, messages, maxMessageLimit)

	messages, _, err = svc.GetChatMessages(ctx, chat.ID, repository.MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, messages, defaultMessageLimit)

	_, _, err = svc.GetChatMessages(ctx, 404, repository.MessageQuery{})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestChatService_MarkMessagesAsRead(t *testing.T) {
	svc, _, users := setup(t, "alice", "bob", "carol")
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, chat.ID, users[0].ID, "one")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, chat.ID, users[0].ID, "two")
	require.NoError(t, err)

	_, err = svc.MarkMessagesAsRead(ctx, chat.ID, users[2].ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	count, err := svc.MarkMessagesAsRead(ctx, chat.ID, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSortChronologically(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	messages := []*models.Message{
		{ID: 3, CreatedAt: base.Add(time.Minute)},
		{ID: 2, CreatedAt: base},
		{ID: 1, CreatedAt: base},
		{ID: 4, CreatedAt: base.Add(-time.Minute)},
	}

	SortChronologically(messages)

	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{4, 1, 2, 3}, ids)
}
