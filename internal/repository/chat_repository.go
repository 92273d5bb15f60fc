package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"metachat/chat-relay/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrUserNotFound = errors.New("user not found")
)

// MessageQuery selects a window of a chat's history. BeforeID and Skip are optional.
type MessageQuery struct {
	Limit    int
	Skip     int
	BeforeID int64
}

type ChatRepository interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChatByID(ctx context.Context, id int64) (*models.Chat, error)
	GetChatByUsers(ctx context.Context, userID1, userID2 int64) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID int64) ([]*models.Chat, error)
	GetUserChatSummaries(ctx context.Context, userID int64) ([]*models.ChatSummary, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetChatMessages(ctx context.Context, chatID int64, q MessageQuery) ([]*models.Message, error)
	CountChatMessages(ctx context.Context, chatID int64) (int, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID int64) (int, error)
	InitializeTables() error
}

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS chats (
		id BIGSERIAL PRIMARY KEY,
		user_id1 BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user_id2 BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_id1, user_id2),
		CHECK (user_id1 < user_id2)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		read_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_chats_user1 ON chats(user_id1);
	CREATE INDEX IF NOT EXISTS idx_chats_user2 ON chats(user_id2);
	`

	_, err := r.db.Exec(query)
	return err
}

// CreateChat inserts the pair or, when it already exists, returns the stored row.
// The caller must pass the pair in canonical order.
func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	query := `
	INSERT INTO chats (user_id1, user_id2)
	VALUES ($1, $2)
	ON CONFLICT (user_id1, user_id2) DO UPDATE SET updated_at = chats.updated_at
	RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, chat.UserID1, chat.UserID2).
		Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	return nil
}

func (r *chatRepository) GetChatByID(ctx context.Context, id int64) (*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE id = $1
	`

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	return &chat, nil
}

func (r *chatRepository) GetChatByUsers(ctx context.Context, userID1, userID2 int64) (*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE user_id1 = $1 AND user_id2 = $2
	`

	userID1, userID2 = models.OrderedPair(userID1, userID2)

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, query, userID1, userID2).Scan(
		&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	return &chat, nil
}

func (r *chatRepository) GetUserChats(ctx context.Context, userID int64) ([]*models.Chat, error) {
	query := `
	SELECT id, user_id1, user_id2, created_at, updated_at
	FROM chats
	WHERE user_id1 = $1 OR user_id2 = $1
	ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		err := rows.Scan(
			&chat.ID, &chat.UserID1, &chat.UserID2, &chat.CreatedAt, &chat.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		chats = append(chats, &chat)
	}

	return chats, rows.Err()
}

// GetUserChatSummaries lists the user's chats with the other member's profile,
// the latest message and the number of unread messages addressed to the user.
func (r *chatRepository) GetUserChatSummaries(ctx context.Context, userID int64) ([]*models.ChatSummary, error) {
	query := `
	SELECT c.id, c.created_at, c.updated_at,
		u.id, u.username, u.display_name,
		m.id, m.sender_id, m.content, m.created_at,
		(SELECT COUNT(*) FROM messages um
			WHERE um.chat_id = c.id AND um.sender_id <> $1 AND um.read_at IS NULL)
	FROM chats c
	JOIN users u ON u.id = CASE WHEN c.user_id1 = $1 THEN c.user_id2 ELSE c.user_id1 END
	LEFT JOIN LATERAL (
		SELECT id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = c.id
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) m ON TRUE
	WHERE c.user_id1 = $1 OR c.user_id2 = $1
	ORDER BY c.updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.ChatSummary
	for rows.Next() {
		var (
			s         models.ChatSummary
			msgID     sql.NullInt64
			senderID  sql.NullInt64
			content   sql.NullString
			createdAt sql.NullTime
		)
		err := rows.Scan(
			&s.ID, &s.CreatedAt, &s.UpdatedAt,
			&s.OtherUser.ID, &s.OtherUser.Username, &s.OtherUser.DisplayName,
			&msgID, &senderID, &content, &createdAt,
			&s.UnreadCount,
		)
		if err != nil {
			return nil, err
		}
		if msgID.Valid {
			s.LatestMessage = &models.Message{
				ID:        msgID.Int64,
				ChatID:    s.ID,
				SenderID:  senderID.Int64,
				Content:   content.String,
				CreatedAt: createdAt.Time,
			}
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// CreateMessage stores msg, fills its id, timestamp and sender profile, and
// bumps the chat's updated_at in the same transaction.
func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	WITH inserted AS (
		INSERT INTO messages (chat_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, sender_id, created_at
	)
	SELECT i.id, i.created_at, u.id, u.username, u.display_name
	FROM inserted i
	JOIN users u ON u.id = i.sender_id
	`

	var sender models.UserProfile
	err = tx.QueryRowContext(ctx, query, msg.ChatID, msg.SenderID, msg.Content).
		Scan(&msg.ID, &msg.CreatedAt, &sender.ID, &sender.Username, &sender.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	msg.Sender = &sender

	updateChatQuery := `UPDATE chats SET updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateChatQuery, msg.ChatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	return tx.Commit()
}

// GetChatMessages returns the newest window of messages selected by q, oldest first.
func (r *chatRepository) GetChatMessages(ctx context.Context, chatID int64, q MessageQuery) ([]*models.Message, error) {
	var b strings.Builder
	args := []interface{}{chatID}

	b.WriteString(`
	SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at, m.read_at,
		u.id, u.username, u.display_name
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	WHERE m.chat_id = $1`)
	if q.BeforeID > 0 {
		args = append(args, q.BeforeID)
		fmt.Fprintf(&b, " AND m.id < $%d", len(args))
	}
	b.WriteString(" ORDER BY m.created_at DESC, m.id DESC")
	args = append(args, q.Limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	if q.Skip > 0 {
		args = append(args, q.Skip)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		var sender models.UserProfile
		var readAt sql.NullTime
		err := rows.Scan(
			&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &readAt,
			&sender.ID, &sender.Username, &sender.DisplayName,
		)
		if err != nil {
			return nil, err
		}
		if readAt.Valid {
			t := readAt.Time
			msg.ReadAt = &t
		}
		msg.Sender = &sender
		messages = append(messages, &msg)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (r *chatRepository) CountChatMessages(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&count)
	return count, err
}

func (r *chatRepository) MarkMessagesAsRead(ctx context.Context, chatID, userID int64) (int, error) {
	query := `
	UPDATE messages
	SET read_at = $3
	WHERE chat_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, chatID, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(count), nil
}
