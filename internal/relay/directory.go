package relay

import (
	"context"

	"metachat/chat-relay/internal/models"
)

// ChatDirectory is the read side of chat storage plus message creation, which
// the relay needs to route events. GetChat must return service.ErrChatNotFound
// for unknown chats.
type ChatDirectory interface {
	GetUserChats(ctx context.Context, userID int64) ([]*models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	CreateMessage(ctx context.Context, chatID, senderID int64, content string) (*models.Message, error)
}
