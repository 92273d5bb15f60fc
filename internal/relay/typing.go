package relay

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"metachat/chat-relay/internal/service"
)

// TypingRelay forwards typing:start and typing:stop to the other chat member.
// Every failure is a silent no-op for the sender.
type TypingRelay struct {
	hub       *Hub
	registry  *Registry
	directory ChatDirectory
	logger    *logrus.Logger
}

func NewTypingRelay(hub *Hub, registry *Registry, directory ChatDirectory, logger *logrus.Logger) *TypingRelay {
	return &TypingRelay{
		hub:       hub,
		registry:  registry,
		directory: directory,
		logger:    logger,
	}
}

// Forward relays event (EventTypingStart or EventTypingStop) for chatID and
// reports whether a signal was published.
func (t *TypingRelay) Forward(ctx context.Context, conn Connection, event string, chatID int64) bool {
	userID, ok := t.registry.Lookup(conn.ID())
	if !ok {
		return false
	}

	chat, err := t.directory.GetChat(ctx, chatID)
	if err != nil {
		if !errors.Is(err, service.ErrChatNotFound) {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"event":   event,
				"chat_id": chatID,
			}).Error("Failed to resolve chat for typing signal")
		}
		return false
	}

	if !chat.HasParticipant(userID) {
		return false
	}

	frame, err := encodeFrame(event, TypingSignal{ChatID: chatID, UserID: userID})
	if err != nil {
		return false
	}

	t.hub.Publish(UserChannel(chat.OtherParticipant(userID)), frame)
	return true
}
