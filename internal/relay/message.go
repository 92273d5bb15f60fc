package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/service"
)

const (
	msgUnauthenticated = "You must be identified to send messages"
	msgChatNotFound    = "Chat not found"
	msgNotParticipant  = "You are not a participant in this chat"
	msgInvalidMessage  = "Invalid message payload"
	msgSendFailed      = "Failed to send message"
	msgJoinFailed      = "Failed to join"
)

// MessageRelay validates, persists and fans out chat messages.
type MessageRelay struct {
	hub              *Hub
	registry         *Registry
	directory        ChatDirectory
	logger           *logrus.Logger
	validate         *validator.Validate
	maxContentLength int
}

func NewMessageRelay(hub *Hub, registry *Registry, directory ChatDirectory, logger *logrus.Logger, maxContentLength int) *MessageRelay {
	return &MessageRelay{
		hub:              hub,
		registry:         registry,
		directory:        directory,
		logger:           logger,
		validate:         validator.New(),
		maxContentLength: maxContentLength,
	}
}

type sendRequest struct {
	ChatID  int64  `validate:"gt=0"`
	Content string `validate:"required"`
}

// Send handles message:send for conn. Failures are reported to conn as an
// error event and returned. The chat is resolved before anything is stored.
func (m *MessageRelay) Send(ctx context.Context, conn Connection, chatID int64, content string) error {
	senderID, ok := m.registry.Lookup(conn.ID())
	if !ok {
		m.replyError(conn, msgUnauthenticated)
		return ErrUnauthenticated
	}

	if err := m.validateRequest(chatID, content); err != nil {
		m.replyError(conn, msgInvalidMessage)
		return err
	}

	log := m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"sender_id":     senderID,
		"chat_id":       chatID,
	})

	chat, err := m.directory.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			m.replyError(conn, msgChatNotFound)
			return err
		}
		log.WithError(err).Error("Failed to resolve chat")
		m.replyError(conn, msgSendFailed)
		return err
	}

	if !chat.HasParticipant(senderID) {
		m.replyError(conn, msgNotParticipant)
		return service.ErrNotParticipant
	}

	msg, err := m.directory.CreateMessage(ctx, chatID, senderID, content)
	if err != nil {
		log.WithError(err).Error("Failed to persist message")
		m.replyError(conn, msgSendFailed)
		return err
	}

	m.fanOut(conn, chat, msg)
	return nil
}

// Deliver pushes an already stored message to the recipient's channel and the
// chat channel. It serves messages that did not arrive over a connection.
func (m *MessageRelay) Deliver(chat *models.Chat, msg *models.Message) {
	m.fanOut(nil, chat, msg)
}

func (m *MessageRelay) fanOut(origin Connection, chat *models.Chat, msg *models.Message) {
	recipientID := chat.OtherParticipant(msg.SenderID)

	if frame, err := encodeFrame(EventNewMessage, msg); err == nil {
		m.hub.Publish(UserChannel(recipientID), frame)
	}

	if origin != nil {
		if frame, err := encodeFrame(EventMessageSent, msg); err == nil {
			m.sendTo(origin, frame)
		}
	}

	update := ChatUpdated{ChatID: chat.ID, LastMessage: msg}
	if frame, err := encodeFrame(EventChatUpdated, update); err == nil {
		m.hub.Publish(ChatChannel(chat.ID), frame)
	}

	m.logger.WithFields(logrus.Fields{
		"message_id":   msg.ID,
		"chat_id":      chat.ID,
		"recipient_id": recipientID,
	}).Debug("Message relayed")
}

func (m *MessageRelay) validateRequest(chatID int64, content string) error {
	req := sendRequest{ChatID: chatID, Content: strings.TrimSpace(content)}
	if err := m.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.maxContentLength > 0 && utf8.RuneCountInString(content) > m.maxContentLength {
		return fmt.Errorf("%w: content longer than %d characters", ErrInvalidMessage, m.maxContentLength)
	}
	return nil
}

func (m *MessageRelay) replyError(conn Connection, message string) {
	frame, err := encodeFrame(EventError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	m.sendTo(conn, frame)
}

func (m *MessageRelay) sendTo(conn Connection, frame []byte) {
	if err := conn.Send(frame); err != nil {
		m.logger.WithError(err).WithField("connection_id", conn.ID()).Warn("Dropped direct delivery")
	}
}
