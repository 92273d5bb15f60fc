package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

var (
	ErrChatNotFound   = repository.ErrChatNotFound
	ErrUserNotFound   = repository.ErrUserNotFound
	ErrNotParticipant = errors.New("user is not a participant in this chat")
	ErrSelfChat       = errors.New("cannot create chat with yourself")
)

type ChatService interface {
	CreateChat(ctx context.Context, userID1, userID2 int64) (*models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	GetUserChats(ctx context.Context, userID int64) ([]*models.Chat, error)
	GetUserChatSummaries(ctx context.Context, userID int64) ([]*models.ChatSummary, error)
	CreateMessage(ctx context.Context, chatID, senderID int64, content string) (*models.Message, error)
	SendMessage(ctx context.Context, chatID, senderID int64, content string) (*models.Message, error)
	GetChatMessages(ctx context.Context, chatID int64, q repository.MessageQuery) ([]*models.Message, int, error)
	MarkMessagesAsRead(ctx context.Context, chatID, userID int64) (int, error)
}

type chatService struct {
	repository repository.ChatRepository
	users      repository.UserRepository
	logger     *logrus.Logger
}

func NewChatService(repo repository.ChatRepository, users repository.UserRepository, logger *logrus.Logger) ChatService {
	return &chatService{
		repository: repo,
		users:      users,
		logger:     logger,
	}
}

// CreateChat returns the chat between the two users, creating it on first use.
// The pair is unordered: (5, 3) and (3, 5) resolve to the same chat stored as (3, 5).
func (s *chatService) CreateChat(ctx context.Context, userID1, userID2 int64) (*models.Chat, error) {
	if userID1 == userID2 {
		return nil, ErrSelfChat
	}
	userID1, userID2 = models.OrderedPair(userID1, userID2)

	count, err := s.users.CountExisting(ctx, userID1, userID2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to check chat participants")
		return nil, err
	}
	if count != 2 {
		return nil, ErrUserNotFound
	}

	existingChat, err := s.repository.GetChatByUsers(ctx, userID1, userID2)
	if err == nil && existingChat != nil {
		return existingChat, nil
	}
	if err != nil && !errors.Is(err, repository.ErrChatNotFound) {
		s.logger.WithError(err).Error("Failed to look up chat")
		return nil, err
	}

	chat := &models.Chat{
		UserID1: userID1,
		UserID2: userID2,
	}

	err = s.repository.CreateChat(ctx, chat)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":  chat.ID,
		"user_id1": userID1,
		"user_id2": userID2,
	}).Info("Chat created")

	return chat, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	chat, err := s.repository.GetChatByID(ctx, chatID)
	if err != nil {
		if !errors.Is(err, ErrChatNotFound) {
			s.logger.WithError(err).Error("Failed to get chat")
		}
		return nil, err
	}

	return chat, nil
}

func (s *chatService) GetUserChats(ctx context.Context, userID int64) ([]*models.Chat, error) {
	chats, err := s.repository.GetUserChats(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, err
	}

	return chats, nil
}

func (s *chatService) GetUserChatSummaries(ctx context.Context, userID int64) ([]*models.ChatSummary, error) {
	summaries, err := s.repository.GetUserChatSummaries(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chat summaries")
		return nil, err
	}

	return summaries, nil
}

// CreateMessage persists a message without checking the chat. Callers that
// have not resolved the chat themselves should use SendMessage.
func (s *chatService) CreateMessage(ctx context.Context, chatID, senderID int64, content string) (*models.Message, error) {
	msg := &models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	}

	err := s.repository.CreateMessage(ctx, msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to store message")
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"chat_id":    chatID,
		"sender_id":  senderID,
	}).Info("Message stored")

	return msg, nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID, senderID int64, content string) (*models.Message, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if !chat.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	return s.CreateMessage(ctx, chatID, senderID, content)
}

// GetChatMessages returns a page of history in creation order together with
// the chat's total message count.
func (s *chatService) GetChatMessages(ctx context.Context, chatID int64, q repository.MessageQuery) ([]*models.Message, int, error) {
	if q.Limit <= 0 {
		q.Limit = defaultMessageLimit
	}
	if q.Limit > maxMessageLimit {
		q.Limit = maxMessageLimit
	}
	if q.Skip < 0 {
		q.Skip = 0
	}

	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, 0, err
	}

	messages, err := s.repository.GetChatMessages(ctx, chatID, q)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, 0, err
	}

	total, err := s.repository.CountChatMessages(ctx, chatID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count chat messages")
		return nil, 0, err
	}

	SortChronologically(messages)

	return messages, total, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, chatID, userID int64) (int, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	if !chat.HasParticipant(userID) {
		return 0, ErrNotParticipant
	}

	count, err := s.repository.MarkMessagesAsRead(ctx, chatID, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, err
	}

	return count, nil
}

// SortChronologically orders messages by creation time, breaking ties by id.
func SortChronologically(messages []*models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
