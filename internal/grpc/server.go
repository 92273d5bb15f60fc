package grpc

import (
	"context"
	"errors"
	"strconv"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/repository"
	"metachat/chat-relay/internal/service"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	pb "github.com/kegazani/metachat-proto/chat"
)

// MessagePublisher pushes messages stored through this API to live connections.
type MessagePublisher interface {
	PublishMessage(chat *models.Chat, msg *models.Message) error
}

type ChatServer struct {
	pb.UnimplementedChatServiceServer
	service   service.ChatService
	publisher MessagePublisher
	logger    *logrus.Logger
}

func NewChatServer(svc service.ChatService, publisher MessagePublisher, logger *logrus.Logger) *ChatServer {
	return &ChatServer{
		service:   svc,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *ChatServer) CreateChat(ctx context.Context, req *pb.CreateChatRequest) (*pb.CreateChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id1": req.UserId1,
		"user_id2": req.UserId2,
	}).Info("Creating chat via gRPC")

	userID1, err := parseID("user_id1", req.UserId1)
	if err != nil {
		return nil, err
	}
	userID2, err := parseID("user_id2", req.UserId2)
	if err != nil {
		return nil, err
	}

	chat, err := s.service.CreateChat(ctx, userID1, userID2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, toStatus(err, "failed to create chat")
	}

	return &pb.CreateChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetChat(ctx context.Context, req *pb.GetChatRequest) (*pb.GetChatResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Info("Getting chat via gRPC")

	chatID, err := parseID("chat_id", req.ChatId)
	if err != nil {
		return nil, err
	}

	chat, err := s.service.GetChat(ctx, chatID)
	if err != nil {
		return nil, toStatus(err, "failed to get chat")
	}

	return &pb.GetChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetUserChats(ctx context.Context, req *pb.GetUserChatsRequest) (*pb.GetUserChatsResponse, error) {
	s.logger.WithField("user_id", req.UserId).Info("Getting user chats via gRPC")

	userID, err := parseID("user_id", req.UserId)
	if err != nil {
		return nil, err
	}

	chats, err := s.service.GetUserChats(ctx, userID)
	if err != nil {
		return nil, toStatus(err, "failed to get user chats")
	}

	return &pb.GetUserChatsResponse{
		Chats: lo.Map(chats, func(c *models.Chat, _ int) *pb.Chat { return chatToProto(c) }),
	}, nil
}

// SendMessage stores the message and relays it to connected clients like a
// websocket send would, minus the sender acknowledgement.
func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatId,
		"sender_id": req.SenderId,
	}).Info("Sending message via gRPC")

	chatID, err := parseID("chat_id", req.ChatId)
	if err != nil {
		return nil, err
	}
	senderID, err := parseID("sender_id", req.SenderId)
	if err != nil {
		return nil, err
	}

	msg, err := s.service.SendMessage(ctx, chatID, senderID, req.Content)
	if err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, toStatus(err, "failed to send message")
	}

	if s.publisher != nil {
		if chat, err := s.service.GetChat(ctx, chatID); err == nil {
			if err := s.publisher.PublishMessage(chat, msg); err != nil {
				s.logger.WithError(err).Warn("Failed to relay message")
			}
		}
	}

	return &pb.SendMessageResponse{
		Message: messageToProto(msg),
	}, nil
}

func (s *ChatServer) GetChatMessages(ctx context.Context, req *pb.GetChatMessagesRequest) (*pb.GetChatMessagesResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Info("Getting chat messages via gRPC")

	chatID, err := parseID("chat_id", req.ChatId)
	if err != nil {
		return nil, err
	}

	var beforeID int64
	if req.BeforeMessageId != "" {
		beforeID, err = parseID("before_message_id", req.BeforeMessageId)
		if err != nil {
			return nil, err
		}
	}

	messages, _, err := s.service.GetChatMessages(ctx, chatID, repository.MessageQuery{
		Limit:    int(req.Limit),
		BeforeID: beforeID,
	})
	if err != nil {
		return nil, toStatus(err, "failed to get chat messages")
	}

	return &pb.GetChatMessagesResponse{
		Messages: lo.Map(messages, func(m *models.Message, _ int) *pb.Message { return messageToProto(m) }),
	}, nil
}

func (s *ChatServer) MarkMessagesAsRead(ctx context.Context, req *pb.MarkMessagesAsReadRequest) (*pb.MarkMessagesAsReadResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id": req.ChatId,
		"user_id": req.UserId,
	}).Info("Marking messages as read via gRPC")

	chatID, err := parseID("chat_id", req.ChatId)
	if err != nil {
		return nil, err
	}
	userID, err := parseID("user_id", req.UserId)
	if err != nil {
		return nil, err
	}

	count, err := s.service.MarkMessagesAsRead(ctx, chatID, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return nil, toStatus(err, "failed to mark messages as read")
	}

	return &pb.MarkMessagesAsReadResponse{
		MarkedCount: int32(count),
	}, nil
}

func parseID(field, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", field, value)
	}
	return id, nil
}

func toStatus(err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		return status.Error(codes.NotFound, "chat not found")
	case errors.Is(err, service.ErrUserNotFound):
		return status.Error(codes.NotFound, "one or both users do not exist")
	case errors.Is(err, service.ErrNotParticipant):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrSelfChat):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Errorf(codes.Internal, "%s: %v", fallback, err)
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func chatToProto(chat *models.Chat) *pb.Chat {
	return &pb.Chat{
		Id:        formatID(chat.ID),
		UserId1:   formatID(chat.UserID1),
		UserId2:   formatID(chat.UserID2),
		CreatedAt: timestamppb.New(chat.CreatedAt),
		UpdatedAt: timestamppb.New(chat.UpdatedAt),
	}
}

func messageToProto(msg *models.Message) *pb.Message {
	protoMsg := &pb.Message{
		Id:        formatID(msg.ID),
		ChatId:    formatID(msg.ChatID),
		SenderId:  formatID(msg.SenderID),
		Content:   msg.Content,
		CreatedAt: timestamppb.New(msg.CreatedAt),
	}

	if msg.ReadAt != nil {
		protoMsg.ReadAt = timestamppb.New(*msg.ReadAt)
	}

	return protoMsg
}
