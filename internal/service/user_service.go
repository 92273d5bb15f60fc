package service

import (
	"context"
	"errors"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/repository"

	"github.com/sirupsen/logrus"
)

type UserService interface {
	CreateUser(ctx context.Context, username, displayName string) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

type userService struct {
	repository repository.UserRepository
	logger     *logrus.Logger
}

func NewUserService(repo repository.UserRepository, logger *logrus.Logger) UserService {
	return &userService{
		repository: repo,
		logger:     logger,
	}
}

func (s *userService) CreateUser(ctx context.Context, username, displayName string) (*models.User, error) {
	user := &models.User{
		Username:    username,
		DisplayName: displayName,
	}

	if err := s.repository.CreateUser(ctx, user); err != nil {
		s.logger.WithError(err).Error("Failed to create user")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": username,
	}).Info("User created")

	return user, nil
}

func (s *userService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repository.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logger.WithError(err).Error("Failed to get user")
		}
		return nil, err
	}

	return user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.repository.ListUsers(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list users")
		return nil, err
	}

	return users, nil
}
