package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/relay"
	"metachat/chat-relay/internal/repository"
	"metachat/chat-relay/internal/service"
	"metachat/chat-relay/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	ctx        context.Context
	relay      *relay.Relay
	chats      service.ChatService
	users      service.UserService
	logger     *logrus.Logger
	sendBuffer int
}

// NewServer wires the HTTP handlers. ctx bounds the lifetime of websocket
// sessions: cancelling it closes every open connection.
func NewServer(ctx context.Context, r *relay.Relay, chats service.ChatService, users service.UserService, logger *logrus.Logger, sendBuffer int) *Server {
	return &Server{
		ctx:        ctx,
		relay:      r,
		chats:      chats,
		users:      users,
		logger:     logger,
		sendBuffer: sendBuffer,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.health)
	router.GET("/stats", s.stats)
	router.GET("/ws", s.serveWS)

	api := router.Group("/api")
	{
		api.GET("/users", s.listUsers)
		api.POST("/users", s.createUser)
		api.GET("/users/:id", s.getUser)
		api.GET("/users/:id/chats", s.getUserChats)

		api.GET("/chats/user/:id", s.getUserChats)
		api.POST("/chats", s.createChat)
		api.GET("/chats/:id", s.getChat)
		api.GET("/chats/:id/messages", s.getChatMessages)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("HTTP request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Stats())
}

func (s *Server) serveWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	websocket.NewConn(ws, s.relay, s.logger, s.sendBuffer).Serve(s.ctx)
}

type createUserRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	DisplayName string `json:"displayName" binding:"required,max=64"`
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.CreateUser(c.Request.Context(), req.Username, req.DisplayName)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) getUserChats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	summaries, err := s.chats.GetUserChatSummaries(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if summaries == nil {
		summaries = []*models.ChatSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

type createChatRequest struct {
	User1ID relay.ID `json:"user1Id" binding:"required"`
	User2ID relay.ID `json:"user2Id" binding:"required"`
}

func (s *Server) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := s.chats.CreateChat(c.Request.Context(), int64(req.User1ID), int64(req.User2ID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (s *Server) getChat(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	chat, err := s.chats.GetChat(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) getChatMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
		return
	}

	messages, total, err := s.chats.GetChatMessages(c.Request.Context(), id, repository.MessageQuery{
		Limit: limit,
		Skip:  skip,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "totalCount": total})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, service.ErrSelfChat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicateUsername):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
