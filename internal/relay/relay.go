package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/service"
)

type Options struct {
	// MaxContentLength caps message length in characters; zero disables the cap.
	MaxContentLength int
	// EventTimeout bounds each inbound event; zero means no deadline.
	EventTimeout time.Duration
}

// Relay routes inbound websocket events to the presence, message and typing
// relays and owns the connection lifecycle.
type Relay struct {
	hub       *Hub
	registry  *Registry
	directory ChatDirectory
	presence  *PresenceNotifier
	messages  *MessageRelay
	typing    *TypingRelay
	logger    *logrus.Logger
	opts      Options
}

func New(directory ChatDirectory, logger *logrus.Logger, opts Options) *Relay {
	hub := NewHub(logger)
	registry := NewRegistry(hub)

	return &Relay{
		hub:       hub,
		registry:  registry,
		directory: directory,
		presence:  NewPresenceNotifier(hub, directory, logger),
		messages:  NewMessageRelay(hub, registry, directory, logger, opts.MaxContentLength),
		typing:    NewTypingRelay(hub, registry, directory, logger),
		logger:    logger,
		opts:      opts,
	}
}

func (r *Relay) Registry() *Registry { return r.registry }
func (r *Relay) Hub() *Hub           { return r.hub }

// Connect is called once when the transport accepts conn.
func (r *Relay) Connect(conn Connection) {
	r.logger.WithField("connection_id", conn.ID()).Info("New connection")
}

// Disconnect forgets conn and drops its channel subscriptions. No offline
// announcement is sent.
func (r *Relay) Disconnect(conn Connection) {
	log := r.logger.WithField("connection_id", conn.ID())
	if userID, ok := r.registry.Lookup(conn.ID()); ok {
		log = log.WithField("user_id", userID)
	}

	r.registry.Forget(conn.ID())
	r.hub.UnsubscribeAll(conn)

	log.Info("Connection closed")
}

// Dispatch decodes one inbound frame and runs the matching handler. Panics and
// errors are contained here so one event cannot affect others.
func (r *Relay) Dispatch(ctx context.Context, conn Connection, raw []byte) {
	log := r.logger.WithField("connection_id", conn.ID())

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Recovered from panic while handling event")
		}
	}()

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.WithError(err).Warn("Invalid frame")
		return
	}
	log = log.WithField("event", frame.Event)

	if r.opts.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.EventTimeout)
		defer cancel()
	}

	switch frame.Event {
	case EventJoin:
		userID, err := ParseUserID(frame.Data)
		if err != nil {
			log.WithError(err).Warn("Invalid join payload")
			return
		}
		if err := r.Join(ctx, conn, userID); err != nil {
			log.WithError(err).Error("Error in join handler")
			r.messages.replyError(conn, msgJoinFailed)
		}

	case EventSend:
		if _, ok := r.registry.Lookup(conn.ID()); !ok {
			r.messages.replyError(conn, msgUnauthenticated)
			return
		}
		var payload SendPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			log.WithError(err).Warn("Invalid send payload")
			r.messages.replyError(conn, msgInvalidMessage)
			return
		}
		if err := r.messages.Send(ctx, conn, int64(payload.ChatID), payload.Content); err != nil {
			log.WithError(err).Debug("Message not sent")
		}

	case EventTypingStart, EventTypingStop:
		chatID, err := ParseChatID(frame.Data)
		if err != nil {
			log.WithError(err).Error("Invalid chatId in typing event")
			return
		}
		r.typing.Forward(ctx, conn, frame.Event, chatID)

	case EventChatSubscribe:
		chatID, err := ParseChatID(frame.Data)
		if err != nil {
			log.WithError(err).Warn("Invalid chatId in subscribe event")
			return
		}
		if err := r.SubscribeChat(ctx, conn, chatID); err != nil {
			log.WithError(err).Debug("Chat subscription refused")
		}

	case EventChatUnsubscribe:
		chatID, err := ParseChatID(frame.Data)
		if err != nil {
			log.WithError(err).Warn("Invalid chatId in unsubscribe event")
			return
		}
		r.hub.Unsubscribe(ChatChannel(chatID), conn)

	default:
		log.Warn("Unknown event")
	}
}

// Join identifies conn as userID and announces the user to their partners.
// The identification stands even when the announcement fails.
func (r *Relay) Join(ctx context.Context, conn Connection, userID int64) error {
	r.registry.Identify(conn, userID)

	r.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       userID,
	}).Info("User joined")

	_, err := r.presence.AnnounceOnline(ctx, userID)
	return err
}

// SubscribeChat adds conn to the chat channel if its user belongs to the chat.
func (r *Relay) SubscribeChat(ctx context.Context, conn Connection, chatID int64) error {
	userID, ok := r.registry.Lookup(conn.ID())
	if !ok {
		return ErrUnauthenticated
	}

	chat, err := r.directory.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return service.ErrNotParticipant
	}

	r.hub.Subscribe(ChatChannel(chatID), conn)
	return nil
}

// PublishMessage fans out a message stored outside the websocket path.
func (r *Relay) PublishMessage(chat *models.Chat, msg *models.Message) error {
	if chat == nil || msg == nil {
		return errors.New("relay: nil chat or message")
	}
	if chat.ID != msg.ChatID {
		return fmt.Errorf("relay: message %d does not belong to chat %d", msg.ID, chat.ID)
	}
	r.messages.Deliver(chat, msg)
	return nil
}

type Stats struct {
	Connections   int `json:"connections"`
	Users         int `json:"users"`
	Channels      int `json:"channels"`
	Subscriptions int `json:"subscriptions"`
}

func (r *Relay) Stats() Stats {
	var s Stats
	s.Connections, s.Users = r.registry.Stats()
	s.Channels, s.Subscriptions = r.hub.Stats()
	return s
}
