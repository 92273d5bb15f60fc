package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"metachat/chat-relay/internal/models"
)

const (
	EventJoin            = "user:join"
	EventSend            = "message:send"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventChatSubscribe   = "chat:subscribe"
	EventChatUnsubscribe = "chat:unsubscribe"

	EventOnline      = "user:online"
	EventNewMessage  = "message:new"
	EventMessageSent = "message:sent"
	EventChatUpdated = "chat:updated"
	EventError       = "error"
)

var (
	ErrUnauthenticated  = errors.New("connection is not identified")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidMessage   = errors.New("invalid message")
)

// Frame is the wire envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ID is an identifier that clients may send either as a JSON number or as a
// numeric string.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not an id", ErrMalformedPayload, raw)
	}
	*id = ID(n)
	return nil
}

type SendPayload struct {
	ChatID  ID     `json:"chatId"`
	Content string `json:"content"`
}

type ChatUpdated struct {
	ChatID      int64           `json:"chatId"`
	LastMessage *models.Message `json:"lastMessage"`
}

type TypingSignal struct {
	ChatID int64 `json:"chatId"`
	UserID int64 `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ParseChatID accepts a bare id (7 or "7") or an object carrying one
// ({"chatId": 7}) and returns the positive chat id it names.
func ParseChatID(data json.RawMessage) (int64, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, fmt.Errorf("%w: empty chat id", ErrMalformedPayload)
	}

	var id ID
	if trimmed[0] == '{' {
		var wrapped struct {
			ChatID *ID `json:"chatId"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if wrapped.ChatID == nil {
			return 0, fmt.Errorf("%w: missing chatId", ErrMalformedPayload)
		}
		id = *wrapped.ChatID
	} else if err := json.Unmarshal(trimmed, &id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if id <= 0 {
		return 0, fmt.Errorf("%w: chat id must be positive", ErrMalformedPayload)
	}
	return int64(id), nil
}

// ParseUserID reads the join payload, a bare user id.
func ParseUserID(data json.RawMessage) (int64, error) {
	var id ID
	if err := json.Unmarshal(bytes.TrimSpace(data), &id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: user id must be positive", ErrMalformedPayload)
	}
	return int64(id), nil
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Data: data})
}
