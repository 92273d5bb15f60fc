package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"metachat/chat-relay/internal/models"
	"metachat/chat-relay/internal/service"
)

type mockConn struct {
	id      string
	sent    [][]byte
	sendErr error
	mu      sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}

type receivedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (m *mockConn) frames(t *testing.T) []receivedFrame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := make([]receivedFrame, 0, len(m.sent))
	for _, raw := range m.sent {
		var f receivedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		frames = append(frames, f)
	}
	return frames
}

func (m *mockConn) framesFor(t *testing.T, event string) []receivedFrame {
	t.Helper()
	var out []receivedFrame
	for _, f := range m.frames(t) {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type fakeDirectory struct {
	mu           sync.Mutex
	chats        map[int64]*models.Chat
	nextMsgID    int64
	created      []*models.Message
	createErr    error
	listErr      error
	getChatCalls int
}

func newFakeDirectory(chats ...*models.Chat) *fakeDirectory {
	d := &fakeDirectory{chats: make(map[int64]*models.Chat), nextMsgID: 100}
	for _, c := range chats {
		d.chats[c.ID] = c
	}
	return d
}

func (d *fakeDirectory) GetUserChats(_ context.Context, userID int64) ([]*models.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []*models.Chat
	for _, c := range d.chats {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetChat(_ context.Context, chatID int64) (*models.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getChatCalls++
	c, ok := d.chats[chatID]
	if !ok {
		return nil, service.ErrChatNotFound
	}
	return c, nil
}

func (d *fakeDirectory) CreateMessage(_ context.Context, chatID, senderID int64, content string) (*models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.nextMsgID++
	msg := &models.Message{
		ID:        d.nextMsgID,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Sender:    &models.UserProfile{ID: senderID, Username: "user", DisplayName: "User"},
	}
	d.created = append(d.created, msg)
	return msg, nil
}

func (d *fakeDirectory) createdCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created)
}

var errStorageDown = errors.New("storage down")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func frame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(Frame{Event: event, Data: payload})
	require.NoError(t, err)
	return raw
}
