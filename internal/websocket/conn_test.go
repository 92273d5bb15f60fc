package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metachat/chat-relay/internal/relay"
)

type echoHandler struct {
	mu           sync.Mutex
	connected    []string
	disconnected chan string
	received     [][]byte
}

func (h *echoHandler) Connect(conn relay.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, conn.ID())
}

func (h *echoHandler) Dispatch(_ context.Context, conn relay.Connection, data []byte) {
	h.mu.Lock()
	h.received = append(h.received, data)
	h.mu.Unlock()
	_ = conn.Send(append([]byte("echo:"), data...))
}

func (h *echoHandler) Disconnect(conn relay.Connection) {
	h.disconnected <- conn.ID()
}

func newTestServer(t *testing.T, handler EventHandler) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewConn(ws, handler, logger, 4).Serve(context.Background())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConn_RoundTripAndDisconnect(t *testing.T) {
	handler := &echoHandler{disconnected: make(chan string, 1)}
	srv := newTestServer(t, handler)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"event":"user:join","data":1}`)))

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `echo:{"event":"user:join","data":1}`, string(reply))

	require.NoError(t, client.Close())

	select {
	case id := <-handler.disconnected:
		handler.mu.Lock()
		defer handler.mu.Unlock()
		require.Len(t, handler.connected, 1)
		assert.Equal(t, handler.connected[0], id)
		assert.Len(t, handler.received, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not disconnected")
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := &Conn{
		id:     "c1",
		send:   make(chan []byte, 1),
		closed: make(chan struct{}),
		logger: logger,
	}
	close(c.closed)

	assert.ErrorIs(t, c.Send([]byte("x")), ErrConnClosed)
	assert.Equal(t, "c1", c.ID())
}

type nopHandler struct{}

func (nopHandler) Connect(relay.Connection) {}
func (nopHandler) Dispatch(context.Context, relay.Connection, []byte) {}
func (nopHandler) Disconnect(relay.Connection) {}

func TestConn_SlowReaderDoesNotBlockSender(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	conns := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewConn(ws, nopHandler{}, logger, 1)
		conns <- c
		c.Serve(context.Background())
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var c *Conn
	select {
	case c = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection not established")
	}

	payload := make([]byte, 4<<20)
	var worst time.Duration
	var sendErr error
	for i := 0; i < 200 && sendErr == nil; i++ {
		start := time.Now()
		sendErr = c.Send(payload)
		if d := time.Since(start); d > worst {
			worst = d
		}
	}

	require.ErrorIs(t, sendErr, ErrBufferFull)
	assert.Less(t, worst, time.Second)
	assert.ErrorIs(t, c.Send(payload), ErrConnClosed)
}
