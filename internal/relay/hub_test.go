package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_Publish(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(*Hub) []*mockConn
		channel      string
		wantReceived map[string]int
		wantCount    int
	}{
		{
			name: "all subscribers receive",
			setup: func(h *Hub) []*mockConn {
				a := &mockConn{id: "a"}
				b := &mockConn{id: "b"}
				h.Subscribe("user:1", a)
				h.Subscribe("user:1", b)
				return []*mockConn{a, b}
			},
			channel:      "user:1",
			wantReceived: map[string]int{"a": 1, "b": 1},
			wantCount:    2,
		},
		{
			name: "no cross-channel delivery",
			setup: func(h *Hub) []*mockConn {
				a := &mockConn{id: "a"}
				h.Subscribe("user:2", a)
				return []*mockConn{a}
			},
			channel:      "user:1",
			wantReceived: map[string]int{"a": 0},
			wantCount:    0,
		},
		{
			name: "failing connection does not stop others",
			setup: func(h *Hub) []*mockConn {
				bad := &mockConn{id: "bad", sendErr: errors.New("buffer full")}
				good := &mockConn{id: "good"}
				h.Subscribe("chat:9", bad)
				h.Subscribe("chat:9", good)
				return []*mockConn{bad, good}
			},
			channel:      "chat:9",
			wantReceived: map[string]int{"bad": 0, "good": 1},
			wantCount:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(testLogger())
			conns := tt.setup(h)

			count := h.Publish(tt.channel, []byte("payload"))

			assert.Equal(t, tt.wantCount, count)
			for _, c := range conns {
				assert.Len(t, c.sent, tt.wantReceived[c.ID()], "connection %s", c.ID())
			}
		})
	}
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h := NewHub(testLogger())
	conn := &mockConn{id: "c1"}
	other := &mockConn{id: "c2"}

	h.Subscribe("user:1", conn)
	h.Subscribe("chat:3", conn)
	h.Subscribe("chat:3", other)

	channels, subs := h.Stats()
	require.Equal(t, 2, channels)
	require.Equal(t, 3, subs)

	h.UnsubscribeAll(conn)

	channels, subs = h.Stats()
	assert.Equal(t, 1, channels)
	assert.Equal(t, 1, subs)
	assert.Equal(t, 0, h.Publish("user:1", []byte("x")))
	assert.Equal(t, 1, h.Publish("chat:3", []byte("x")))
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(testLogger())
	conn := &mockConn{id: "c1"}

	h.Subscribe("chat:1", conn)
	h.Unsubscribe("chat:1", conn)
	h.Unsubscribe("chat:1", conn)

	channels, subs := h.Stats()
	assert.Zero(t, channels)
	assert.Zero(t, subs)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "user:42", UserChannel(42))
	assert.Equal(t, "chat:7", ChatChannel(7))
}
