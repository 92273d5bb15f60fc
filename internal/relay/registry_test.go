package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_IdentifyLookupForget(t *testing.T) {
	for _, userID := range []int64{1, 2, 99, 1 << 40} {
		t.Run(fmt.Sprintf("user %d", userID), func(t *testing.T) {
			r := NewRegistry(NewHub(testLogger()))
			conn := &mockConn{id: "c1"}

			r.Identify(conn, userID)
			got, ok := r.Lookup("c1")
			require.True(t, ok)
			assert.Equal(t, userID, got)

			r.Forget("c1")
			_, ok = r.Lookup("c1")
			assert.False(t, ok)
		})
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(NewHub(testLogger()))

	_, ok := r.Lookup("missing")
	assert.False(t, ok)

	r.Forget("missing")
}

func TestRegistry_ReidentifyMovesSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	r := NewRegistry(hub)
	conn := &mockConn{id: "c1"}

	r.Identify(conn, 1)
	r.Identify(conn, 2)

	got, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, int64(2), got)

	assert.Equal(t, 0, hub.Publish(UserChannel(1), []byte("x")))
	assert.Equal(t, 1, hub.Publish(UserChannel(2), []byte("x")))
}

func TestRegistry_MultipleDevices(t *testing.T) {
	hub := NewHub(testLogger())
	r := NewRegistry(hub)
	phone := &mockConn{id: "phone"}
	laptop := &mockConn{id: "laptop"}

	r.Identify(phone, 5)
	r.Identify(laptop, 5)

	connections, users := r.Stats()
	assert.Equal(t, 2, connections)
	assert.Equal(t, 1, users)
	assert.Equal(t, 2, hub.Publish(UserChannel(5), []byte("x")))
}

func TestRegistry_ConcurrentConnections(t *testing.T) {
	r := NewRegistry(NewHub(testLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &mockConn{id: fmt.Sprintf("c%d", i)}
			r.Identify(conn, int64(i%7)+1)
			if i%2 == 0 {
				r.Forget(conn.ID())
			}
		}(i)
	}
	wg.Wait()

	connections, _ := r.Stats()
	assert.Equal(t, 25, connections)
}
