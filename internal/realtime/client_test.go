package realtime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// backdateHeartbeat moves the client's last heartbeat into the past.
func backdateHeartbeat(c *Client, ago time.Duration) {
	c.lastHeartbeat.Store(time.Now().Add(-ago).UnixNano())
}

func TestClient_HeartbeatStateMachine(t *testing.T) {
	interval := time.Second
	c := newClient("conn-1", "user-a", "Ada", nil, zerolog.Nop())

	// Fresh connection: connected, no timeout.
	assert.False(t, c.checkHeartbeat(interval))
	assert.Equal(t, heartbeatConnected, c.heartbeatState())

	// One silent interval: awaiting, still no timeout.
	backdateHeartbeat(c, interval+interval/2)
	assert.False(t, c.checkHeartbeat(interval))
	assert.Equal(t, heartbeatAwaiting, c.heartbeatState())

	// A ping resets the state.
	c.touchHeartbeat()
	assert.False(t, c.checkHeartbeat(interval))
	assert.Equal(t, heartbeatConnected, c.heartbeatState())

	// Two silent intervals: timed out.
	backdateHeartbeat(c, 2*interval+interval/2)
	assert.True(t, c.checkHeartbeat(interval))
	assert.Equal(t, heartbeatTimedOut, c.heartbeatState())
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	c := newClient("conn-1", "user-a", "Ada", nil, zerolog.Nop())

	err := c.enqueue([]byte("frame"))
	assert.NoError(t, err)

	// close with a nil conn only closes the channel.
	c.closeOnce.Do(func() { close(c.closed) })
	assert.ErrorIs(t, c.enqueue([]byte("frame")), ErrClientGone)
}

func TestClient_EnqueueFullBuffer(t *testing.T) {
	c := newClient("conn-1", "user-a", "Ada", nil, zerolog.Nop())

	for i := 0; i < sendBufferSize; i++ {
		assert.NoError(t, c.enqueue([]byte("frame")))
	}
	assert.ErrorIs(t, c.enqueue([]byte("frame")), ErrSendBufferFull)
}
