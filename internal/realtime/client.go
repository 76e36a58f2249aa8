package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// sendBufferSize is the per-connection outbound queue depth. A client
	// that falls this far behind is disconnected rather than allowed to
	// stall fan-out for everyone else.
	sendBufferSize = 256

	writeWait = 10 * time.Second
)

// Heartbeat states. A connection starts Connected, moves to
// AwaitingHeartbeat once a full interval passes without a ping, and is
// force-closed when a second interval passes.
const (
	heartbeatConnected int32 = iota
	heartbeatAwaiting
	heartbeatTimedOut
)

// ErrClientGone is returned when enqueueing to a connection that is
// already closing.
var ErrClientGone = errors.New("client connection is closing")

// ErrSendBufferFull is returned when a client's outbound queue is full.
var ErrSendBufferFull = errors.New("client send buffer full")

// Client is one live WebSocket connection and its outbound queue. All
// socket writes go through the send channel and happen on the writePump
// goroutine; the rooms set is owned by the Registry and only touched
// under its lock.
type Client struct {
	id          string
	userID      string
	displayName string

	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}

	lastHeartbeat atomic.Int64 // unix nanos of the last client ping
	hbState       atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

func newClient(id, userID, displayName string, conn *websocket.Conn, logger zerolog.Logger) *Client {
	c := &Client{
		id:          id,
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		rooms:       make(map[string]struct{}),
		closed:      make(chan struct{}),
		logger:      logger.With().Str("conn", id).Str("user", userID).Logger(),
	}
	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c
}

// touchHeartbeat records a client ping and resets the heartbeat state.
func (c *Client) touchHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
	c.hbState.Store(heartbeatConnected)
}

func (c *Client) heartbeatState() int32 {
	return c.hbState.Load()
}

// checkHeartbeat advances the heartbeat state machine on a timer tick
// and reports whether the connection has timed out.
func (c *Client) checkHeartbeat(interval time.Duration) bool {
	elapsed := time.Since(time.Unix(0, c.lastHeartbeat.Load()))
	switch {
	case elapsed > 2*interval:
		c.hbState.Store(heartbeatTimedOut)
		return true
	case elapsed > interval:
		if c.hbState.CompareAndSwap(heartbeatConnected, heartbeatAwaiting) {
			c.logger.Debug().Dur("silent_for", elapsed).Msg("Heartbeat overdue, one more interval before close")
		}
	}
	return false
}

// enqueue queues an already-encoded frame for delivery. It never blocks:
// a closing client or a full buffer returns an error and the caller
// decides whether that costs the client its connection.
func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClientGone
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return ErrClientGone
	default:
		return ErrSendBufferFull
	}
}

// enqueueJSON encodes v and queues it.
func (c *Client) enqueueJSON(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// close tears the connection down exactly once. Safe to call from any
// goroutine; the read loop's pending Read returns with an error.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// writePump owns all writes to the socket. It drains the send queue and
// runs the heartbeat check once per interval: one silent interval moves
// the connection to AwaitingHeartbeat, two gets it a policy-violation
// close frame and a teardown. It exits when the client closes.
func (c *Client) writePump(heartbeatInterval time.Duration) {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Socket write failed")
				return
			}

		case <-ticker.C:
			if c.checkHeartbeat(heartbeatInterval) {
				heartbeatTimeoutsTotal.Inc()
				c.logger.Info().Msg("Heartbeat timed out, closing connection")
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "heartbeat timeout"))
				return
			}

		case <-c.closed:
			return
		}
	}
}
