package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/internal/auth"
	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHandshakeTimeout  = 5 * time.Second
	defaultStoreTimeout      = 3 * time.Second
	defaultMaxConnections    = 10000

	maxInboundFrameBytes = 4096
)

// TokenVerifier validates the credential presented at handshake time.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Config holds the tunables for a ConnectionManager.
type Config struct {
	Port              string
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	StoreTimeout      time.Duration
	MaxConnections    int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
}

// ConnectionManager owns the WebSocket endpoint: it authenticates
// handshakes, runs the per-connection pumps, applies the client protocol,
// and fans bus envelopes out to matching local sockets. It runs its own
// dedicated HTTP server.
type ConnectionManager struct {
	server   *http.Server
	upgrader websocket.Upgrader

	registry *Registry
	deps     presence.ServiceDependencies
	verifier TokenVerifier

	cfg        Config
	instanceID string
	boundAddr  atomic.Value
	logger     zerolog.Logger
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
func NewConnectionManager(
	cfg Config,
	verifier TokenVerifier,
	deps presence.ServiceDependencies,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if verifier == nil {
		return nil, fmt.Errorf("token verifier cannot be nil")
	}
	if deps.Presence == nil || deps.Typing == nil || deps.Bus == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}
	cfg.applyDefaults()

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the web client's origins once they are settled
				return true
			},
		},
		registry:   NewRegistry(cfg.MaxConnections),
		deps:       deps,
		verifier:   verifier,
		cfg:        cfg,
		instanceID: instanceID,
		logger:     cmLogger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", cm.connectHandler)
	cm.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	return cm, nil
}

// InstanceID returns this gateway's unique id, used to name per-instance
// bus subscriptions.
func (cm *ConnectionManager) InstanceID() string { return cm.instanceID }

// ActiveConnections reports the current local connection count.
func (cm *ConnectionManager) ActiveConnections() int { return cm.registry.Len() }

// Addr returns the bound listen address once Start has bound it, and ""
// before that.
func (cm *ConnectionManager) Addr() string {
	addr, _ := cm.boundAddr.Load().(string)
	return addr
}

// Start binds the listener, launches the bus subscriber loop, and serves
// WebSocket upgrades until the server is shut down.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", cm.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind websocket listener on %s: %w", cm.server.Addr, err)
	}
	cm.boundAddr.Store(listener.Addr().String())

	go func() {
		if err := cm.deps.Bus.Subscribe(ctx, cm.fanOut); err != nil && !errors.Is(err, context.Canceled) {
			cm.logger.Error().Err(err).Msg("Broadcast bus subscriber stopped unexpectedly")
		}
	}()

	cm.logger.Info().Str("addr", listener.Addr().String()).Msg("WebSocket server starting...")
	if err := cm.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting upgrades, closes the bus, and tears down every
// live connection with a going-away close frame.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	var finalErr error

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	if err := cm.deps.Bus.Close(); err != nil {
		cm.logger.Warn().Err(err).Msg("Broadcast bus close failed.")
	}

	cm.registry.ForEach(func(c *Client) {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.close()
	})

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// connectHandler authenticates and upgrades a new WebSocket connection,
// then blocks in its read loop until the client goes away.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	handshakeCtx, cancel := context.WithTimeout(r.Context(), cm.cfg.HandshakeTimeout)
	identity, err := cm.verifier.Verify(handshakeCtx, r.URL.Query().Get("token"))
	cancel()
	if err != nil {
		authFailuresTotal.Inc()
		cm.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected unauthenticated handshake")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	conn.SetReadLimit(maxInboundFrameBytes)

	client := newClient(uuid.NewString(), identity.UserID, identity.DisplayName, conn, cm.logger)

	firstForUser, err := cm.registry.Add(client)
	if err != nil {
		cm.logger.Warn().Str("user", identity.UserID).Msg("Connection cap reached, refusing connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	connectionsTotal.Inc()
	connectionsActive.Set(float64(cm.registry.Len()))
	cm.logger.Info().Str("user", identity.UserID).Str("conn", client.id).Msg("User connected via WebSocket.")

	cm.markOnline(client)
	if firstForUser {
		cm.publishPresence(client.userID, presence.StatusOnline)
	}

	go client.writePump(cm.cfg.HeartbeatInterval)
	defer cm.disconnect(client)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cm.handleInbound(client, raw)
	}
}

// handleInbound applies one client frame. Protocol errors answer with an
// error frame and leave the connection open.
func (cm *ConnectionManager) handleInbound(client *Client, raw []byte) {
	msg, err := presence.DecodeClientMessage(raw)
	if err != nil {
		cm.sendError(client, http.StatusBadRequest, "malformed message")
		return
	}

	switch msg.Type {
	case presence.TypeSubscribe:
		if msg.RoomID == "" {
			cm.sendError(client, http.StatusBadRequest, "subscribe requires room_id")
			return
		}
		cm.registry.Join(client, msg.RoomID)
		cm.sendFrame(client, presence.NewSubscribedFrame(msg.RoomID))

	case presence.TypeUnsubscribe:
		if msg.RoomID == "" {
			cm.sendError(client, http.StatusBadRequest, "unsubscribe requires room_id")
			return
		}
		cm.registry.Leave(client, msg.RoomID)
		cm.sendFrame(client, presence.NewUnsubscribedFrame(msg.RoomID))

	case presence.TypeTyping:
		if msg.RoomID == "" {
			cm.sendError(client, http.StatusBadRequest, "typing requires room_id")
			return
		}
		cm.startTyping(client, msg.RoomID)

	case presence.TypeTypingStop:
		if msg.RoomID == "" {
			cm.sendError(client, http.StatusBadRequest, "typing_stop requires room_id")
			return
		}
		cm.stopTyping(client, msg.RoomID)

	case presence.TypePing:
		client.touchHeartbeat()
		cm.markOnline(client)
		cm.sendFrame(client, presence.NewPongFrame(time.Now().UTC()))

	default:
		cm.sendError(client, http.StatusBadRequest, "unknown message type: "+msg.Type)
	}
}

// startTyping records the marker and relays the indicator to the room on
// every instance. A store failure costs the marker's TTL backstop, not
// the relay.
func (cm *ConnectionManager) startTyping(client *Client, roomID string) {
	ctx, cancel := cm.storeCtx()
	defer cancel()

	if err := cm.deps.Typing.StartTyping(ctx, roomID, client.userID, client.displayName); err != nil {
		cm.logger.Warn().Err(err).Str("room", roomID).Msg("Failed to record typing marker")
	}

	frame := presence.NewTypingFrame(roomID, client.userID, client.displayName)
	cm.publishToRoom(presence.EventTyping, roomID, client.userID, frame)
}

func (cm *ConnectionManager) stopTyping(client *Client, roomID string) {
	ctx, cancel := cm.storeCtx()
	defer cancel()

	if err := cm.deps.Typing.StopTyping(ctx, roomID, client.userID); err != nil {
		cm.logger.Warn().Err(err).Str("room", roomID).Msg("Failed to clear typing marker")
	}

	frame := presence.NewTypingStopFrame(roomID, client.userID)
	cm.publishToRoom(presence.EventTypingStop, roomID, client.userID, frame)
}

// disconnect is the single teardown path for a connection, shared by
// clean closes, read errors, and heartbeat timeouts. Store updates here
// are best-effort; the presence TTL is the backstop if they fail.
func (cm *ConnectionManager) disconnect(client *Client) {
	client.close()

	rooms := cm.registry.Rooms(client)
	lastForUser := cm.registry.Remove(client)
	connectionsActive.Set(float64(cm.registry.Len()))

	ctx, cancel := cm.storeCtx()
	defer cancel()

	for _, roomID := range rooms {
		if err := cm.deps.Typing.StopTyping(ctx, roomID, client.userID); err != nil {
			cm.logger.Debug().Err(err).Str("room", roomID).Msg("Failed to clear typing marker on disconnect")
		}
	}

	if lastForUser {
		if err := cm.deps.Presence.MarkOffline(ctx, client.userID); err != nil {
			cm.logger.Warn().Err(err).Str("user", client.userID).Msg("Failed to mark user offline")
		}
		cm.publishPresence(client.userID, presence.StatusOffline)
	}

	cm.logger.Info().Str("user", client.userID).Str("conn", client.id).Msg("User disconnected.")
}

// markOnline writes or refreshes the user's presence record. Called on
// connect and on every heartbeat, so the record's TTL outlives any live
// connection.
func (cm *ConnectionManager) markOnline(client *Client) {
	ctx, cancel := cm.storeCtx()
	defer cancel()

	rec := presence.Record{
		UserID:       client.userID,
		DisplayName:  client.displayName,
		Status:       presence.StatusOnline,
		ConnectionID: client.id,
		LastSeen:     time.Now().UTC(),
	}
	if err := cm.deps.Presence.MarkOnline(ctx, rec); err != nil {
		cm.logger.Warn().Err(err).Str("user", client.userID).Msg("Failed to refresh presence record")
	}
}

// publishPresence broadcasts a presence transition to every instance,
// this one included.
func (cm *ConnectionManager) publishPresence(userID string, status presence.Status) {
	frame := presence.NewPresenceFrame(userID, status, time.Now().UTC())
	payload, err := json.Marshal(frame)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to encode presence frame")
		return
	}

	ctx, cancel := cm.storeCtx()
	defer cancel()

	env := &presence.Envelope{Event: presence.EventPresence, UserID: userID, Payload: payload}
	if err := cm.deps.Bus.Publish(ctx, env); err != nil {
		cm.logger.Warn().Err(err).Str("user", userID).Msg("Failed to publish presence event")
	}
}

func (cm *ConnectionManager) publishToRoom(event presence.EventType, roomID, userID string, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to encode room frame")
		return
	}

	ctx, cancel := cm.storeCtx()
	defer cancel()

	env := &presence.Envelope{Event: event, RoomID: roomID, UserID: userID, Payload: payload}
	if err := cm.deps.Bus.Publish(ctx, env); err != nil {
		cm.logger.Warn().Err(err).Str("room", roomID).Msg("Failed to publish room event")
	}
}

// fanOut is the bus subscriber handler. It delivers each envelope to the
// matching local sockets; instances with no matching subscriber simply
// drop it.
func (cm *ConnectionManager) fanOut(_ context.Context, env *presence.Envelope) {
	busEventsTotal.WithLabelValues(string(env.Event)).Inc()

	switch env.Event {
	case presence.EventMessage:
		frame, err := json.Marshal(presence.NewMessageFrame(env.Payload))
		if err != nil {
			cm.logger.Error().Err(err).Msg("Failed to encode message frame")
			return
		}
		for _, c := range cm.registry.RoomMembers(env.RoomID) {
			cm.deliver(c, frame, env.Event)
		}

	case presence.EventTyping, presence.EventTypingStop:
		for _, c := range cm.registry.RoomMembers(env.RoomID) {
			cm.deliver(c, env.Payload, env.Event)
		}

	case presence.EventPresence:
		cm.registry.ForEach(func(c *Client) {
			cm.deliver(c, env.Payload, env.Event)
		})

	default:
		cm.logger.Debug().Str("event", string(env.Event)).Msg("Ignoring unknown bus event")
	}
}

// deliver queues one frame for one socket. A full or closing socket loses
// its connection; it never blocks delivery to anyone else.
func (cm *ConnectionManager) deliver(c *Client, frame []byte, event presence.EventType) {
	if err := c.enqueue(frame); err != nil {
		deliveryFailuresTotal.Inc()
		if errors.Is(err, ErrSendBufferFull) {
			cm.logger.Warn().Str("user", c.userID).Str("conn", c.id).Msg("Client too slow, dropping connection")
			c.close()
		}
		return
	}
	deliveriesTotal.WithLabelValues(string(event)).Inc()
}

func (cm *ConnectionManager) sendFrame(client *Client, frame any) {
	if err := client.enqueueJSON(frame); err != nil {
		cm.logger.Debug().Err(err).Str("conn", client.id).Msg("Failed to queue frame")
	}
}

func (cm *ConnectionManager) sendError(client *Client, code int, message string) {
	cm.sendFrame(client, presence.NewErrorFrame(code, message))
}

func (cm *ConnectionManager) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cm.cfg.StoreTimeout)
}
