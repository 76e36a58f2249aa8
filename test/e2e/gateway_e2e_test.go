//go:build integration

package e2e_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshlukkad/colink-presence-gateway/internal/auth"
	"github.com/darshlukkad/colink-presence-gateway/internal/platform/redisstore"
	"github.com/darshlukkad/colink-presence-gateway/internal/realtime"
	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

const testKeyID = "e2e-key-1"

// --- Test helpers ---

func newJWKSTestServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, userID, displayName string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                userID,
		"preferred_username": displayName,
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// newGatewayInstance wires one complete gateway: real Redis-backed
// stores and bus on the shared miniredis, real JWKS verification.
func newGatewayInstance(t *testing.T, ctx context.Context, redisAddr string, verifier realtime.TokenVerifier) *realtime.ConnectionManager {
	t.Helper()
	logger := zerolog.Nop()

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.NewPresenceStore(client, 5*time.Minute, logger)
	require.NoError(t, err)
	typing, err := redisstore.NewTypingStore(client, 5*time.Second, logger)
	require.NoError(t, err)

	busClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = busClient.Close() })
	bus, err := redisstore.NewBus(busClient, "e2e:broadcast", logger)
	require.NoError(t, err)

	cm, err := realtime.NewConnectionManager(
		realtime.Config{Port: "0", HeartbeatInterval: time.Minute},
		verifier,
		presence.ServiceDependencies{Presence: store, Typing: typing, Bus: bus},
		logger,
	)
	require.NoError(t, err)

	go func() { _ = cm.Start(ctx) }()
	require.Eventually(t, func() bool { return cm.Addr() != "" },
		5*time.Second, 10*time.Millisecond, "gateway did not bind its listener")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() { defer cancel(); _ = cm.Shutdown(shutdownCtx) })

	return cm
}

func dial(t *testing.T, cm *realtime.ConnectionManager, token string) *websocket.Conn {
	t.Helper()
	wsURL := fmt.Sprintf("ws://%s/ws?token=%s", cm.Addr(), token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for time.Now().Before(deadline) {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("timed out waiting for %q frame", wantType)
	return nil
}

func subscribe(t *testing.T, conn *websocket.Conn, roomID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "room_id": roomID}))
	readFrame(t, conn, presence.TypeSubscribed)
}

// --- Tests ---

// TestGatewayEndToEnd runs two gateway instances against one shared
// Redis and walks the full client flow: authenticated connect, presence
// visibility across instances, typing relay, message fan-out, and
// presence cleanup on disconnect.
func TestGatewayEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwksServer := newJWKSTestServer(t, &key.PublicKey)
	verifier, err := auth.NewVerifier(ctx, jwksServer.URL, zerolog.Nop())
	require.NoError(t, err)

	instanceA := newGatewayInstance(t, ctx, mr.Addr(), verifier)
	instanceB := newGatewayInstance(t, ctx, mr.Addr(), verifier)

	// A bad token is rejected at the handshake.
	wsURL := fmt.Sprintf("ws://%s/ws?token=%s", instanceA.Addr(), "garbage")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Ada connects to instance A, Ben to instance B.
	adaConn := dial(t, instanceA, signToken(t, key, "user-ada", "Ada"))
	benConn := dial(t, instanceB, signToken(t, key, "user-ben", "Ben"))

	subscribe(t, adaConn, "room-1")
	subscribe(t, benConn, "room-1")

	// Ada sees Ben come online even though he is on another instance.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "never saw Ben's online broadcast")
		frame := readFrame(t, adaConn, presence.TypePresence)
		if frame["user_id"] == "user-ben" {
			assert.Equal(t, string(presence.StatusOnline), frame["status"])
			break
		}
	}

	// Ben's presence record is in the shared store.
	storeClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = storeClient.Close() })
	sharedStore, err := redisstore.NewPresenceStore(storeClient, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)
	rec, err := sharedStore.GetStatus(ctx, "user-ben")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	assert.Equal(t, "Ben", rec.DisplayName)

	// Ben types; Ada sees the indicator across instances.
	require.NoError(t, benConn.WriteJSON(map[string]string{"type": "typing", "room_id": "room-1"}))
	frame := readFrame(t, adaConn, presence.TypeTyping)
	assert.Equal(t, "user-ben", frame["user_id"])
	assert.Equal(t, "Ben", frame["display_name"])

	// A message published by the messaging service reaches both rooms'
	// subscribers on both instances.
	pubClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = pubClient.Close() })
	messagingBus, err := redisstore.NewBus(pubClient, "e2e:broadcast", zerolog.Nop())
	require.NoError(t, err)
	payload, _ := json.Marshal(map[string]string{"text": "hello room", "sender": "user-cleo"})
	require.NoError(t, messagingBus.Publish(ctx, &presence.Envelope{
		Event:   presence.EventMessage,
		RoomID:  "room-1",
		Payload: payload,
	}))

	for name, conn := range map[string]*websocket.Conn{"ada": adaConn, "ben": benConn} {
		frame := readFrame(t, conn, presence.TypeMessage)
		inner, ok := frame["payload"].(map[string]any)
		require.True(t, ok, "%s got a message frame without payload", name)
		assert.Equal(t, "hello room", inner["text"])
	}

	// Ben disconnects; Ada sees him go offline and the record is gone.
	require.NoError(t, benConn.Close())

	deadline = time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "never saw Ben's offline broadcast")
		frame := readFrame(t, adaConn, presence.TypePresence)
		if frame["user_id"] == "user-ben" && frame["status"] == string(presence.StatusOffline) {
			break
		}
	}

	require.Eventually(t, func() bool {
		rec, err := sharedStore.GetStatus(ctx, "user-ben")
		return err == nil && rec.Status == presence.StatusOffline
	}, 5*time.Second, 50*time.Millisecond, "Ben's presence record was not cleared")
}

// TestGatewayEndToEnd_UngracefulDisconnect verifies that a severed TCP
// connection still converges to offline: explicit cleanup when the
// gateway notices, TTL expiry as the backstop when it does not.
func TestGatewayEndToEnd_UngracefulDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwksServer := newJWKSTestServer(t, &key.PublicKey)
	verifier, err := auth.NewVerifier(ctx, jwksServer.URL, zerolog.Nop())
	require.NoError(t, err)

	instance := newGatewayInstance(t, ctx, mr.Addr(), verifier)
	conn := dial(t, instance, signToken(t, key, "user-ada", "Ada"))

	storeClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = storeClient.Close() })
	store, err := redisstore.NewPresenceStore(storeClient, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.GetStatus(ctx, "user-ada")
		return err == nil && rec.Status == presence.StatusOnline
	}, 5*time.Second, 50*time.Millisecond)

	// Sever the TCP connection without a close frame and let the TTL
	// lapse. No heartbeat refreshes arrive, so whichever path wins, the
	// user reads as offline.
	require.NoError(t, conn.UnderlyingConn().Close())
	mr.FastForward(6 * time.Minute)

	require.Eventually(t, func() bool {
		rec, err := store.GetStatus(ctx, "user-ada")
		return err == nil && rec.Status == presence.StatusOffline
	}, 5*time.Second, 50*time.Millisecond)
}
