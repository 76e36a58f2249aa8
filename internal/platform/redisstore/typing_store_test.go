package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshlukkad/colink-presence-gateway/internal/platform/redisstore"
)

const typingTTL = 5 * time.Second

func setupTypingStore(t *testing.T) (*redisstore.TypingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.NewTypingStore(client, typingTTL, zerolog.Nop())
	require.NoError(t, err)
	return store, mr
}

func TestTypingStore_StartAndList(t *testing.T) {
	store, _ := setupTypingStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartTyping(ctx, "room-1", "user-a", "Ada"))
	require.NoError(t, store.StartTyping(ctx, "room-1", "user-b", "Ben"))
	require.NoError(t, store.StartTyping(ctx, "room-2", "user-c", "Cleo"))

	typists, err := store.ActiveTypists(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, typists, 2, "markers are scoped per room")

	names := map[string]string{}
	for _, m := range typists {
		names[m.UserID] = m.DisplayName
	}
	assert.Equal(t, "Ada", names["user-a"])
	assert.Equal(t, "Ben", names["user-b"])
}

func TestTypingStore_MarkerExpires(t *testing.T) {
	store, mr := setupTypingStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartTyping(ctx, "room-1", "user-a", "Ada"))

	mr.FastForward(typingTTL + time.Second)

	typists, err := store.ActiveTypists(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, typists, "marker should expire without an explicit stop")
}

func TestTypingStore_RestartRefreshesTTL(t *testing.T) {
	store, mr := setupTypingStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartTyping(ctx, "room-1", "user-a", "Ada"))
	mr.FastForward(typingTTL - time.Second)

	require.NoError(t, store.StartTyping(ctx, "room-1", "user-a", "Ada"))
	mr.FastForward(typingTTL - time.Second)

	typists, err := store.ActiveTypists(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, typists, 1, "re-sending the signal keeps the marker alive")
}

func TestTypingStore_StopIsIdempotent(t *testing.T) {
	store, _ := setupTypingStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartTyping(ctx, "room-1", "user-a", "Ada"))
	require.NoError(t, store.StopTyping(ctx, "room-1", "user-a"))
	require.NoError(t, store.StopTyping(ctx, "room-1", "user-a"), "stopping twice is not an error")
	require.NoError(t, store.StopTyping(ctx, "room-1", "ghost"), "stopping a user who never typed is not an error")

	typists, err := store.ActiveTypists(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, typists)
}

func TestTypingStore_RejectsEmptyIDs(t *testing.T) {
	store, _ := setupTypingStore(t)

	assert.Error(t, store.StartTyping(context.Background(), "", "user-a", "Ada"))
	assert.Error(t, store.StartTyping(context.Background(), "room-1", "", "Ada"))
}
