package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

// TypingStore implements presence.TypingStore on Redis. One key per
// (room,user) pair with a very short TTL; the TTL is the stop mechanism,
// not a scheduled task. Clients re-send typing signals faster than the
// TTL while actively typing.
type TypingStore struct {
	client presenceClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewTypingStore is the constructor for the Redis typing store.
func NewTypingStore(client presenceClient, ttl time.Duration, logger zerolog.Logger) (*TypingStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("typing ttl must be positive, got %s", ttl)
	}
	return &TypingStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "typing_store").Logger(),
	}, nil
}

// StartTyping writes the (room,user) marker with the short fixed TTL.
// Re-sending refreshes the TTL.
func (s *TypingStore) StartTyping(ctx context.Context, roomID, userID, displayName string) error {
	if roomID == "" || userID == "" {
		return fmt.Errorf("typing marker requires room and user ids")
	}

	marker := presence.TypingMarker{RoomID: roomID, UserID: userID, DisplayName: displayName}
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal typing marker: %w", err)
	}

	if err := s.client.SetEx(ctx, typingKey(roomID, userID), payload, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Str("user", userID).Msg("Failed to write typing marker")
		return fmt.Errorf("failed to write typing marker: %w", err)
	}
	return nil
}

// StopTyping deletes the marker early. Idempotent: racing an explicit stop
// against TTL expiry deletes the same key either way.
func (s *TypingStore) StopTyping(ctx context.Context, roomID, userID string) error {
	if err := s.client.Del(ctx, typingKey(roomID, userID)).Err(); err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Str("user", userID).Msg("Failed to delete typing marker")
		return fmt.Errorf("failed to delete typing marker: %w", err)
	}
	return nil
}

// ActiveTypists scans the unexpired markers for one room.
func (s *TypingStore) ActiveTypists(ctx context.Context, roomID string) ([]presence.TypingMarker, error) {
	var markers []presence.TypingMarker
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, typingKey(roomID, "*"), scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan typing keys: %w", err)
		}

		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and read
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read typing marker %q: %w", key, err)
			}

			var marker presence.TypingMarker
			if err := json.Unmarshal([]byte(payload), &marker); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable typing marker")
				continue
			}
			markers = append(markers, marker)
		}

		cursor = next
		if cursor == 0 {
			return markers, nil
		}
	}
}

func typingKey(roomID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", roomID, userID)
}
