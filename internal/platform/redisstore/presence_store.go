// Package redisstore contains the Redis-backed implementations of the
// gateway's shared state: presence records, typing markers, and the
// broadcast bus. Redis owns record expiry, which keeps TTL semantics
// correct across multiple gateway instances without any local sweeps.
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

const scanPageSize = 100

// presenceClient is the slice of go-redis this store needs. Narrowed for
// testability.
type presenceClient interface {
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// PresenceStore implements presence.Store on Redis. One key per user with
// a fixed TTL; a key's absence means offline.
type PresenceStore struct {
	client presenceClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewPresenceStore is the constructor for the Redis presence store.
func NewPresenceStore(client presenceClient, ttl time.Duration, logger zerolog.Logger) (*PresenceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive, got %s", ttl)
	}
	return &PresenceStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "presence_store").Logger(),
	}, nil
}

// MarkOnline writes or refreshes the user's record with the fixed TTL.
func (s *PresenceStore) MarkOnline(ctx context.Context, rec presence.Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("presence record missing user id")
	}
	if rec.Status == "" {
		rec.Status = presence.StatusOnline
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	key := presenceKey(rec.UserID)
	if err := s.client.SetEx(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("user", rec.UserID).Msg("Failed to write presence record")
		return fmt.Errorf("failed to write presence record: %w", err)
	}
	return nil
}

// MarkOffline deletes the user's record. Deleting an absent record is a
// no-op, which keeps explicit stop and TTL expiry idempotent with each
// other.
func (s *PresenceStore) MarkOffline(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Msg("Failed to delete presence record")
		return fmt.Errorf("failed to delete presence record: %w", err)
	}
	return nil
}

// GetStatus reads one user's record. A missing or expired key yields an
// offline record.
func (s *PresenceStore) GetStatus(ctx context.Context, userID string) (presence.Record, error) {
	payload, err := s.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return offlineRecord(userID), nil
	}
	if err != nil {
		return presence.Record{}, fmt.Errorf("failed to read presence record: %w", err)
	}

	var rec presence.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("Discarding unreadable presence record")
		return offlineRecord(userID), nil
	}
	return rec, nil
}

// ListOnline scans every unexpired presence key.
func (s *PresenceStore) ListOnline(ctx context.Context) ([]presence.Record, error) {
	var records []presence.Record
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, presenceKey("*"), scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence keys: %w", err)
		}

		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and read
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read presence record %q: %w", key, err)
			}

			var rec presence.Record
			if err := json.Unmarshal([]byte(payload), &rec); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable presence record")
				continue
			}
			records = append(records, rec)
		}

		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

func offlineRecord(userID string) presence.Record {
	return presence.Record{UserID: userID, Status: presence.StatusOffline}
}

func presenceKey(userID string) string { return fmt.Sprintf("presence:%s", userID) }
