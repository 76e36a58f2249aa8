package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/internal/auth"
	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
	"github.com/darshlukkad/colink-presence-gateway/presencegateway/config"
)

// NewFakeDependencies creates in-memory fakes for local development. The
// fakes honor the same TTL semantics as the real stores but are invisible
// to other instances.
func NewFakeDependencies(_ context.Context, cfg *config.AppConfig, logger zerolog.Logger) *presence.ServiceDependencies {
	return &presence.ServiceDependencies{
		Presence: &fakePresenceStore{
			records: make(map[string]fakeRecord),
			ttl:     cfg.PresenceTTL(),
		},
		Typing: &fakeTypingStore{
			markers: make(map[string]map[string]fakeMarker),
			ttl:     cfg.TypingTTL(),
		},
		Bus: newFakeBus(logger),
	}
}

// FakeVerifier accepts any non-empty token and treats it as the user id.
// Local development only.
type FakeVerifier struct{}

func (FakeVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}
	return auth.Identity{UserID: token, DisplayName: token}, nil
}

type fakeRecord struct {
	rec       presence.Record
	expiresAt time.Time
}

type fakePresenceStore struct {
	mu      sync.Mutex
	records map[string]fakeRecord
	ttl     time.Duration
}

func (s *fakePresenceStore) MarkOnline(_ context.Context, rec presence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == "" {
		rec.Status = presence.StatusOnline
	}
	s.records[rec.UserID] = fakeRecord{rec: rec, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *fakePresenceStore) MarkOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *fakePresenceStore) GetStatus(_ context.Context, userID string) (presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return presence.Record{UserID: userID, Status: presence.StatusOffline}, nil
	}
	return entry.rec, nil
}

func (s *fakePresenceStore) ListOnline(_ context.Context) ([]presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]presence.Record, 0, len(s.records))
	for _, entry := range s.records {
		if now.Before(entry.expiresAt) {
			out = append(out, entry.rec)
		}
	}
	return out, nil
}

type fakeMarker struct {
	marker    presence.TypingMarker
	expiresAt time.Time
}

type fakeTypingStore struct {
	mu      sync.Mutex
	markers map[string]map[string]fakeMarker
	ttl     time.Duration
}

func (s *fakeTypingStore) StartTyping(_ context.Context, roomID, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.markers[roomID]
	if !ok {
		room = make(map[string]fakeMarker)
		s.markers[roomID] = room
	}
	room[userID] = fakeMarker{
		marker:    presence.TypingMarker{RoomID: roomID, UserID: userID, DisplayName: displayName},
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

func (s *fakeTypingStore) StopTyping(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.markers[roomID]; ok {
		delete(room, userID)
	}
	return nil
}

func (s *fakeTypingStore) ActiveTypists(_ context.Context, roomID string) ([]presence.TypingMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []presence.TypingMarker
	for _, entry := range s.markers[roomID] {
		if now.Before(entry.expiresAt) {
			out = append(out, entry.marker)
		}
	}
	return out, nil
}

// fakeBus loops published envelopes straight back to the local
// subscriber, which is exactly what a single-instance dev run needs.
type fakeBus struct {
	ch     chan *presence.Envelope
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newFakeBus(logger zerolog.Logger) *fakeBus {
	return &fakeBus{
		ch:     make(chan *presence.Envelope, 256),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "fake_bus").Logger(),
	}
}

func (b *fakeBus) Publish(_ context.Context, env *presence.Envelope) error {
	select {
	case b.ch <- env:
	case <-b.done:
	default:
		b.logger.Warn().Msg("Fake bus full, dropping envelope")
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, handler func(context.Context, *presence.Envelope)) error {
	for {
		select {
		case env := <-b.ch:
			handler(ctx, env)
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		}
	}
}

func (b *fakeBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
