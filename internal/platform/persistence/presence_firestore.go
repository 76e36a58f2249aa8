// Package persistence contains the Firestore-backed presence store, for
// deployments without a shared Redis. Firestore has no per-key TTL, so
// records carry an expires_at field that reads filter on; a record past
// its expiry is offline even if the document still exists.
package persistence

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

// storedRecord is the document shape written to Firestore.
type storedRecord struct {
	UserID       string    `firestore:"user_id"`
	DisplayName  string    `firestore:"display_name"`
	Status       string    `firestore:"status"`
	ConnectionID string    `firestore:"connection_id"`
	LastSeen     time.Time `firestore:"last_seen"`
	ExpiresAt    time.Time `firestore:"expires_at"`
}

// FirestorePresenceStore implements presence.Store using Google Cloud
// Firestore. One document per user, keyed by user id.
type FirestorePresenceStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewFirestorePresenceStore is the constructor for the Firestore store.
func NewFirestorePresenceStore(
	client *firestore.Client,
	collection string,
	ttl time.Duration,
	logger zerolog.Logger,
) (*FirestorePresenceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("presence collection name cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive, got %s", ttl)
	}
	return &FirestorePresenceStore{
		client:     client,
		collection: collection,
		ttl:        ttl,
		logger:     logger.With().Str("component", "firestore_presence_store").Logger(),
	}, nil
}

// MarkOnline writes or refreshes the user's document with a fresh expiry.
func (s *FirestorePresenceStore) MarkOnline(ctx context.Context, rec presence.Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("presence record missing user id")
	}
	if rec.Status == "" {
		rec.Status = presence.StatusOnline
	}

	doc := storedRecord{
		UserID:       rec.UserID,
		DisplayName:  rec.DisplayName,
		Status:       string(rec.Status),
		ConnectionID: rec.ConnectionID,
		LastSeen:     rec.LastSeen,
		ExpiresAt:    time.Now().UTC().Add(s.ttl),
	}

	if _, err := s.client.Collection(s.collection).Doc(rec.UserID).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("user", rec.UserID).Msg("Failed to write presence document")
		return fmt.Errorf("failed to write presence document: %w", err)
	}
	return nil
}

// MarkOffline deletes the user's document. Deleting an absent document is
// a no-op.
func (s *FirestorePresenceStore) MarkOffline(ctx context.Context, userID string) error {
	if _, err := s.client.Collection(s.collection).Doc(userID).Delete(ctx); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Msg("Failed to delete presence document")
		return fmt.Errorf("failed to delete presence document: %w", err)
	}
	return nil
}

// GetStatus reads one user's document. Missing or expired yields offline.
func (s *FirestorePresenceStore) GetStatus(ctx context.Context, userID string) (presence.Record, error) {
	snap, err := s.client.Collection(s.collection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return presence.Record{UserID: userID, Status: presence.StatusOffline}, nil
	}
	if err != nil {
		return presence.Record{}, fmt.Errorf("failed to read presence document: %w", err)
	}

	var doc storedRecord
	if err := snap.DataTo(&doc); err != nil {
		s.logger.Warn().Err(err).Str("user", userID).Msg("Discarding unreadable presence document")
		return presence.Record{UserID: userID, Status: presence.StatusOffline}, nil
	}

	if time.Now().After(doc.ExpiresAt) {
		return presence.Record{UserID: userID, Status: presence.StatusOffline}, nil
	}
	return recordFromDoc(doc), nil
}

// ListOnline queries every document whose expiry is still in the future.
func (s *FirestorePresenceStore) ListOnline(ctx context.Context) ([]presence.Record, error) {
	query := s.client.Collection(s.collection).Where("expires_at", ">", time.Now())
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query presence documents: %w", err)
	}

	records := make([]presence.Record, 0, len(snaps))
	for _, snap := range snaps {
		var doc storedRecord
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn().Err(err).Str("doc_id", snap.Ref.ID).Msg("Skipping unreadable presence document")
			continue
		}
		records = append(records, recordFromDoc(doc))
	}
	return records, nil
}

func recordFromDoc(doc storedRecord) presence.Record {
	return presence.Record{
		UserID:       doc.UserID,
		DisplayName:  doc.DisplayName,
		Status:       presence.Status(doc.Status),
		ConnectionID: doc.ConnectionID,
		LastSeen:     doc.LastSeen,
	}
}
