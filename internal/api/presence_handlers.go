// Package api defines the HTTP handlers for the presence query surface:
// per-user status, the online roster, per-room typists, and the health
// probes.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

// ConnectionCounter reports how many WebSocket connections the instance
// currently holds. Implemented by the realtime connection manager.
type ConnectionCounter interface {
	ActiveConnections() int
}

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	presence    presence.Store
	typing      presence.TypingStore
	connections ConnectionCounter
	logger      zerolog.Logger
}

// NewAPI creates a new, stateless API handler.
func NewAPI(store presence.Store, typing presence.TypingStore, connections ConnectionCounter, logger zerolog.Logger) *API {
	return &API{
		presence:    store,
		typing:      typing,
		connections: connections,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes attaches every handler to the mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/presence", a.ListPresenceHandler)
	mux.HandleFunc("GET /api/presence/{user_id}", a.GetPresenceHandler)
	mux.HandleFunc("GET /api/presence/rooms/{room_id}/typing", a.RoomTypistsHandler)
	mux.HandleFunc("GET /healthz", a.HealthzHandler)
	mux.HandleFunc("GET /readyz", a.ReadyzHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// GetPresenceHandler returns one user's presence record. An unknown user
// is an offline record, not a 404.
func (a *API) GetPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user id is required")
		return
	}

	rec, err := a.presence.GetStatus(r.Context(), userID)
	if err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to read presence record")
		writeJSONError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListPresenceHandler returns every currently online user.
func (a *API) ListPresenceHandler(w http.ResponseWriter, r *http.Request) {
	records, err := a.presence.ListOnline(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to list online users")
		writeJSONError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Users []presence.Record `json:"users"`
		Count int               `json:"count"`
	}{Users: records, Count: len(records)})
}

// RoomTypistsHandler returns the unexpired typing markers for a room.
func (a *API) RoomTypistsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		writeJSONError(w, http.StatusBadRequest, "room id is required")
		return
	}

	typists, err := a.typing.ActiveTypists(r.Context(), roomID)
	if err != nil {
		a.logger.Error().Err(err).Str("room", roomID).Msg("Failed to list typists")
		writeJSONError(w, http.StatusServiceUnavailable, "typing store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		RoomID  string                  `json:"room_id"`
		Typists []presence.TypingMarker `json:"typists"`
	}{RoomID: roomID, Typists: typists})
}

// HealthzHandler is the liveness probe. It never touches the stores.
func (a *API) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if a.connections != nil {
		active = a.connections.ActiveConnections()
	}
	writeJSON(w, http.StatusOK, struct {
		Status            string    `json:"status"`
		ActiveConnections int       `json:"active_connections"`
		Timestamp         time.Time `json:"timestamp"`
	}{Status: "ok", ActiveConnections: active, Timestamp: time.Now().UTC()})
}

// ReadyzHandler is the readiness probe. A gateway that cannot reach its
// presence store should not receive new connections.
func (a *API) ReadyzHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := a.presence.GetStatus(r.Context(), "readiness-probe"); err != nil {
		a.logger.Warn().Err(err).Msg("Readiness check failed")
		writeJSONError(w, http.StatusServiceUnavailable, "presence store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ready"})
}
