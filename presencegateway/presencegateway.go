// Package presencegateway wires the presence query API into a runnable
// HTTP service. The WebSocket side runs separately on its own server; see
// internal/realtime.
package presencegateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/internal/api"
	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
	"github.com/darshlukkad/colink-presence-gateway/presencegateway/config"
)

// Wrapper owns the presence API HTTP server and its handlers.
type Wrapper struct {
	server     *http.Server
	apiHandler *api.API
	logger     zerolog.Logger
}

// New creates and wires up the presence API service.
func New(
	cfg *config.AppConfig,
	deps *presence.ServiceDependencies,
	connections api.ConnectionCounter,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if deps == nil || deps.Presence == nil || deps.Typing == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}

	apiHandler := api.NewAPI(deps.Presence, deps.Typing, connections, logger)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)
	handler := api.CORSMiddleware(cfg.Cors.AllowedOrigins)(mux)

	return &Wrapper{
		server: &http.Server{
			Addr:    ":" + cfg.APIPort,
			Handler: handler,
		},
		apiHandler: apiHandler,
		logger:     logger.With().Str("component", "PresenceAPI").Logger(),
	}, nil
}

// Start binds the listener and serves until Shutdown. Binding first means
// a port conflict fails startup instead of surfacing later as a silent
// half-running service.
func (w *Wrapper) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind API listener on %s: %w", w.server.Addr, err)
	}

	w.logger.Info().Str("addr", listener.Addr().String()).Msg("Presence API server starting...")
	if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("presence API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down presence API server...")
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Presence API server shutdown failed.")
		return err
	}
	w.logger.Info().Msg("Presence API server shut down.")
	return nil
}
