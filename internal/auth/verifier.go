// Package auth verifies the bearer credential presented at WebSocket
// handshake time against the identity provider's published signing keys.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingToken means no credential was presented at all.
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken covers malformed, expired, and unverifiable tokens.
	ErrInvalidToken = errors.New("invalid authentication token")
	// ErrMissingClaims means the token verified but lacks the identity
	// claims the gateway needs.
	ErrMissingClaims = errors.New("token missing required claims")
)

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// Claims is the subset of the identity provider's token the gateway
// reads. The subject is the user id; preferred_username is the display
// name shown on typing indicators.
type Claims struct {
	DisplayName string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against a cached JWKS. The key set
// refreshes in the background and again on an unknown key id, so a
// provider-side signing key rotation never requires a gateway restart
// and verification never round-trips to the provider on the hot path.
type Verifier struct {
	keys   jwt.Keyfunc
	logger zerolog.Logger
}

// NewVerifier fetches the provider's JWKS and builds a verifier. The
// initial fetch is the only blocking call; it fails fast if the provider
// is unreachable at startup.
func NewVerifier(ctx context.Context, jwksURL string, logger zerolog.Logger) (*Verifier, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url cannot be empty")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks from %s: %w", jwksURL, err)
	}

	return &Verifier{
		keys:   kf.Keyfunc,
		logger: logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Verify checks the token's signature and expiry and extracts the
// identity claims. Callers bound it with the handshake deadline; a
// connection whose verification outlives that deadline is rejected
// rather than held half-established.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("handshake deadline exceeded: %w", err)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keys,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Token verification failed")
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.DisplayName == "" {
		return Identity{}, ErrMissingClaims
	}

	return Identity{UserID: claims.Subject, DisplayName: claims.DisplayName}, nil
}
