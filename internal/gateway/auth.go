package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/protocol"
)

// UserFetcher resolves a user id to its protocol representation. *corestore.Database satisfies this directly.
type UserFetcher interface {
	FetchUser(ctx context.Context, id uuid.UUID) (protocol.User, error)
}

// JWTResolver implements TokenResolver over the stateless access tokens minted by internal/auth: the token's
// subject claim is the user id, and a fresh user record is fetched on every handshake so a just-banned or
// just-renamed account is reflected immediately.
type JWTResolver struct {
	secret string
	issuer string
	users  UserFetcher
}

// NewJWTResolver builds a TokenResolver validating against secret/issuer, the same pair passed to
// auth.ValidateAccessToken by the rest of the server.
func NewJWTResolver(secret, issuer string, users UserFetcher) *JWTResolver {
	return &JWTResolver{secret: secret, issuer: issuer, users: users}
}

// ResolveToken implements TokenResolver.
func (r *JWTResolver) ResolveToken(ctx context.Context, token string) (protocol.User, error) {
	claims, err := auth.ValidateAccessToken(token, r.secret, r.issuer)
	if err != nil {
		return protocol.User{}, fmt.Errorf("validate access token: %w", err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return protocol.User{}, fmt.Errorf("parse token subject: %w", err)
	}
	u, err := r.users.FetchUser(ctx, userID)
	if err != nil {
		return protocol.User{}, fmt.Errorf("fetch token subject: %w", err)
	}
	return u, nil
}
