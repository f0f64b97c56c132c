// Package tokenstore persists the terminal's access token, refresh token and cached profile.
//
// An absent key reads back as "" with a nil error. Stores never expire keys on their own;
// expiry is decided by the session manager from the token's exp claim.
package tokenstore

import (
	"context"
	"errors"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

// ErrUnknownKind is returned for token kinds other than access and refresh.
var ErrUnknownKind = errors.New("tokenstore: unknown token kind")

// Store is the persisted key/value space shared by the session manager, the HTTP client
// wrapper and the route guard.
type Store interface {
	Get(ctx context.Context, kind domain.TokenKind) (string, error)
	Set(ctx context.Context, kind domain.TokenKind, value string) error
	Clear(ctx context.Context, kind domain.TokenKind) error

	GetUser(ctx context.Context) (domain.UserProfile, error)
	SetUser(ctx context.Context, profile domain.UserProfile) error
	ClearUser(ctx context.Context) error

	Ping(ctx context.Context) error
}

func keyFor(kind domain.TokenKind) (string, error) {
	key := kind.StorageKey()
	if key == "" {
		return "", ErrUnknownKind
	}
	return key, nil
}

// ClearAll removes both tokens and the cached profile, attempting every key.
func ClearAll(ctx context.Context, s Store) error {
	return errors.Join(
		s.Clear(ctx, domain.TokenAccess),
		s.Clear(ctx, domain.TokenRefresh),
		s.ClearUser(ctx),
	)
}
