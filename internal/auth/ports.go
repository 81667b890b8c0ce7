package auth

import (
	"context"
	"time"
)

// BlacklistRepository stores access tokens revoked by logout until they expire.
type BlacklistRepository interface {
	AddToken(ctx context.Context, jti string, userID string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	CleanupExpired(ctx context.Context) error
}
