package auth

import (
	"context"
	"errors"
	"time"

	"elibrary/internal/platform/crypto"
	"elibrary/internal/user"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

type Service struct {
	secret    string
	tokenTTL  time.Duration
	users     *user.Service
	blacklist BlacklistRepository
}

func NewService(secret string, tokenTTL time.Duration, users *user.Service, blacklist BlacklistRepository) *Service {
	return &Service{
		secret:    secret,
		tokenTTL:  tokenTTL,
		users:     users,
		blacklist: blacklist,
	}
}

// Login verifies the credentials and returns an access token and its lifetime in seconds.
func (s *Service) Login(ctx context.Context, email, password string) (string, user.User, int, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil || !crypto.VerifyPassword(u.Password, password) {
		return "", user.User{}, 0, ErrUnauthorized
	}

	accessToken, _, err := crypto.GenerateToken(s.secret, u.ID, u.Role, s.tokenTTL)
	if err != nil {
		return "", user.User{}, 0, err
	}
	return accessToken, u, int(s.tokenTTL.Seconds()), nil
}

// Logout blacklists the token's jti until the token would have expired.
func (s *Service) Logout(ctx context.Context, token string, userID string) error {
	claims, err := crypto.ParseToken(s.secret, token)
	if err != nil {
		return ErrUnauthorized
	}

	expiresAt := time.Now().Add(s.tokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return s.blacklist.AddToken(ctx, claims.ID, userID, expiresAt)
}
