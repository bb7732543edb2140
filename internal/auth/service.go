package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/security"
	sessionrepo "identity-control-plane/internal/session/repository"
	userrepo "identity-control-plane/internal/user/repository"
)

// Service authenticates access tokens, passwords, and refresh tokens.
type Service struct {
	accessTokens *AccessTokenService
	hasher       *security.Hasher
	users        userrepo.Repository
	sessions     sessionrepo.Repository
	refreshTTL   time.Duration
	now          func() time.Time
}

// NewService returns an auth Service. refreshTTL is the refresh-token
// lifetime measured from the session's last rotation.
func NewService(accessTokens *AccessTokenService, hasher *security.Hasher, users userrepo.Repository, sessions sessionrepo.Repository, refreshTTL time.Duration) *Service {
	return &Service{
		accessTokens: accessTokens,
		hasher:       hasher,
		users:        users,
		sessions:     sessions,
		refreshTTL:   refreshTTL,
		now:          time.Now,
	}
}

// AccessTokens exposes the underlying token service for session management.
func (s *Service) AccessTokens() *AccessTokenService {
	return s.accessTokens
}

// Authenticate verifies the access token and checks the shared cache for a
// revocation marker. Returns ErrInvalidToken for bad or revoked tokens; cache
// unavailability propagates as an internal error so callers never mistake
// "cannot confirm" for "definitely invalid".
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Authentication, error) {
	authn := s.accessTokens.Verify(accessToken)
	if authn == nil {
		return nil, ErrInvalidToken
	}
	invalidated, err := s.accessTokens.IsInvalidated(ctx, authn.RefreshTokenHash)
	if err != nil {
		return nil, fmt.Errorf("check token invalidation: %w", err)
	}
	if invalidated {
		return nil, ErrInvalidToken
	}
	return authn, nil
}

// AuthenticateByPassword verifies the password for the given user id.
// Fails with ErrInvalidCredentials on mismatch or absent password credential;
// whether the user exists at all is decided one layer up, before this call.
func (s *Service) AuthenticateByPassword(ctx context.Context, tx pgx.Tx, userID, password string) error {
	user, err := s.users.GetByID(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// AuthenticateByRefreshToken hashes the presented token and resolves the
// owning session. Returns the session id on success; ErrInvalidRefreshToken
// when no session holds the hash; the session id together with
// ErrRefreshTokenExpired when the session exists but is past its refresh
// lifetime, so the caller can delete it as cleanup.
func (s *Service) AuthenticateByRefreshToken(ctx context.Context, tx pgx.Tx, refreshToken string) (string, error) {
	hash := security.HashRefreshToken(refreshToken)
	session, err := s.sessions.GetByRefreshTokenHash(ctx, tx, hash)
	if err != nil {
		return "", fmt.Errorf("load session by refresh token: %w", err)
	}
	if session == nil {
		return "", ErrInvalidRefreshToken
	}
	if s.now().After(session.UpdatedAt.Add(s.refreshTTL)) {
		return session.ID, ErrRefreshTokenExpired
	}
	return session.ID, nil
}
