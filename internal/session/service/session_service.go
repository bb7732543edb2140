// Package service implements session lifecycle management: password logins
// with MFA and failed-attempt throttling, refresh-token rotation, admin
// impersonation, and session revocation.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/auth"
	"identity-control-plane/internal/security"
	"identity-control-plane/internal/session/domain"
	sessionrepo "identity-control-plane/internal/session/repository"
	userdomain "identity-control-plane/internal/user/domain"
	userrepo "identity-control-plane/internal/user/repository"
)

// SessionService owns the session rows and their paired credentials. Every
// session carries exactly one live refresh token hash; rotating the hash is
// what invalidates the previous refresh token.
type SessionService struct {
	sessions     sessionrepo.Repository
	users        userrepo.Repository
	accessTokens *auth.AccessTokenService
	failedAuth   FailedAuthCounter
	now          func() time.Time
}

// NewSessionService wires the session manager.
func NewSessionService(sessions sessionrepo.Repository, users userrepo.Repository, accessTokens *auth.AccessTokenService, failedAuth FailedAuthCounter) *SessionService {
	return &SessionService{
		sessions:     sessions,
		users:        users,
		accessTokens: accessTokens,
		failedAuth:   failedAuth,
		now:          time.Now,
	}
}

// Create opens a new session for the user and issues its credential pair.
// When trackLogin is set the call also clears the user's failed-login
// counters and bumps last_login; impersonation passes false so the admin
// action leaves the target's login bookkeeping untouched.
func (s *SessionService) Create(ctx context.Context, tx pgx.Tx, user *userdomain.User, deviceName string, trackLogin bool) (*domain.Login, error) {
	refreshToken, err := security.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	hash := security.HashRefreshToken(refreshToken)

	now := s.now().UTC()
	sess := &domain.Session{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		DeviceName:       deviceName,
		RefreshTokenHash: hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sessions.Create(ctx, tx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if trackLogin {
		if err := s.resetFailedAttempts(ctx, user); err != nil {
			return nil, err
		}
		if err := s.users.UpdateLastLogin(ctx, tx, user.ID, now); err != nil {
			return nil, fmt.Errorf("update last login: %w", err)
		}
		user.LastLogin = &now
	}

	accessToken, err := s.accessTokens.Issue(user, sess.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &domain.Login{
		User:         *user,
		Session:      *sess,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh rotates the session's refresh token and issues a fresh credential
// pair. The rotation is a single UPDATE conditional on the hash being
// replaced, so of two racing refreshes at most one succeeds; the loser, like
// a refresh racing a delete, reports ErrSessionNotFound.
func (s *SessionService) Refresh(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.Login, error) {
	sess, err := s.sessions.Get(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, auth.ErrSessionNotFound
	}
	user, err := s.users.GetByID(ctx, tx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("session %s references missing user %s", sess.ID, sess.UserID)
	}

	refreshToken, err := security.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	hash := security.HashRefreshToken(refreshToken)
	now := s.now().UTC()

	rotated, err := s.sessions.UpdateRefreshTokenHash(ctx, tx, sess.ID, sess.RefreshTokenHash, hash, now)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		return nil, auth.ErrSessionNotFound
	}
	sess.RefreshTokenHash = hash
	sess.UpdatedAt = now

	accessToken, err := s.accessTokens.Issue(user, sess.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &domain.Login{
		User:         *user,
		Session:      *sess,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Delete removes the session and marks its access tokens as invalidated for
// the remainder of their lifetime. Returns false when no such session exists.
func (s *SessionService) Delete(ctx context.Context, tx pgx.Tx, sessionID string) (bool, error) {
	sess, err := s.sessions.Get(ctx, tx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return false, nil
	}
	existed, err := s.sessions.Delete(ctx, tx, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := s.accessTokens.Invalidate(ctx, sess.RefreshTokenHash); err != nil {
		return false, err
	}
	return existed, nil
}

// DeleteByUser removes every session of the user and invalidates each
// session's outstanding access tokens.
func (s *SessionService) DeleteByUser(ctx context.Context, tx pgx.Tx, userID string) error {
	hashes, err := s.sessions.DeleteByUser(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	for _, hash := range hashes {
		if err := s.accessTokens.Invalidate(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionService) resetFailedAttempts(ctx context.Context, user *userdomain.User) error {
	if err := s.failedAuth.Reset(ctx, user.Name); err != nil {
		return err
	}
	if user.Email != "" {
		if err := s.failedAuth.Reset(ctx, user.Email); err != nil {
			return err
		}
	}
	return nil
}
