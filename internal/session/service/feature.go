package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"identity-control-plane/internal/auth"
	"identity-control-plane/internal/captcha"
	"identity-control-plane/internal/db"
	"identity-control-plane/internal/mfa"
	mfadomain "identity-control-plane/internal/mfa/domain"
	mfarepo "identity-control-plane/internal/mfa/repository"
	"identity-control-plane/internal/session/domain"
	sessionrepo "identity-control-plane/internal/session/repository"
	userdomain "identity-control-plane/internal/user/domain"
	userrepo "identity-control-plane/internal/user/repository"
)

const meterName = "identity-control-plane/session"

// CreateSessionCommand carries a password login attempt.
type CreateSessionCommand struct {
	NameOrEmail       string
	Password          string
	DeviceName        string
	Mfa               mfadomain.Authentication
	RecaptchaResponse string
}

// FeatureService composes the login, refresh, and session management flows
// over a single database transaction per call. It is the only component that
// begins transactions; everything below it operates on the injected handle.
type FeatureService struct {
	db          db.Database
	auth        *auth.Service
	captcha     captcha.Verifier
	sessions    *SessionService
	failedAuth  FailedAuthCounter
	users       userrepo.Repository
	sessionRepo sessionrepo.Repository
	mfaRepo     mfarepo.Repository
	mfaAuth     *mfa.Authenticator
	mfaSvc      *mfa.Service

	loginFailsBeforeCaptcha int64

	logins    metric.Int64Counter
	refreshes metric.Int64Counter
}

// NewFeatureService wires the orchestrator and registers its meters.
func NewFeatureService(
	database db.Database,
	authSvc *auth.Service,
	captchaVerifier captcha.Verifier,
	sessions *SessionService,
	failedAuth FailedAuthCounter,
	users userrepo.Repository,
	sessionRepo sessionrepo.Repository,
	mfaRepo mfarepo.Repository,
	mfaAuth *mfa.Authenticator,
	mfaSvc *mfa.Service,
	loginFailsBeforeCaptcha int64,
) (*FeatureService, error) {
	meter := otel.Meter(meterName)
	logins, err := meter.Int64Counter("session_logins_total",
		metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("register login counter: %w", err)
	}
	refreshes, err := meter.Int64Counter("session_refreshes_total",
		metric.WithDescription("Session refresh attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("register refresh counter: %w", err)
	}
	return &FeatureService{
		db:                      database,
		auth:                    authSvc,
		captcha:                 captchaVerifier,
		sessions:                sessions,
		failedAuth:              failedAuth,
		users:                   users,
		sessionRepo:             sessionRepo,
		mfaRepo:                 mfaRepo,
		mfaAuth:                 mfaAuth,
		mfaSvc:                  mfaSvc,
		loginFailsBeforeCaptcha: loginFailsBeforeCaptcha,
		logins:                  logins,
		refreshes:               refreshes,
	}, nil
}

// CreateSession performs a password login. The ordering below is part of the
// contract: the CAPTCHA gate runs before any credential is touched, unknown
// users and wrong passwords produce the identical error, failed counters
// accumulate on the resolved account's canonical identifiers, and counters are
// cleared even when the attempt ultimately fails because the account is
// disabled.
func (f *FeatureService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*domain.Login, error) {
	fails, err := f.failedAuth.Get(ctx, cmd.NameOrEmail)
	if err != nil {
		return nil, err
	}
	if fails >= f.loginFailsBeforeCaptcha {
		if err := f.captcha.Check(ctx, cmd.RecaptchaResponse); err != nil {
			if errors.Is(err, captcha.ErrFailed) {
				f.recordLogin(ctx, "captcha_required")
				return nil, auth.ErrCaptchaRequired
			}
			return nil, err
		}
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	user, err := f.users.GetByNameOrEmail(ctx, tx, cmd.NameOrEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		// No account resolved, so the literal identifier is all there is
		// to count against.
		if err := f.failedAuth.Increment(ctx, cmd.NameOrEmail); err != nil {
			return nil, err
		}
		f.recordLogin(ctx, "invalid_credentials")
		return nil, auth.ErrInvalidCredentials
	}

	if err := f.auth.AuthenticateByPassword(ctx, tx, user.ID, cmd.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if err := f.incrementFailedAttempts(ctx, user); err != nil {
				return nil, err
			}
			f.recordLogin(ctx, "invalid_credentials")
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	mfaEnabled, err := f.mfaEnabled(ctx, tx, user.ID)
	if err != nil {
		return nil, err
	}
	if mfaEnabled {
		result, err := f.mfaAuth.Authenticate(ctx, tx, user.ID, cmd.Mfa)
		if err != nil {
			if errors.Is(err, mfa.ErrFailed) {
				if err := f.incrementFailedAttempts(ctx, user); err != nil {
					return nil, err
				}
				f.recordLogin(ctx, "mfa_failed")
				return nil, auth.ErrMfaFailed
			}
			return nil, err
		}
		if result == mfa.AuthenticateReset {
			// Recovery code consumed; the device and the code hash go
			// away in the same transaction as the login itself.
			if err := f.mfaSvc.Disable(ctx, tx, user.ID); err != nil {
				return nil, fmt.Errorf("disable mfa after recovery login: %w", err)
			}
		}
	}

	if err := f.resetFailedAttempts(ctx, user); err != nil {
		return nil, err
	}

	if !user.Enabled {
		f.recordLogin(ctx, "user_disabled")
		return nil, auth.ErrUserDisabled
	}

	login, err := f.sessions.Create(ctx, tx, user, cmd.DeviceName, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit login: %w", err)
	}
	f.recordLogin(ctx, "success")
	return login, nil
}

// RefreshSession rotates the credential pair for the session owning the
// presented refresh token. Expired sessions are deleted as cleanup before the
// call reports the token invalid.
func (f *FeatureService) RefreshSession(ctx context.Context, refreshToken string) (*domain.Login, error) {
	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	sessionID, err := f.auth.AuthenticateByRefreshToken(ctx, tx, refreshToken)
	switch {
	case errors.Is(err, auth.ErrRefreshTokenExpired):
		if _, derr := f.sessions.Delete(ctx, tx, sessionID); derr != nil {
			return nil, derr
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return nil, fmt.Errorf("commit expired session cleanup: %w", cerr)
		}
		f.recordRefresh(ctx, "expired")
		return nil, auth.ErrInvalidRefreshToken
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		f.recordRefresh(ctx, "invalid")
		return nil, auth.ErrInvalidRefreshToken
	case err != nil:
		return nil, err
	}

	login, err := f.sessions.Refresh(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			f.recordRefresh(ctx, "invalid")
			return nil, auth.ErrInvalidRefreshToken
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit refresh: %w", err)
	}
	f.recordRefresh(ctx, "success")
	return login, nil
}

// Impersonate opens a session for the target user on behalf of an
// administrator. The target's failed-login counters and last_login stay
// untouched.
func (f *FeatureService) Impersonate(ctx context.Context, accessToken, userID string) (*domain.Login, error) {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := authn.EnsureAdmin(); err != nil {
		return nil, err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	user, err := f.users.GetByID(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return nil, auth.ErrUserNotFound
	}

	login, err := f.sessions.Create(ctx, tx, user, "", false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit impersonation: %w", err)
	}
	return login, nil
}

// GetCurrentSession returns the session the access token is bound to.
func (f *FeatureService) GetCurrentSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	sess, err := f.sessionRepo.Get(ctx, tx, authn.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, auth.ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns the sessions of the given user. An empty userID means
// the caller's own; listing another user's sessions requires the admin flag.
func (f *FeatureService) ListSessions(ctx context.Context, accessToken, userID string) ([]*domain.Session, error) {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = authn.UserID
	}
	if err := authn.EnsureSelfOrAdmin(userID); err != nil {
		return nil, err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	return f.sessionRepo.ListByUser(ctx, tx, userID)
}

// DeleteSession removes one session of the given user. Self or admin only.
func (f *FeatureService) DeleteSession(ctx context.Context, accessToken, userID, sessionID string) error {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if userID == "" {
		userID = authn.UserID
	}
	if err := authn.EnsureSelfOrAdmin(userID); err != nil {
		return err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	sess, err := f.sessionRepo.Get(ctx, tx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.UserID != userID {
		return auth.ErrSessionNotFound
	}
	if _, err := f.sessions.Delete(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session delete: %w", err)
	}
	return nil
}

// DeleteCurrentSession logs the caller out of the session bound to the token.
func (f *FeatureService) DeleteCurrentSession(ctx context.Context, accessToken string) error {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	existed, err := f.sessions.Delete(ctx, tx, authn.SessionID)
	if err != nil {
		return err
	}
	if !existed {
		return auth.ErrSessionNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session delete: %w", err)
	}
	return nil
}

// DeleteUserSessions logs the given user out everywhere. Self or admin only.
func (f *FeatureService) DeleteUserSessions(ctx context.Context, accessToken, userID string) error {
	authn, err := f.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if userID == "" {
		userID = authn.UserID
	}
	if err := authn.EnsureSelfOrAdmin(userID); err != nil {
		return err
	}

	tx, err := f.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := f.sessions.DeleteByUser(ctx, tx, userID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session purge: %w", err)
	}
	return nil
}

func (f *FeatureService) mfaEnabled(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	device, err := f.mfaRepo.GetTotpDevice(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("load totp device: %w", err)
	}
	return device != nil && device.Enabled, nil
}

// incrementFailedAttempts counts a failure against both canonical identifiers
// of a resolved account, so attempts alternating between name and email still
// compound toward the CAPTCHA threshold.
func (f *FeatureService) incrementFailedAttempts(ctx context.Context, user *userdomain.User) error {
	if err := f.failedAuth.Increment(ctx, user.Name); err != nil {
		return err
	}
	if user.Email != "" {
		if err := f.failedAuth.Increment(ctx, user.Email); err != nil {
			return err
		}
	}
	return nil
}

func (f *FeatureService) resetFailedAttempts(ctx context.Context, user *userdomain.User) error {
	if err := f.failedAuth.Reset(ctx, user.Name); err != nil {
		return err
	}
	if user.Email != "" {
		if err := f.failedAuth.Reset(ctx, user.Email); err != nil {
			return err
		}
	}
	return nil
}

func (f *FeatureService) recordLogin(ctx context.Context, outcome string) {
	f.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (f *FeatureService) recordRefresh(ctx context.Context, outcome string) {
	f.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
