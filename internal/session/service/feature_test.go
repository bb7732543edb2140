package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"identity-control-plane/internal/auth"
	"identity-control-plane/internal/mfa"
	mfadomain "identity-control-plane/internal/mfa/domain"
)

func TestFeature_LoginAndRefreshScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)

	login, err := f.feature.CreateSession(ctx, CreateSessionCommand{
		NameOrEmail: "alice",
		Password:    "p1",
		DeviceName:  "laptop",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if login.Session.ID == "" || login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("login should carry a session id and two tokens")
	}
	if login.AccessToken == login.RefreshToken {
		t.Fatal("tokens must be distinct")
	}

	refreshed, err := f.feature.RefreshSession(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if refreshed.Session.ID != login.Session.ID {
		t.Error("refresh must keep the session id")
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("refresh must rotate the refresh token")
	}

	// The original refresh token is dead after rotation.
	if _, err := f.feature.RefreshSession(ctx, login.RefreshToken); !errors.Is(err, auth.ErrInvalidRefreshToken) {
		t.Errorf("stale refresh token: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestFeature_LoginByEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)

	login, err := f.feature.CreateSession(context.Background(), CreateSessionCommand{
		NameOrEmail: "Alice@Example.com",
		Password:    "p1",
	})
	if err != nil {
		t.Fatalf("CreateSession by email: %v", err)
	}
	if login.User.ID != "u1" {
		t.Errorf("resolved user = %q, want u1", login.User.ID)
	}
}

func TestFeature_EnumerationResistance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)

	_, unknownErr := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "nobody", Password: "p1"})
	_, wrongErr := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "alice", Password: "wrong"})

	if !errors.Is(unknownErr, auth.ErrInvalidCredentials) || !errors.Is(wrongErr, auth.ErrInvalidCredentials) {
		t.Fatalf("both failures must be ErrInvalidCredentials, got %v / %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Error("unknown user and wrong password must be externally identical")
	}
}

func TestFeature_FailedCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)

	// Unresolved identifier: only the literal string is counted.
	_, _ = f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "ghost", Password: "x"})
	if n, _ := f.failed.Get(ctx, "ghost"); n != 1 {
		t.Errorf("literal counter = %d, want 1", n)
	}

	// Wrong password via email: both canonical identifiers accumulate.
	_, _ = f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "alice@example.com", Password: "wrong"})
	if n, _ := f.failed.Get(ctx, "alice"); n != 1 {
		t.Errorf("name counter = %d, want 1", n)
	}
	if n, _ := f.failed.Get(ctx, "alice@example.com"); n != 1 {
		t.Errorf("email counter = %d, want 1", n)
	}

	// A successful login clears both, regardless of identifier form used.
	if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "alice", Password: "p1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if n, _ := f.failed.Get(ctx, "alice"); n != 0 {
		t.Errorf("name counter after success = %d, want 0", n)
	}
	if n, _ := f.failed.Get(ctx, "alice@example.com"); n != 0 {
		t.Errorf("email counter after success = %d, want 0", n)
	}
}

func TestFeature_CaptchaThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "bob", "bob@example.com", "p1", true, false)

	for i := 0; i < 3; i++ {
		if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "bob", Password: "wrong"}); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if f.captcha.calls != 0 {
		t.Fatalf("captcha called %d times below threshold", f.captcha.calls)
	}

	// At the threshold, even the correct password is gated first.
	if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "bob", Password: "p1"}); !errors.Is(err, auth.ErrCaptchaRequired) {
		t.Fatalf("4th attempt without captcha: want ErrCaptchaRequired, got %v", err)
	}
	if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "bob", Password: "p1", RecaptchaResponse: "nope"}); !errors.Is(err, auth.ErrCaptchaRequired) {
		t.Fatalf("failing captcha: want ErrCaptchaRequired, got %v", err)
	}

	login, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "bob", Password: "p1", RecaptchaResponse: "ok"})
	if err != nil {
		t.Fatalf("passing captcha: %v", err)
	}
	if login.Session.ID == "" {
		t.Fatal("expected a session")
	}

	// Success reset the counters; the next attempt is no longer gated.
	f.captcha.calls = 0
	if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "bob", Password: "p1"}); err != nil {
		t.Fatalf("post-reset login: %v", err)
	}
	if f.captcha.calls != 0 {
		t.Error("captcha should not be consulted after counters reset")
	}
}

func TestFeature_MfaTotpRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)
	f.mfaRepo.devices["u1"] = &mfadomain.TotpDevice{
		UserID: "u1", Secret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", Enabled: true,
	}

	// Correct password, no MFA assertion.
	if _, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "alice", Password: "p1"}); !errors.Is(err, auth.ErrMfaFailed) {
		t.Fatalf("missing assertion: want ErrMfaFailed, got %v", err)
	}

	// Correct password, wrong code. Both canonical counters accumulate.
	_, err := f.feature.CreateSession(ctx, CreateSessionCommand{
		NameOrEmail: "alice",
		Password:    "p1",
		Mfa:         mfadomain.Authentication{TotpCode: "000000"},
	})
	if !errors.Is(err, auth.ErrMfaFailed) {
		t.Fatalf("wrong code: want ErrMfaFailed, got %v", err)
	}
	if n, _ := f.failed.Get(ctx, "alice"); n != 2 {
		t.Errorf("name counter = %d, want 2", n)
	}
	if n, _ := f.failed.Get(ctx, "alice@example.com"); n != 2 {
		t.Errorf("email counter = %d, want 2", n)
	}
}

func TestFeature_RecoveryCodeLoginIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)
	f.mfaRepo.devices["u1"] = &mfadomain.TotpDevice{
		UserID: "u1", Secret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", Enabled: true,
	}
	seedRecoveryCode(t, f, "u1", "ABCD-EFGH-JKLM-NPQR")

	login, err := f.feature.CreateSession(ctx, CreateSessionCommand{
		NameOrEmail: "alice",
		Password:    "p1",
		Mfa:         mfadomain.Authentication{RecoveryCode: "ABCD-EFGH-JKLM-NPQR"},
	})
	if err != nil {
		t.Fatalf("recovery login: %v", err)
	}
	if login.Session.ID == "" {
		t.Fatal("expected a session")
	}

	// The recovery login consumed MFA entirely.
	if f.mfaRepo.devices["u1"] != nil {
		t.Error("totp device should be removed after recovery login")
	}
	if f.mfaRepo.recovery["u1"] != "" {
		t.Error("recovery hash should be removed after recovery login")
	}

	// Re-enable MFA; the spent code must not work again.
	f.mfaRepo.devices["u1"] = &mfadomain.TotpDevice{
		UserID: "u1", Secret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", Enabled: true,
	}
	seedRecoveryCode(t, f, "u1", "WXYZ-2345-6789-ABCD")

	_, err = f.feature.CreateSession(ctx, CreateSessionCommand{
		NameOrEmail: "alice",
		Password:    "p1",
		Mfa:         mfadomain.Authentication{RecoveryCode: "ABCD-EFGH-JKLM-NPQR"},
	})
	if !errors.Is(err, auth.ErrMfaFailed) {
		t.Errorf("spent recovery code after re-enable: want ErrMfaFailed, got %v", err)
	}
}

func TestFeature_UserDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", false, false)

	_ = f.failed.Increment(ctx, "alice")

	_, err := f.feature.CreateSession(ctx, CreateSessionCommand{NameOrEmail: "alice", Password: "p1"})
	if !errors.Is(err, auth.ErrUserDisabled) {
		t.Fatalf("disabled user: want ErrUserDisabled, got %v", err)
	}

	// Legitimate attempts against a disabled account still clear lockout
	// pressure.
	if n, _ := f.failed.Get(ctx, "alice"); n != 0 {
		t.Errorf("counter = %d, want 0", n)
	}
	if sessions, _ := f.sessRepo.ListByUser(ctx, nil, "u1"); len(sessions) != 0 {
		t.Error("no session may exist for a disabled-user attempt")
	}
}

func TestFeature_RefreshExpiredSessionIsCleanedUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	login, err := f.sessions.Create(ctx, nil, user, "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Age the session past the refresh lifetime.
	stale := time.Now().UTC().Add(-f.refreshTTL - time.Hour)
	f.sessRepo.m[login.Session.ID].UpdatedAt = stale

	if _, err := f.feature.RefreshSession(ctx, login.RefreshToken); !errors.Is(err, auth.ErrInvalidRefreshToken) {
		t.Fatalf("expired refresh: want ErrInvalidRefreshToken, got %v", err)
	}
	if f.sessRepo.m[login.Session.ID] != nil {
		t.Error("expired session should be deleted as cleanup")
	}
}

func TestFeature_Impersonate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.addUser(t, "a1", "root", "root@example.com", "p1", true, true)
	f.addUser(t, "u1", "alice", "alice@example.com", "p1", true, false)

	adminLogin, err := f.sessions.Create(ctx, nil, admin, "", false)
	if err != nil {
		t.Fatalf("admin session: %v", err)
	}

	login, err := f.feature.Impersonate(ctx, adminLogin.AccessToken, "u1")
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	if login.User.ID != "u1" {
		t.Errorf("impersonated user = %q, want u1", login.User.ID)
	}
	if f.users.byID["u1"].LastLogin != nil {
		t.Error("impersonation must not bump the target's last_login")
	}

	if _, err := f.feature.Impersonate(ctx, adminLogin.AccessToken, "ghost"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Errorf("unknown target: want ErrUserNotFound, got %v", err)
	}
}

func TestFeature_ImpersonateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	login, _ := f.sessions.Create(ctx, nil, user, "", false)

	if _, err := f.feature.Impersonate(ctx, login.AccessToken, "u1"); !errors.Is(err, auth.ErrNotAdmin) {
		t.Errorf("non-admin impersonation: want ErrNotAdmin, got %v", err)
	}
}

func TestFeature_GetCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	login, _ := f.sessions.Create(ctx, nil, user, "laptop", false)

	sess, err := f.feature.GetCurrentSession(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("GetCurrentSession: %v", err)
	}
	if sess.ID != login.Session.ID || sess.DeviceName != "laptop" {
		t.Errorf("unexpected session: %+v", sess)
	}

	if _, err := f.feature.GetCurrentSession(ctx, "garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("bad token: want ErrInvalidToken, got %v", err)
	}
}

func TestFeature_ListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	other := f.addUser(t, "u2", "bob", "", "p1", true, false)
	admin := f.addUser(t, "a1", "root", "", "p1", true, true)

	_, _ = f.sessions.Create(ctx, nil, user, "laptop", false)
	userLogin, _ := f.sessions.Create(ctx, nil, user, "phone", false)
	_, _ = f.sessions.Create(ctx, nil, other, "", false)
	adminLogin, _ := f.sessions.Create(ctx, nil, admin, "", false)

	own, err := f.feature.ListSessions(ctx, userLogin.AccessToken, "")
	if err != nil {
		t.Fatalf("ListSessions self: %v", err)
	}
	if len(own) != 2 {
		t.Errorf("own sessions = %d, want 2", len(own))
	}

	if _, err := f.feature.ListSessions(ctx, userLogin.AccessToken, "u2"); !errors.Is(err, auth.ErrNotSelfOrAdmin) {
		t.Errorf("listing another user: want ErrNotSelfOrAdmin, got %v", err)
	}

	theirs, err := f.feature.ListSessions(ctx, adminLogin.AccessToken, "u2")
	if err != nil {
		t.Fatalf("admin ListSessions: %v", err)
	}
	if len(theirs) != 1 {
		t.Errorf("admin view = %d sessions, want 1", len(theirs))
	}
}

func TestFeature_DeleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	other := f.addUser(t, "u2", "bob", "", "p1", true, false)

	userLogin, _ := f.sessions.Create(ctx, nil, user, "laptop", false)
	otherLogin, _ := f.sessions.Create(ctx, nil, other, "", false)

	// A session id belonging to someone else reads as absent.
	if err := f.feature.DeleteSession(ctx, userLogin.AccessToken, "", otherLogin.Session.ID); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Errorf("foreign session: want ErrSessionNotFound, got %v", err)
	}

	if err := f.feature.DeleteSession(ctx, userLogin.AccessToken, "", userLogin.Session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if f.sessRepo.m[userLogin.Session.ID] != nil {
		t.Error("session should be gone")
	}
}

func TestFeature_DeleteCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	login, _ := f.sessions.Create(ctx, nil, user, "", false)

	if err := f.feature.DeleteCurrentSession(ctx, login.AccessToken); err != nil {
		t.Fatalf("DeleteCurrentSession: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, login.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("token after logout: want ErrInvalidToken, got %v", err)
	}
	if err := f.feature.DeleteCurrentSession(ctx, login.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("second logout: want ErrInvalidToken, got %v", err)
	}
}

func TestFeature_DeleteUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "u1", "alice", "", "p1", true, false)
	admin := f.addUser(t, "a1", "root", "", "p1", true, true)

	l1, _ := f.sessions.Create(ctx, nil, user, "laptop", false)
	l2, _ := f.sessions.Create(ctx, nil, user, "phone", false)
	adminLogin, _ := f.sessions.Create(ctx, nil, admin, "", false)

	if err := f.feature.DeleteUserSessions(ctx, adminLogin.AccessToken, "u1"); err != nil {
		t.Fatalf("DeleteUserSessions: %v", err)
	}
	for _, token := range []string{l1.AccessToken, l2.AccessToken} {
		if _, err := f.auth.Authenticate(ctx, token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("token should be dead, got %v", err)
		}
	}
	if sessions, _ := f.sessRepo.ListByUser(ctx, nil, "u1"); len(sessions) != 0 {
		t.Error("all of the user's sessions should be gone")
	}
}

func seedRecoveryCode(t *testing.T, f *fixture, userID, code string) {
	t.Helper()
	if err := f.mfaRepo.SetRecoveryCodeHash(context.Background(), nil, userID, mfa.HashRecoveryCode(code)); err != nil {
		t.Fatalf("seed recovery code: %v", err)
	}
}
