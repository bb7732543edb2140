package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"identity-control-plane/internal/auth"
	"identity-control-plane/internal/cache"
	"identity-control-plane/internal/captcha"
	"identity-control-plane/internal/mfa"
	mfadomain "identity-control-plane/internal/mfa/domain"
	"identity-control-plane/internal/security"
	sessiondomain "identity-control-plane/internal/session/domain"
	userdomain "identity-control-plane/internal/user/domain"
)

// memTx satisfies pgx.Tx for repositories that ignore the handle. Only
// Commit and Rollback are callable.
type memTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *memTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type memDB struct {
	mu  sync.Mutex
	txs []*memTx
}

func (d *memDB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &memTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

type memUserRepo struct {
	mu   sync.Mutex
	byID map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) GetByID(ctx context.Context, tx pgx.Tx, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *memUserRepo) GetByNameOrEmail(ctx context.Context, tx pgx.Tx, identifier string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	normalized := userdomain.NormalizeIdentifier(identifier)
	for _, u := range r.byID {
		if userdomain.NormalizeIdentifier(u.Name) == normalized ||
			(u.Email != "" && userdomain.NormalizeIdentifier(u.Email) == normalized) {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, tx pgx.Tx, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *u
	r.byID[u.ID] = &copied
	return nil
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastLogin = &at
	}
	return nil
}

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessionRepo) Get(ctx context.Context, tx pgx.Tx, id string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id], nil
}

func (r *memSessionRepo) GetByRefreshTokenHash(ctx context.Context, tx pgx.Tx, hash string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.RefreshTokenHash == hash {
			return s, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(ctx context.Context, tx pgx.Tx, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.m[s.ID] = &copied
	return nil
}

func (r *memSessionRepo) UpdateRefreshTokenHash(ctx context.Context, tx pgx.Tx, id, oldHash, newHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.RefreshTokenHash != oldHash {
		return false, nil
	}
	s.RefreshTokenHash = newHash
	s.UpdatedAt = at
	return true, nil
}

func (r *memSessionRepo) Delete(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[id]
	delete(r.m, id)
	return ok, nil
}

func (r *memSessionRepo) DeleteByUser(ctx context.Context, tx pgx.Tx, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hashes []string
	for id, s := range r.m {
		if s.UserID == userID {
			hashes = append(hashes, s.RefreshTokenHash)
			delete(r.m, id)
		}
	}
	return hashes, nil
}

type memMfaRepo struct {
	mu       sync.Mutex
	devices  map[string]*mfadomain.TotpDevice
	recovery map[string]string
}

func newMemMfaRepo() *memMfaRepo {
	return &memMfaRepo{
		devices:  make(map[string]*mfadomain.TotpDevice),
		recovery: make(map[string]string),
	}
}

func (r *memMfaRepo) GetTotpDevice(ctx context.Context, tx pgx.Tx, userID string) (*mfadomain.TotpDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[userID], nil
}

func (r *memMfaRepo) CreateTotpDevice(ctx context.Context, tx pgx.Tx, d *mfadomain.TotpDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *d
	r.devices[d.UserID] = &copied
	return nil
}

func (r *memMfaRepo) EnableTotpDevice(ctx context.Context, tx pgx.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[userID]; ok {
		d.Enabled = true
	}
	return nil
}

func (r *memMfaRepo) DeleteTotpDevicesByUser(ctx context.Context, tx pgx.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, userID)
	return nil
}

func (r *memMfaRepo) GetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recovery[userID], nil
}

func (r *memMfaRepo) SetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery[userID] = hash
	return nil
}

func (r *memMfaRepo) DeleteRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recovery, userID)
	return nil
}

// stubCaptcha passes only the literal response "ok".
type stubCaptcha struct {
	mu    sync.Mutex
	calls int
}

func (s *stubCaptcha) Check(ctx context.Context, response string) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if response != "ok" {
		return captcha.ErrFailed
	}
	return nil
}

type fixture struct {
	feature    *FeatureService
	sessions   *SessionService
	auth       *auth.Service
	tokens     *auth.AccessTokenService
	users      *memUserRepo
	sessRepo   *memSessionRepo
	mfaRepo    *memMfaRepo
	mfaSvc     *mfa.Service
	failed     *CacheFailedAuthCounter
	captcha    *stubCaptcha
	mr         *miniredis.Miniredis
	hasher     *security.Hasher
	refreshTTL time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })

	signer, pub, err := security.NewTestKeyPair()
	if err != nil {
		t.Fatalf("NewTestKeyPair: %v", err)
	}

	users := newMemUserRepo()
	sessRepo := newMemSessionRepo()
	mfaRepo := newMemMfaRepo()
	hasher := security.NewHasher(bcrypt.MinCost)

	tokens := auth.NewAccessTokenService(signer, pub, c, "icp-auth", "icp-api", 5*time.Minute)
	refreshTTL := 30 * 24 * time.Hour
	authSvc := auth.NewService(tokens, hasher, users, sessRepo, refreshTTL)

	failed := NewCacheFailedAuthCounter(c, time.Hour)
	sessionSvc := NewSessionService(sessRepo, users, tokens, failed)

	totp := mfa.NewTotp(mfa.TotpConfig{Issuer: "test"})
	mfaAuth := mfa.NewAuthenticator(mfaRepo, totp)
	mfaSvc := mfa.NewService(mfaRepo, totp)

	cap := &stubCaptcha{}
	feature, err := NewFeatureService(
		&memDB{}, authSvc, cap, sessionSvc, failed,
		users, sessRepo, mfaRepo, mfaAuth, mfaSvc, 3,
	)
	if err != nil {
		t.Fatalf("NewFeatureService: %v", err)
	}

	return &fixture{
		feature:    feature,
		sessions:   sessionSvc,
		auth:       authSvc,
		tokens:     tokens,
		users:      users,
		sessRepo:   sessRepo,
		mfaRepo:    mfaRepo,
		mfaSvc:     mfaSvc,
		failed:     failed,
		captcha:    cap,
		mr:         mr,
		hasher:     hasher,
		refreshTTL: refreshTTL,
	}
}

func (f *fixture) addUser(t *testing.T, id, name, email, password string, enabled, admin bool) *userdomain.User {
	t.Helper()
	u := &userdomain.User{
		ID:            id,
		Name:          name,
		Email:         email,
		EmailVerified: true,
		Enabled:       enabled,
		Admin:         admin,
		CreatedAt:     time.Now().UTC(),
	}
	if password != "" {
		hash, err := f.hasher.Hash([]byte(password))
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		u.PasswordHash = hash
	}
	if err := f.users.Create(context.Background(), nil, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return f.users.byID[id]
}
