package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-control-plane/internal/cache"
	userdomain "identity-control-plane/internal/user/domain"
)

// invalidatedKeyPrefix namespaces revocation markers in the shared cache.
const invalidatedKeyPrefix = "auth:invalid:"

// AccessClaims holds the JWT claims of an access token. The session's current
// refresh-token hash travels in "rth" so revocation lookups can be keyed to it.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID        string `json:"session_id"`
	Admin            bool   `json:"admin"`
	EmailVerified    bool   `json:"email_verified"`
	RefreshTokenHash string `json:"rth"`
}

// AccessTokenService issues and verifies signed access tokens and tracks
// revocation markers in the shared cache. The signing key pair is loaded once
// at startup and passed in; there is no ambient key state.
type AccessTokenService struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
	cache      *cache.Client
	now        func() time.Time
}

// NewAccessTokenService returns an AccessTokenService signing with the given
// private key (RS256 or ES256). ttl bounds both token lifetime and the
// revocation-marker expiry.
func NewAccessTokenService(privateKey crypto.Signer, publicKey crypto.PublicKey, c *cache.Client, issuer, audience string, ttl time.Duration) *AccessTokenService {
	return &AccessTokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		cache:      c,
		now:        time.Now,
	}
}

// TTL returns the configured access-token lifetime.
func (s *AccessTokenService) TTL() time.Duration {
	return s.ttl
}

// Issue encodes a signed, time-limited access token for the user bound to the
// session and its current refresh-token hash.
func (s *AccessTokenService) Issue(user *userdomain.User, sessionID, refreshTokenHash string) (string, error) {
	now := s.now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SessionID:        sessionID,
		Admin:            user.Admin,
		EmailVerified:    user.EmailVerified,
		RefreshTokenHash: refreshTokenHash,
	}

	var method jwt.SigningMethod
	switch s.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(s.privateKey)
}

// Verify parses and validates the token (signature, exp, iss, aud) and
// returns the decoded Authentication, or nil on any failure. Side-effect-free:
// revocation is checked separately via IsInvalidated.
func (s *AccessTokenService) Verify(tokenString string) *Authentication {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return s.publicKey, nil
		default:
			return nil, ErrInvalidToken
		}
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil
	}
	return &Authentication{
		UserID:           claims.Subject,
		SessionID:        claims.SessionID,
		RefreshTokenHash: claims.RefreshTokenHash,
		Admin:            claims.Admin,
		EmailVerified:    claims.EmailVerified,
	}
}

// Invalidate writes a revocation marker for the refresh-token hash. The
// marker outlives every access token issued against the session, so stale
// tokens die system-wide before their natural expiry.
func (s *AccessTokenService) Invalidate(ctx context.Context, refreshTokenHash string) error {
	return s.cache.SetWithTTL(ctx, invalidatedKeyPrefix+refreshTokenHash, "1", s.ttl)
}

// IsInvalidated reports whether a revocation marker exists for the hash.
// Cache unavailability surfaces as an error, not as a verification failure.
func (s *AccessTokenService) IsInvalidated(ctx context.Context, refreshTokenHash string) (bool, error) {
	return s.cache.Exists(ctx, invalidatedKeyPrefix+refreshTokenHash)
}
