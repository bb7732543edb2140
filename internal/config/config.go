// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port used for revocation markers and failed-login counters.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "icp-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "icp-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTL is the access token lifetime (e.g. "5m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime since last rotation (e.g. "720h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginFailsBeforeCaptcha is the failed-login count at which a CAPTCHA response becomes mandatory.
	LoginFailsBeforeCaptcha int64 `mapstructure:"LOGIN_FAILS_BEFORE_CAPTCHA"`
	// FailedAuthCountTTL is the sliding expiry of failed-login counters (e.g. "1h").
	FailedAuthCountTTL string `mapstructure:"FAILED_AUTH_COUNT_TTL"`
	// RecaptchaSecret is the reCAPTCHA siteverify secret. Empty disables CAPTCHA verification
	// (every check passes); must not be empty when APP_ENV=production.
	RecaptchaSecret string `mapstructure:"RECAPTCHA_SECRET"`
	// RecaptchaSiteverifyURL overrides the siteverify endpoint; used in tests.
	RecaptchaSiteverifyURL string `mapstructure:"RECAPTCHA_SITEVERIFY_URL"`
	// TOTPIssuer is the issuer label embedded in otpauth:// provisioning URIs.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
	// SentryDSN enables Sentry error reporting when set.
	SentryDSN string `mapstructure:"SENTRY_DSN"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. http://localhost:4317); empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "icp-auth")
	v.SetDefault("JWT_AUDIENCE", "icp-api")
	v.SetDefault("ACCESS_TOKEN_TTL", "5m")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_FAILS_BEFORE_CAPTCHA", 3)
	v.SetDefault("FAILED_AUTH_COUNT_TTL", "1h")
	v.SetDefault("RECAPTCHA_SECRET", "")
	v.SetDefault("RECAPTCHA_SITEVERIFY_URL", "")
	v.SetDefault("TOTP_ISSUER", "identity-control-plane")
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.RecaptchaSecret == "" && cfg.Env == "production" {
		return nil, errors.New("config: RECAPTCHA_SECRET must be set when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.LoginFailsBeforeCaptcha <= 0 {
		return nil, errors.New("config: LOGIN_FAILS_BEFORE_CAPTCHA must be positive")
	}

	return &cfg, nil
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTokenTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// FailedAuthTTL parses FailedAuthCountTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) FailedAuthTTL() time.Duration {
	d, err := time.ParseDuration(c.FailedAuthCountTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
