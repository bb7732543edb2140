package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"identity-control-plane/internal/auth"
	"identity-control-plane/internal/cache"
	"identity-control-plane/internal/captcha"
	"identity-control-plane/internal/config"
	"identity-control-plane/internal/db"
	"identity-control-plane/internal/mfa"
	mfarepo "identity-control-plane/internal/mfa/repository"
	"identity-control-plane/internal/security"
	"identity-control-plane/internal/server"
	sessionrepo "identity-control-plane/internal/session/repository"
	sessionservice "identity-control-plane/internal/session/service"
	telemetryotel "identity-control-plane/internal/telemetry/otel"
	userrepo "identity-control-plane/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			log.Fatalf("sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "identity-control-plane", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	redis, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redis.Close()

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}

	users := userrepo.NewPostgresRepository()
	sessions := sessionrepo.NewPostgresRepository()
	mfaRepository := mfarepo.NewPostgresRepository()

	accessTokens := auth.NewAccessTokenService(privateKey, publicKey, redis, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)
	authSvc := auth.NewService(accessTokens, hasher, users, sessions, cfg.RefreshTTL())

	failedAuth := sessionservice.NewCacheFailedAuthCounter(redis, cfg.FailedAuthTTL())
	sessionSvc := sessionservice.NewSessionService(sessions, users, accessTokens, failedAuth)

	totp := mfa.NewTotp(mfa.TotpConfig{Issuer: cfg.TOTPIssuer})
	mfaAuth := mfa.NewAuthenticator(mfaRepository, totp)
	mfaSvc := mfa.NewService(mfaRepository, totp)

	var verifier captcha.Verifier = captcha.Disabled{}
	if cfg.RecaptchaSecret != "" {
		verifier = captcha.NewRecaptchaVerifier(cfg.RecaptchaSecret, cfg.RecaptchaSiteverifyURL)
	}

	// The platform gateway mounts the feature service in-process; building it
	// here surfaces config, key, and meter errors before the listener opens.
	if _, err := sessionservice.NewFeatureService(
		database, authSvc, verifier, sessionSvc, failedAuth,
		users, sessions, mfaRepository, mfaAuth, mfaSvc,
		cfg.LoginFailsBeforeCaptcha,
	); err != nil {
		log.Fatalf("session service: %v", err)
	}

	srv := server.New(server.Deps{
		DB:    database,
		Cache: redis,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	go srv.WatchReadiness(watchCtx, 15*time.Second)

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := srv.GRPC.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	stopWatch()
	srv.Stop()
	log.Println("gRPC server stopped")
}
