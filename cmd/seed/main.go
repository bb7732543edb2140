// seed inserts a development admin account for local testing.
// Idempotent: skips the insert if the admin user already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"identity-control-plane/internal/config"
	"identity-control-plane/internal/db"
	"identity-control-plane/internal/security"
	userdomain "identity-control-plane/internal/user/domain"
	userrepo "identity-control-plane/internal/user/repository"
)

const (
	adminName     = "admin"
	adminEmail    = "admin@example.com"
	adminPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	tx, err := database.Begin(ctx)
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	users := userrepo.NewPostgresRepository()

	existing, err := users.GetByNameOrEmail(ctx, tx, adminName)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", adminName)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(adminPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	admin := &userdomain.User{
		ID:            uuid.New().String(),
		Name:          adminName,
		Email:         adminEmail,
		EmailVerified: true,
		Enabled:       true,
		Admin:         true,
		PasswordHash:  passwordHash,
		CreatedAt:     time.Now().UTC(),
	}
	if err := users.Create(ctx, tx, admin); err != nil {
		log.Fatalf("create admin user: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit: %v", err)
	}

	log.Println("Seed completed successfully.")
	log.Printf("Admin login: %s / %s", adminName, adminPassword)
}
