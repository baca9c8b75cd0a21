// seed creates development accounts for local testing. Idempotent: existing usernames are skipped.
// Set SEED_PASSWORD to override the default development password.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"edge-guard/backend/internal/account/domain"
	"edge-guard/backend/internal/account/repository"
	"edge-guard/backend/internal/config"
	"edge-guard/backend/internal/db"
	"edge-guard/backend/internal/security"
)

const defaultDevPassword = "password123"

var devAccounts = []struct {
	username string
	enabled  bool
}{
	{"dev", true},
	{"member", true},
	{"disabled", false},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to seed when APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = defaultDevPassword
	}
	hash, err := security.NewHasher(cfg.BcryptCost).Encode([]byte(password))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := repository.NewPostgresRepository(conn)
	for _, d := range devAccounts {
		existing, err := repo.GetByUsername(ctx, d.username)
		if err != nil {
			log.Fatalf("seed: lookup %s: %v", d.username, err)
		}
		if existing != nil {
			log.Printf("seed: %s already exists (id %d), skipping", d.username, existing.ID)
			continue
		}
		now := time.Now().UTC()
		acct := &domain.Account{
			Username:     d.username,
			PasswordHash: hash,
			Enabled:      d.enabled,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repo.Create(ctx, acct); err != nil {
			log.Fatalf("seed: create %s: %v", d.username, err)
		}
		log.Printf("seed: created %s (id %d)", d.username, acct.ID)
	}
}
