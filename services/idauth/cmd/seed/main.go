package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/apikey"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type seedPartner struct {
	id         string
	name       string
	status     storage.PartnerStatus
	allowedIPs []string
}

var partners = []seedPartner{
	{id: "demo-bank", name: "Demo Bank", status: storage.PartnerStatusActive},
	{id: "demo-telco", name: "Demo Telco", status: storage.PartnerStatusActive, allowedIPs: []string{"127.0.0.1/32", "10.0.0.0/8"}},
}

// OTP codes are only sent to these registered destinations. resident-0002
// has no email, so email OTP requests for it are rejected.
var residents = []storage.DemographicRecord{
	{UserID: "resident-0001", FirstName: "Amina", LastName: "Mwangi", DateOfBirth: "1990-04-12", Phone: "+255700000001", Email: "amina@example.com"},
	{UserID: "resident-0002", FirstName: "Juma", LastName: "Okello", DateOfBirth: "1985-11-30", Phone: "+255700000002"},
}

func main() {
	env := getEnv("DK_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: DK_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "datakomeza"),
		getEnv("POSTGRES_PASSWORD", "datakomeza"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "datakomeza"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	store := storage.New(pool)
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	keys, err := seedPartners(ctx, store, env, partners)
	if err != nil {
		log.Fatalf("seed partners: %v", err)
	}
	fmt.Println("✓ Partners seeded")

	for _, r := range residents {
		if err := store.UpsertDemographic(ctx, r); err != nil {
			log.Fatalf("seed demographics: %v", err)
		}
	}
	fmt.Println("✓ Demographic records seeded")

	if _, err := store.SetLock(ctx, "resident-0002", storage.AuthTypeBiometric, storage.ModalityIris, true, time.Now().UTC()); err != nil {
		log.Fatalf("seed locks: %v", err)
	}
	fmt.Println("✓ Auth locks seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, store, env); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	if env == "dev" {
		fmt.Println("\nPartner API Keys (DEV ONLY):")
		for id, key := range keys {
			fmt.Printf("  %s: %s\n", id, key)
		}
	}
}

// seedPartners issues a fresh key for every partner on each run; earlier
// keys stop working.
func seedPartners(ctx context.Context, store *storage.Store, env string, list []seedPartner) (map[string]string, error) {
	keys := make(map[string]string, len(list))
	for _, p := range list {
		if err := apikey.ValidateAllowList(p.allowedIPs); err != nil {
			return nil, fmt.Errorf("partner %s: %w", p.id, err)
		}
		key, err := apikey.Generate(env)
		if err != nil {
			return nil, err
		}
		if err := store.UpsertPartner(ctx, storage.Partner{
			ID:           p.id,
			Name:         p.name,
			Status:       p.status,
			APIKeyPrefix: key.Prefix,
			APIKeyHash:   key.Hash,
			AllowedIPs:   p.allowedIPs,
		}); err != nil {
			return nil, fmt.Errorf("partner %s: %w", p.id, err)
		}
		keys[p.id] = key.Full
	}
	return keys, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
