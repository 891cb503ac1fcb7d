package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DK_JWT_SECRET", "secret")
	t.Setenv("DK_ENV", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OTP.TTL != 5*time.Minute || cfg.OTP.MaxAttempts != 3 {
		t.Fatalf("unexpected otp defaults %+v", cfg.OTP)
	}
	if cfg.PSUT.ExpiryDays != 30 {
		t.Fatalf("expected 30 day psut expiry, got %d", cfg.PSUT.ExpiryDays)
	}
	if cfg.Kafka.Enabled() {
		t.Fatalf("expected kafka disabled without brokers")
	}
	if cfg.SweepInterval != 0 {
		t.Fatalf("expected sweeper disabled by default")
	}
	if cfg.GRPC.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected grpc addr %s", cfg.GRPC.Addr())
	}
}

func TestLoadRejectsBadGRPCPort(t *testing.T) {
	t.Setenv("DK_JWT_SECRET", "secret")
	t.Setenv("DK_ENV", "dev")
	t.Setenv("DK_GRPC_PORT", "70000")

	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid grpc port error")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DK_JWT_SECRET", "secret")
	t.Setenv("DK_ENV", "dev")
	t.Setenv("DK_OTP_MAX_ATTEMPTS", "5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DK_SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OTP.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.OTP.MaxAttempts)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
}

func TestLoadRequiresSecretAndClientsOutsideDev(t *testing.T) {
	t.Setenv("DK_ENV", "dev")
	t.Setenv("DK_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without jwt secret")
	}

	t.Setenv("DK_JWT_SECRET", "secret")
	t.Setenv("DK_ENV", "prod")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without client urls in prod")
	}
}
