package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AROSTA-MOSTER/datakomeza/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	RequestLimit  int
	RequestWindow time.Duration
}

type PSUTConfig struct {
	ExpiryDays int
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type KafkaTopics struct {
	Notifications string
	AuthEvents    string
	AuthLocks     string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

// Enabled is false when no brokers are configured; notifications then go to the log.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ClientsConfig struct {
	BiometricURL string
	EKYCURL      string
	Timeout      time.Duration
}

// GRPCConfig serves only the standard health service; Port 0 disables it.
type GRPCConfig struct {
	Host string
	Port int
}

func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type Config struct {
	App              base.AppConfig
	DB               DBConfig
	OTP              OTPConfig
	PSUT             PSUTConfig
	RateLimit        RateLimitConfig
	Kafka            KafkaConfig
	Clients          ClientsConfig
	Auth             AuthConfig
	GRPC             GRPCConfig
	CallTimeout      time.Duration
	SweepInterval    time.Duration
	PartnerRefresh   time.Duration
	OTELEndpoint     string
	ShutdownDeadline time.Duration
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("DK_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "datakomeza"),
			User:     envString("POSTGRES_USER", "datakomeza"),
			Password: envString("POSTGRES_PASSWORD", "datakomeza"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		OTP: OTPConfig{
			TTL:           envDuration("DK_OTP_TTL", 5*time.Minute),
			MaxAttempts:   envInt("DK_OTP_MAX_ATTEMPTS", 3),
			RequestLimit:  envInt("DK_OTP_REQUEST_LIMIT", 5),
			RequestWindow: envDuration("DK_OTP_REQUEST_WINDOW", 15*time.Minute),
		},
		PSUT: PSUTConfig{
			ExpiryDays: envInt("DK_PSUT_EXPIRY_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     envString("DK_RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword: envString("DK_RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       envInt("DK_RATE_LIMIT_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", nil),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", "idauth"),
			Topics: KafkaTopics{
				Notifications: envString("KAFKA_NOTIFICATIONS_TOPIC", "notifications.otp"),
				AuthEvents:    envString("KAFKA_AUTH_EVENTS_TOPIC", "auth.events"),
				AuthLocks:     envString("KAFKA_AUTH_LOCKS_TOPIC", "auth.locks"),
				DeadLetter:    envString("KAFKA_DLQ_TOPIC", "dead_letter"),
			},
		},
		Clients: ClientsConfig{
			BiometricURL: envString("DK_BIOMETRIC_URL", ""),
			EKYCURL:      envString("DK_EKYC_URL", ""),
			Timeout:      envDuration("DK_CLIENT_TIMEOUT", 3*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: envString("DK_JWT_SECRET", ""),
			JWTIssuer: envString("DK_JWT_ISSUER", "datakomeza"),
		},
		GRPC: GRPCConfig{
			Host: envString("DK_GRPC_HOST", "0.0.0.0"),
			Port: envInt("DK_GRPC_PORT", 9090),
		},
		CallTimeout:      envDuration("DK_CALL_TIMEOUT", 5*time.Second),
		SweepInterval:    envDuration("DK_SWEEP_INTERVAL", 0),
		PartnerRefresh:   envDuration("DK_PARTNER_REFRESH", time.Minute),
		OTELEndpoint:     envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ShutdownDeadline: envDuration("DK_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("DK_JWT_SECRET is required")
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("DK_OTP_TTL must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("DK_OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.RequestLimit <= 0 || c.OTP.RequestWindow <= 0 {
		return fmt.Errorf("DK_OTP_REQUEST_LIMIT and DK_OTP_REQUEST_WINDOW must be positive")
	}
	if c.PSUT.ExpiryDays <= 0 {
		return fmt.Errorf("DK_PSUT_EXPIRY_DAYS must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("DK_CALL_TIMEOUT must be positive")
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid DK_GRPC_PORT %d", c.GRPC.Port)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("DK_SWEEP_INTERVAL must not be negative")
	}
	if c.Clients.BiometricURL == "" || c.Clients.EKYCURL == "" {
		if !c.App.IsLocal() {
			return fmt.Errorf("DK_BIOMETRIC_URL and DK_EKYC_URL are required outside dev")
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
