package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/auth"
	"github.com/AROSTA-MOSTER/datakomeza/libs/health"
	"github.com/AROSTA-MOSTER/datakomeza/libs/httpmiddleware"
	"github.com/AROSTA-MOSTER/datakomeza/libs/kafka"
	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/libs/metrics"
	"github.com/AROSTA-MOSTER/datakomeza/libs/trace"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/audit"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/authn"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/clients"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/config"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/consumer"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/handlers"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/notify"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/otp"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/partners"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/psut"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/rate"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/sweep"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env, cfg.OTELEndpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := storage.New(pool)

	ready := health.NewManager(false, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
	}

	limiter, closeLimiter := buildLimiter(cfg, logger)
	defer closeLimiter()

	otpManager := otp.NewManager(store, buildNotifier(cfg, publisher, logger), limiter, otp.Config{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, logger, otp.NewMetrics(registry))
	issuer := psut.NewIssuer(store, cfg.PSUT.ExpiryDays, logger)

	var eventPublisher kafka.Publisher
	if publisher != nil {
		eventPublisher = kafka.NewDLQPublisher(publisher, publisher, cfg.Kafka.Topics.DeadLetter, logger)
	}
	recorder := audit.NewRecorder(store, eventPublisher, cfg.Kafka.Topics.AuthEvents, logger, audit.NewMetrics(registry))

	partnerCache := partners.NewCache(store)
	if err := partnerCache.Load(ctx); err != nil {
		logger.Error("partner cache load failed", "error", err)
		os.Exit(1)
	}
	partnerCache.StartAutoRefresh(ctx, cfg.PartnerRefresh, partners.NewMetrics(registry), logger)

	httpClient := &http.Client{}
	authenticator := authn.New(authn.Deps{
		OTP:          otpManager,
		Tokens:       issuer,
		Locks:        store,
		Audit:        recorder,
		Demographics: store,
		Biometric:    clients.NewBiometricClient(cfg.Clients.BiometricURL, cfg.Clients.Timeout, httpClient),
		EKYC:         clients.NewEKYCClient(cfg.Clients.EKYCURL, cfg.Clients.Timeout, httpClient),
		Partners:     partnerCache,
	}, cfg.CallTimeout, logger, authn.NewMetrics(registry))

	if cfg.SweepInterval > 0 {
		go sweep.NewRunner(authenticator, cfg.SweepInterval, logger).Run(ctx)
	}

	lockConsumer := startLockConsumer(ctx, cfg, authenticator, publisher, registry, logger)

	httpServer := buildHTTPServer(cfg, handlers.New(authenticator, partnerCache, logger), ready, registry, logger)

	ready.SetReady(true)
	grpcServer, healthServer := startGRPCHealth(ctx, cfg, ready, logger)

	go func() {
		logger.Info("idauth http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, grpcServer, healthServer, ready, cancel, lockConsumer, cfg.ShutdownDeadline, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildLimiter prefers redis so limits hold across replicas; without an
// address it falls back to a per-process limiter.
func buildLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func()) {
	if cfg.RateLimit.RedisAddr == "" {
		logger.Warn("otp rate limiting is per process", "reason", "DK_RATE_LIMIT_REDIS_ADDR not set")
		return rate.NewMemory(cfg.OTP.RequestLimit, cfg.OTP.RequestWindow), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	return rate.NewRedisLimiter(client, cfg.OTP.RequestLimit, cfg.OTP.RequestWindow, ""), func() {
		_ = client.Close()
	}
}

func buildNotifier(cfg *config.Config, publisher kafka.Publisher, logger *slog.Logger) otp.Notifier {
	if publisher == nil {
		logger.Warn("kafka disabled, otp codes are only logged")
		return notify.NewLog(logger, cfg.App.IsLocal())
	}
	return notify.NewKafka(publisher, cfg.Kafka.Topics.Notifications)
}

func startLockConsumer(ctx context.Context, cfg *config.Config, locks consumer.LockSetter, publisher kafka.Publisher, registry *prometheus.Registry, logger *slog.Logger) *kafka.Consumer {
	if !cfg.Kafka.Enabled() {
		return nil
	}
	group, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("lock consumer init failed", "error", err)
		os.Exit(1)
	}
	group.WithDLQ(publisher, cfg.Kafka.Topics.DeadLetter)

	handler := consumer.NewLockConsumer(locks, logger, consumer.NewMetrics(registry))
	go func() {
		if err := group.Consume(ctx, []string{cfg.Kafka.Topics.AuthLocks}, handler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("lock consumer stopped", "error", err)
		}
	}()
	return group
}

func startGRPCHealth(ctx context.Context, cfg *config.Config, ready *health.Manager, logger *slog.Logger) (*grpc.Server, *grpchealth.Server) {
	if cfg.GRPC.Port == 0 {
		return nil, nil
	}
	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		logger.Error("grpc listen failed", "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	health.Mirror(ctx, ready, healthServer, 5*time.Second, logger)

	go func() {
		logger.Info("idauth grpc health starting", "addr", cfg.GRPC.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "error", err)
		}
	}()
	return grpcServer, healthServer
}

func buildHTTPServer(cfg *config.Config, h *handlers.Handler, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	h.Register(router, auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer))

	return &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, grpcServer *grpc.Server, healthServer *grpchealth.Server, ready *health.Manager, cancel context.CancelFunc, lockConsumer *kafka.Consumer, deadline time.Duration, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	if healthServer != nil {
		healthServer.Shutdown()
	}
	cancel()

	if lockConsumer != nil {
		if err := lockConsumer.Close(); err != nil {
			logger.Error("lock consumer close error", "error", err)
		}
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), deadline)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcServer.Stop()
		}
	}
}
