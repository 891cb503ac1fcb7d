package health

import (
	"context"
	"log/slog"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Mirror keeps the overall status of a grpc health server in line with m.
// It polls every interval until ctx is done and returns immediately.
func Mirror(ctx context.Context, m *Manager, server *grpchealth.Server, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	sync := func() healthpb.HealthCheckResponse_ServingStatus {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if m.Check(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		server.SetServingStatus("", status)
		return status
	}

	last := sync()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if status := sync(); status != last {
					if logger != nil {
						logger.Info("grpc health status changed", "status", status.String())
					}
					last = status
				}
			}
		}
	}()
}
