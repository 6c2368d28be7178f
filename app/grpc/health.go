package grpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "mailer.EmailWorker"

// HealthChecker probes the email transport.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// HealthReporter mirrors the provider health check into the standard gRPC health service.
type HealthReporter struct {
	server   *health.Server
	checker  HealthChecker
	interval time.Duration
	log      logrus.FieldLogger
}

// NewHealthReporter constructs a reporter probing checker every interval.
func NewHealthReporter(checker HealthChecker, interval time.Duration, log logrus.FieldLogger) *HealthReporter {
	return &HealthReporter{
		server:   health.NewServer(),
		checker:  checker,
		interval: interval,
		log:      log,
	}
}

// Register exposes the health service on s.
func (r *HealthReporter) Register(s *googlegrpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Server returns the underlying health server.
func (r *HealthReporter) Server() *health.Server {
	return r.server
}

// Probe runs one check and publishes the result for both the overall and the named service.
func (r *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if !r.checker.HealthCheck(ctx) {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(ServiceName, status)
	return status
}

// Run probes until ctx is cancelled, then marks every service NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	last := r.Probe(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			if status := r.Probe(ctx); status != last {
				r.log.WithField("status", status.String()).Warn("Email provider health changed")
				last = status
			}
		}
	}
}
