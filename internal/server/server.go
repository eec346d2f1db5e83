// Package server exposes the published snapshot over HTTP and the gRPC health protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceName - name reported by the info endpoint and the grpc health service
	ServiceName = "eipmon"

	// DefaultStaleAfter - age of the last successful collection after which the exporter is unhealthy
	DefaultStaleAfter = 5 * time.Minute

	defaultShutdownTimeout = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
)

// Source - provider of the current snapshot
type Source interface {
	CurrentSnapshot() models.Snapshot
}

// Config - server config
type Config struct {
	Source   Source
	Gatherer prometheus.Gatherer
	Version  string

	StaleAfter      utils.Provider[time.Duration]
	ShutdownTimeout utils.Provider[time.Duration]
	Clock           utils.Provider[time.Time]

	Logger zerolog.Logger
}

// Server - http and grpc surfaces over a snapshot source
type Server struct {
	source   Source
	gatherer prometheus.Gatherer
	version  string

	staleAfter      utils.Provider[time.Duration]
	shutdownTimeout utils.Provider[time.Duration]
	clock           utils.Provider[time.Time]

	health *health.Server

	log zerolog.Logger
}

// New returns new server. Health is NOT_SERVING until the first fresh snapshot is observed.
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: source is required", pkgerrors.ErrConfig)
	}
	if cfg.Gatherer == nil {
		return nil, fmt.Errorf("%w: gatherer is required", pkgerrors.ErrConfig)
	}

	s := &Server{
		source:          cfg.Source,
		gatherer:        cfg.Gatherer,
		version:         cfg.Version,
		staleAfter:      cfg.StaleAfter,
		shutdownTimeout: cfg.ShutdownTimeout,
		clock:           cfg.Clock,
		health:          health.NewServer(),
		log:             cfg.Logger,
	}

	if s.staleAfter == nil {
		s.staleAfter = utils.Const(DefaultStaleAfter)
	}
	if s.shutdownTimeout == nil {
		s.shutdownTimeout = utils.Const(defaultShutdownTimeout)
	}
	if s.clock == nil {
		s.clock = utils.WallClock
	}

	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)

	return s, nil
}

// Handler returns the http routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleInfo)

	return mux
}

// Fresh reports whether snap was collected successfully within the staleness window
func (s *Server) Fresh(ctx context.Context, snap models.Snapshot) bool {
	last := snap.Scrape.LastSuccess
	if last.IsZero() {
		return false
	}

	return s.clock(ctx).Sub(last) <= s.staleAfter(ctx)
}

// Observe updates the grpc health status from snap. Meant to be used as the publisher callback.
func (s *Server) Observe(snap models.Snapshot) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.Fresh(context.Background(), snap) {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.setServing(status)
}

func (s *Server) setServing(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

type healthResponse struct {
	Status          string     `json:"status"`
	LastScrape      *time.Time `json:"last_scrape"`
	AgeSeconds      *float64   `json:"age_seconds"`
	StaleAfter      float64    `json:"stale_after_seconds"`
	ScrapeErrors    uint64     `json:"scrape_errors"`
	LastError       string     `json:"last_error,omitempty"`
	DurationSeconds float64    `json:"last_duration_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context()
		snap = s.source.CurrentSnapshot()
		resp = healthResponse{
			Status:          "healthy",
			StaleAfter:      s.staleAfter(ctx).Seconds(),
			ScrapeErrors:    snap.Scrape.ErrorCount,
			LastError:       snap.Scrape.LastError,
			DurationSeconds: snap.Scrape.LastDurationSeconds,
		}
		code = http.StatusOK
	)

	if last := snap.Scrape.LastSuccess; !last.IsZero() {
		age := s.clock(ctx).Sub(last).Seconds()
		resp.LastScrape = &last
		resp.AgeSeconds = &age
	}

	if !s.Fresh(ctx, snap) {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, resp)
}

type infoResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, infoResponse{
		Service:   ServiceName,
		Version:   s.version,
		Endpoints: []string{"/metrics", "/health"},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

// RunHTTP serves the http routes on lis until ctx is cancelled, then shuts down gracefully
func (s *Server) RunHTTP(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", lis.Addr().String()).Msg("http server is set up")
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("srv.Serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout(ctx))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("srv.Shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("srv.Serve: %w", err)
	}

	return nil
}

// RunGRPC serves grpc.health.v1.Health on lis until ctx is cancelled
func (s *Server) RunGRPC(ctx context.Context, lis net.Listener) error {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, s.health)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server is set up")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpcServer.Serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down grpc server")
	s.health.Shutdown()
	grpcServer.GracefulStop()

	return nil
}
