package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/handler"
	"github.com/devrev/pairdb/offload-engine/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AdminServer serves Prometheus metrics and the offload control API via HTTP
type AdminServer struct {
	httpServer *http.Server
	manager    *service.Manager
	logger     *zap.Logger
}

// AdminServerConfig holds configuration for the admin server
type AdminServerConfig struct {
	Port int
}

// NewAdminServer creates a new admin server
func NewAdminServer(cfg *AdminServerConfig, manager *service.Manager, logger *zap.Logger) *AdminServer {
	mux := http.NewServeMux()

	as := &AdminServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		manager: manager,
		logger:  logger,
	}

	// Register Prometheus metrics handler
	mux.Handle("/metrics", promhttp.Handler())

	// Register health check endpoint
	mux.HandleFunc("/health", as.healthHandler)

	// Register readiness endpoint
	mux.HandleFunc("/ready", as.readyHandler)

	// Register offload control endpoints
	handler.NewOffloadHandler(manager, logger).Register(mux)

	return as
}

// Start starts the admin server
func (s *AdminServer) Start() error {
	s.logger.Info("Starting admin server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the admin server
func (s *AdminServer) Stop() error {
	s.logger.Info("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}

	return nil
}

// healthHandler handles health check requests
func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// readyHandler handles readiness check requests. The node is ready
// unless an offload is mid-flight, in which case new work should be
// routed elsewhere while the transfer drains.
func (s *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := s.manager.Status()
	if s.manager.IsActive() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","reason":"offload_in_progress","offload_status":"%s"}`, status)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","timestamp":"%s","offload_status":"%s"}`,
		time.Now().Format(time.RFC3339), status)
}
