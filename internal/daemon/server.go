package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/config"
	"github.com/clinivo/messaging/internal/status"
)

// Server exposes the daemon's local HTTP surface: liveness, connection
// state and Prometheus metrics. It binds to loopback by default and
// carries no message data.
type Server struct {
	httpServer *http.Server
	machine    *status.Machine
	logger     *zap.Logger
}

// NewServer creates the HTTP server on the configured listen address.
func NewServer(cfg *config.Config, machine *status.Machine, logger *zap.Logger) *Server {
	s := &Server{
		machine: machine,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		state := s.machine.Current()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":    state,
			"fallback": state == status.Fallback,
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	_ = s.httpServer.Shutdown(ctx)
}
