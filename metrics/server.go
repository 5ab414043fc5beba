package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics for Prometheus scraping and a /health liveness
// endpoint, the same two-endpoint shape as the teacher's monitor.Server,
// generalized from a custom handler to promhttp.Handler.
type Server struct {
	srv *http.Server
}

// NewServer builds a metrics HTTP server bound to port.
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return &Server{srv: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}}
}

// Start serves until the server is shut down. Mirrors the teacher's
// monitor.Server.Start/Stop pair.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
