package pwmetrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Metrics' registry over HTTP, grounded on the donor's
// runner.go wiring a promhttp.Handler onto a "/metrics" route.
type Server struct {
	http *http.Server
}

// Serve starts an HTTP server on addr exposing m's registry at /metrics,
// returning immediately; ListenAndServe runs on its own goroutine, and any
// error it hits after startup is unreported (the caller tears the server
// down via Close() on shutdown rather than observing a listen error).
func Serve(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	s := &Server{http: &http.Server{Addr: addr, Handler: mux}}
	go func() {
		_ = s.http.ListenAndServe()
	}()
	return s
}

// Close shuts the HTTP server down gracefully.
func (s *Server) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
