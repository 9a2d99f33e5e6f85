package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/memory"
	"github.com/hpungsan/overseer/internal/supervisor"
)

// Services are the components the API reads from.
type Services struct {
	Memory     *memory.Store
	Supervisor *supervisor.Supervisor
	Registry   *prometheus.Registry
}

// NewServer creates and configures the HTTP server for the Overseer API.
func NewServer(svc Services, version, bind string, port int) *http.Server {
	h := &Handlers{svc: svc, version: version}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/streams", http.StatusFound)
	})
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /streams", h.HandleStreams)
	mux.HandleFunc("GET /streams/{id}", h.HandleStream)
	mux.HandleFunc("GET /streams/{id}/memory", h.HandleMemory)
	mux.HandleFunc("GET /streams/{id}/peek", h.HandlePeek)
	mux.HandleFunc("POST /streams/{id}/archive", h.HandleArchive)
	mux.HandleFunc("GET /memory/long", h.HandleLongTerm)
	mux.HandleFunc("GET /decisions", h.HandleDecisions)
	mux.HandleFunc("GET /policies", h.HandlePolicies)

	if svc.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	}

	// Wrap with security headers
	handler := securityHeaders(mux)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("overseer API listening", zap.String("addr", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
