package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/relay/common/version"
)

// HealthServer exposes /health, /status and /metrics.
// It is optional; the relay runs without it when HTTPAddr is empty.
type HealthServer struct {
	addr      string
	status    statusProvider
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// statusProvider is what /status reports on.
type statusProvider interface {
	PendingConfirmations() int
	CommandCounts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status               string         `json:"status"`
	Version              string         `json:"version"`
	Commit               string         `json:"commit"`
	BuildTime            string         `json:"build_time"`
	StartedAt            time.Time      `json:"started_at"`
	UptimeSecs           float64        `json:"uptime_seconds"`
	PendingConfirmations int            `json:"pending_confirmations"`
	Commands             map[string]int `json:"commands"`
	StoreError           string         `json:"store_error,omitempty"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
func NewHealthServer(addr string, sp statusProvider) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		status:    sp,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Run listens on the configured address and serves until ctx is done.
func (h *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (h *HealthServer) Serve(ctx context.Context, ln net.Listener) error {
	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		errCh <- h.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
	<-errCh
	return nil
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Commands:   map[string]int{},
	}
	code := http.StatusOK
	if h.status != nil {
		resp.PendingConfirmations = h.status.PendingConfirmations()
		if err := h.status.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.StoreError = err.Error()
			code = http.StatusServiceUnavailable
		} else if counts, err := h.status.CommandCounts(r.Context()); err == nil {
			resp.Commands = counts
		}
	}
	writeJSON(w, code, resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
