// Package gateway is the HTTP front of the relay: the two webhook routes
// behind authentication and rate limiting, plus a health probe.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/otel"
)

const (
	TelegramPath = "/telegram"
	ClickUpPath  = "/clickup"
	HealthPath   = "/healthz"

	shutdownTimeout = 5 * time.Second
)

// RecordCounter reports the live record count for the health probe.
type RecordCounter interface {
	Size() int
}

type Config struct {
	Telegram http.Handler
	ClickUp  http.Handler

	Auth      *WebhookAuth // nil disables webhook authentication
	RateLimit config.RateLimitConfig

	Records    RecordCounter
	DriverName string
	// ConfigFingerprint returns the hash of the active config.
	ConfigFingerprint func() string

	Metrics *otel.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg     Config
	limiter *Limiter
	logger  *slog.Logger
	started time.Time
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		limiter: NewLimiter(cfg.RateLimit, cfg.Metrics),
		logger:  logger.With("component", "gateway"),
		started: time.Now(),
	}
}

// StartBackgroundTasks evicts idle rate limit buckets until ctx ends.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	go s.limiter.RunEviction(ctx, time.Minute, 10*time.Minute)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, s.handleHealthz)
	if s.cfg.Telegram != nil {
		h := s.cfg.Telegram
		if s.cfg.Auth != nil {
			h = s.cfg.Auth.Telegram(h)
		}
		mux.Handle("POST "+TelegramPath, s.limiter.Wrap(TelegramPath, h))
	}
	if s.cfg.ClickUp != nil {
		h := s.cfg.ClickUp
		if s.cfg.Auth != nil {
			h = s.cfg.Auth.ClickUp(h)
		}
		mux.Handle("POST "+ClickUpPath, s.limiter.Wrap(ClickUpPath, h))
	}
	return mux
}

type healthPayload struct {
	Healthy           bool   `json:"healthy"`
	Records           int    `json:"records"`
	Driver            string `json:"driver"`
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	payload := healthPayload{
		Healthy:       true,
		Driver:        s.cfg.DriverName,
		Version:       otel.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.cfg.Records != nil {
		payload.Records = s.cfg.Records.Size()
	}
	if s.cfg.ConfigFingerprint != nil {
		payload.ConfigFingerprint = s.cfg.ConfigFingerprint()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// ListenAndServe binds addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
