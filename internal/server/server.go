// Package server exposes the control API: program state reads, manual
// override, reset, health probes, the Prometheus scrape endpoint, and the
// websocket event bridge.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shotcaller-ai/shotcaller/internal/bus"
	"github.com/shotcaller-ai/shotcaller/internal/config"
	"github.com/shotcaller-ai/shotcaller/internal/director"
	"github.com/shotcaller-ai/shotcaller/internal/health"
	obs "github.com/shotcaller-ai/shotcaller/internal/observe"
	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// maxBodyBytes bounds control request bodies. The only body accepted is the
// tiny /manual JSON object.
const maxBodyBytes = 4 << 10

// response is the envelope every control endpoint returns.
type response struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Server serves the control API over HTTP. Construct with New, then either
// mount Handler on an existing server or call Run.
type Server struct {
	cfg     *config.Config
	dir     *director.Director
	bus     *bus.Bus
	checks  *health.Handler
	metrics *obs.Metrics
	log     *slog.Logger
	ready   func() bool
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithHealth mounts the given liveness/readiness handler at /healthz and
// /readyz. Without it only the plain /health endpoint is served.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.checks = h }
}

// WithMetrics sets the instrument set used by the HTTP middleware.
// Defaults to obs.DefaultMetrics().
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness gates the mutating endpoints: while ready reports false,
// POST /manual and POST /reset answer 503. Defaults to always ready.
func WithReadiness(ready func() bool) Option {
	return func(s *Server) { s.ready = ready }
}

// New assembles a control API server around the decision engine.
func New(cfg *config.Config, dir *director.Director, b *bus.Bus, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		dir:   dir,
		bus:   b,
		log:   slog.Default(),
		ready: func() bool { return true },
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = obs.DefaultMetrics()
	}
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("POST /manual", s.handleManual)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.checks != nil {
		s.checks.Register(mux)
	}
	return obs.Middleware(s.metrics)(mux)
}

// Run serves the control API on cfg.Server.ListenAddr until ctx is
// cancelled, then drains connections within the configured grace window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	grace := time.Duration(s.cfg.Server.ShutdownGraceSec * float64(time.Second))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

// handleHealth reports liveness plus the current program camera.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cam, live := s.dir.Program()
	data := map[string]any{
		"status": "ok",
		"live":   live,
	}
	if live {
		data["programCam"] = cam
	}
	s.writeOK(w, data)
}

// handleState returns a deep snapshot of the engine state including the
// per-camera latest scores.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.dir.Snapshot())
}

// configView is the read-only shape served by GET /config.
type configView struct {
	Policy  config.PolicyConfig  `json:"policy"`
	Weights config.WeightsConfig `json:"weights"`
	Rates   config.RatesConfig   `json:"rates"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, configView{
		Policy:  s.cfg.Policy,
		Weights: s.cfg.Weights,
		Rates:   s.cfg.Rates,
	})
}

// manualRequest is the POST /manual body. An empty or absent camId clears
// the override.
type manualRequest struct {
	CamID types.CameraID `json:"camId"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		s.writeError(w, http.StatusServiceUnavailable, "core not ready")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var req manualRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}

	if req.CamID == "" {
		s.dir.ClearManual()
		s.log.Info("manual override cleared")
		s.writeOK(w, map[string]any{"manual": false})
		return
	}

	switch err := s.dir.SetManual(req.CamID); {
	case errors.Is(err, director.ErrUnknownCamera):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, director.ErrCameraCoolingDown):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.log.Info("manual override set", "cam", req.CamID)
		s.writeOK(w, map[string]any{"manual": true, "camId": req.CamID})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		s.writeError(w, http.StatusServiceUnavailable, "core not ready")
		return
	}
	s.dir.Reset()
	s.writeOK(w, map[string]any{"reset": true})
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, response{
		Success:   true,
		Data:      data,
		Timestamp: unixSeconds(s.now()),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, response{
		Error:     msg,
		Timestamp: unixSeconds(s.now()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
