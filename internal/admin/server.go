// Package admin serves the HTTP status, metrics and operator endpoints of a
// segment node or driver simulator.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segchain/internal/command"
)

// Teleop receives operator commands posted to /teleop.
type Teleop interface {
	Put(command.Command)
}

// Chaos toggles fault injection on a driver simulator.
type Chaos interface {
	ToggleChaos() bool
	Chaos() bool
}

// Options wires the server to its node. Nil members disable their routes.
type Options struct {
	Node   string
	Status func() any
	Teleop Teleop
	Chaos  Chaos
	Logger *slog.Logger
}

// Server is the admin HTTP endpoint.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// NewServer builds the handler set for opts.
func NewServer(opts Options) *Server {
	if opts.Status == nil {
		opts.Status = func() any { return struct{}{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if s.opts.Teleop != nil {
		s.mux.HandleFunc("POST /teleop", s.handleTeleop)
	}
	if s.opts.Chaos != nil {
		s.mux.HandleFunc("POST /toggle-chaos", s.handleToggleChaos)
	}
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	s.opts.Logger.Info("admin server listening", "node", s.opts.Node, "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Status())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTeleop(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, command.MaxPayload+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := command.Decode(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, command.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.opts.Teleop.Put(c)
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) handleToggleChaos(w http.ResponseWriter, r *http.Request) {
	state := s.opts.Chaos.ToggleChaos()
	s.opts.Logger.Info("chaos toggled", "chaos", state)
	writeJSON(w, http.StatusOK, map[string]any{"chaos": state})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
