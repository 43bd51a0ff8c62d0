// Package web serves a small HTTP control surface for a running bridge:
// status, RPC and raw sends for a connected host, plus Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/proto"
)

// Bridge is the part of *bridge.Connector the server drives.
type Bridge interface {
	Status() bridge.Status
	Send(ctx context.Context, msg proto.Message) error
	RPC(ctx context.Context, function string, args ...any) error
}

// Caller makes correlated calls; *rpccall.Caller implements it.
type Caller interface {
	Call(ctx context.Context, function string, args ...any) (any, error)
}

type Server struct {
	bridge   Bridge
	caller   Caller
	gatherer prometheus.Gatherer
	pages    *Templates
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer builds the surface for b. caller enables "wait" RPCs and
// gatherer enables /metrics; either may be nil.
func NewServer(b Bridge, caller Caller, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bridge:   b,
		caller:   caller,
		gatherer: gatherer,
		pages:    NewTemplates(),
		logger:   logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.HandleHome)
	r.Get("/status", s.HandleStatus)
	r.Post("/rpc", s.HandleRPC)
	r.Post("/send", s.HandleSend)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Starting HTTP server", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
