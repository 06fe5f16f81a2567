package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Options wires a Server.
type Options struct {
	Config       *config.Config
	Orchestrator *provisioning.Orchestrator
	Store        store.Repository
	Logger       logr.Logger
	Version      string
}

// Server serves the spoke API.
type Server struct {
	cfg     *config.Config
	orch    *provisioning.Orchestrator
	runner  *provisioning.Runner
	store   store.Repository
	log     logr.Logger
	version string

	mu       sync.Mutex
	inflight map[int]bool
}

// NewServer returns a server. The orchestrator must persist into the same
// store the server reads from.
func NewServer(opts Options) *Server {
	return &Server{
		cfg:      opts.Config,
		orch:     opts.Orchestrator,
		runner:   opts.Orchestrator.Runner(),
		store:    opts.Store,
		log:      opts.Logger.WithName("api"),
		version:  opts.Version,
		inflight: make(map[int]bool),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	chain := Chain(
		RequestID(s.log),
		Recovery(),
		AccessLog(),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /spokes", chain(http.HandlerFunc(s.createSpoke)))
	mux.Handle("GET /spokes", chain(http.HandlerFunc(s.listSpokes)))
	mux.Handle("GET /spokes/stats", chain(http.HandlerFunc(s.statistics)))
	mux.Handle("GET /spokes/next-id", chain(http.HandlerFunc(s.nextID)))
	mux.Handle("GET /spokes/{id}", chain(http.HandlerFunc(s.getSpoke)))
	mux.Handle("DELETE /spokes/{id}", chain(http.HandlerFunc(s.deleteSpoke)))
	mux.Handle("GET /healthz", chain(http.HandlerFunc(s.health)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(provisioning.Registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. In-flight create requests finish before it returns.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// claim marks spokeID as being created. It returns false when a create for
// the same id is already running in this process.
func (s *Server) claim(spokeID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[spokeID] {
		return false
	}
	s.inflight[spokeID] = true
	return true
}

func (s *Server) unclaim(spokeID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, spokeID)
}
