package handlers

import (
	"context"
	"time"

	"github.com/imamik/hubspoke/internal/api"
)

// shutdownGrace bounds how long background rollbacks may finish after the
// listener stopped.
const shutdownGrace = 2 * time.Minute

// listen runs the API server until ctx ends. Replaced in tests.
var listen = func(ctx context.Context, srv *api.Server, addr string) error {
	return srv.ListenAndServe(ctx, addr)
}

// Serve handles the serve command.
//
// It wires the service and serves the HTTP API until ctx is cancelled, then
// lets background rollbacks finish before closing the store.
func Serve(ctx context.Context, opts Options, addr, version string) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	srv := api.NewServer(api.Options{
		Config:       a.cfg,
		Orchestrator: a.orch,
		Store:        a.store,
		Logger:       a.log,
		Version:      version,
	})

	a.log.Info("serving spoke API", "addr", addr, "provider", a.cfg.Provider.Name, "storage", a.cfg.Storage.Backend)
	serveErr := listen(ctx, srv, addr)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.log.Error(err, "shutdown incomplete")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
