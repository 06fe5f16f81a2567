// Package handlers implements the hubspoke CLI commands.
//
// Each command loads configuration, wires the store, providers and
// orchestrator, and runs in-process. Constructors are package variables so
// tests can replace them.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/events"
	"github.com/imamik/hubspoke/internal/logging"
	"github.com/imamik/hubspoke/internal/platform/hcloud"
	"github.com/imamik/hubspoke/internal/platform/memory"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/store"
)

// Factory function variables - can be replaced in tests.
var (
	loadConfig = config.Load

	newLogger = logging.New

	openStore = store.Open

	// newPublisher returns the AMQP publisher when configured, otherwise a no-op.
	newPublisher = func(cfg *config.Config, log logr.Logger) (events.Publisher, error) {
		if cfg.Events.AMQPURL == "" {
			return events.Nop{}, nil
		}
		return events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, log)
	}

	// newProviders returns the cloud adapters for the configured provider.
	newProviders = func(cfg *config.Config) (provisioning.Providers, error) {
		switch cfg.Provider.Name {
		case config.ProviderHCloud:
			if cfg.Provider.Token == "" {
				return provisioning.Providers{}, errors.New("hcloud token is required: set HCLOUD_TOKEN or run 'hubspoke token set'")
			}
			return hcloud.NewFromConfig(cfg).Providers(), nil
		case config.ProviderMemory:
			return memory.NewFromConfig(cfg).Providers(), nil
		default:
			return provisioning.Providers{}, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
		}
	}

	// stdout receives command output.
	stdout io.Writer = os.Stdout
)

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	Provider   string
	LogLevel   string
}

// app is one wired instance of the service.
type app struct {
	cfg       *config.Config
	log       logr.Logger
	store     store.Repository
	publisher events.Publisher
	orch      *provisioning.Orchestrator
}

// newApp loads configuration and wires the store, publisher, providers and orchestrator.
func newApp(ctx context.Context, opts Options) (*app, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Provider != "" {
		cfg.Provider.Name = opts.Provider
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	log, err := newLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	repo, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment store: %w", err)
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	providers, err := newProviders(cfg)
	if err != nil {
		_ = publisher.Close()
		_ = repo.Close()
		return nil, err
	}

	orch := provisioning.NewOrchestrator(provisioning.Options{
		Config:    cfg,
		Providers: providers,
		Store:     repo,
		Publisher: publisher,
		Logger:    log,
	})

	return &app{cfg: cfg, log: log, store: repo, publisher: publisher, orch: orch}, nil
}

// Close waits for background rollbacks and releases the store and publisher.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.orch.Runner().Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rollback runner: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event publisher: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("deployment store: %w", err))
	}
	return errors.Join(errs...)
}
