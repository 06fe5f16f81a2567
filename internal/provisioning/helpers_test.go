package provisioning_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/events"
	"github.com/imamik/hubspoke/internal/platform/memory"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/spoke"
)

// recordingStore keeps a copy of every saved record.
type recordingStore struct {
	mu      sync.Mutex
	history []*deployment.Record
	err     error
}

func (s *recordingStore) Save(_ context.Context, rec *deployment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.history = append(s.history, rec.Clone())
	return nil
}

func (s *recordingStore) latest(spokeID int) *deployment.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].SpokeID == spokeID {
			return s.history[i].Clone()
		}
	}
	return nil
}

func (s *recordingStore) latestStatus(spokeID int) deployment.Status {
	if rec := s.latest(spokeID); rec != nil {
		return rec.Status
	}
	return ""
}

// statuses returns the saved statuses of a spoke with repeats collapsed.
func (s *recordingStore) statuses(spokeID int) []deployment.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []deployment.Status
	for _, rec := range s.history {
		if rec.SpokeID != spokeID {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != rec.Status {
			out = append(out, rec.Status)
		}
	}
	return out
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeouts = config.FastTimeouts()
	return cfg
}

func newRequest(t *testing.T, cfg *config.Config, id int, client string) spoke.Request {
	t.Helper()
	req, err := spoke.NewRequest(spoke.Input{SpokeID: id, ClientName: client}, cfg)
	require.NoError(t, err)
	return req
}

type fixture struct {
	cfg       *config.Config
	cloud     *memory.Cloud
	store     *recordingStore
	publisher *recordingPublisher
	orch      *provisioning.Orchestrator
}

func newFixture(t *testing.T, cfg *config.Config, opts ...memory.Option) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	f := &fixture{
		cfg:       cfg,
		cloud:     memory.NewFromConfig(cfg, opts...),
		store:     &recordingStore{},
		publisher: &recordingPublisher{},
	}
	f.orch = provisioning.NewOrchestrator(provisioning.Options{
		Config:    cfg,
		Providers: f.cloud.Providers(),
		Store:     f.store,
		Publisher: f.publisher,
		Logger:    logr.Discard(),
	})
	t.Cleanup(func() {
		_ = f.orch.Runner().Shutdown(context.Background())
	})
	return f
}

func (f *fixture) engine() *provisioning.RollbackEngine {
	return provisioning.NewRollbackEngine(f.cloud.Providers(), f.store, f.cfg.Timeouts, logr.Discard(), nil)
}

// failedRecord builds a failed record whose listed steps completed before
// failedStep failed.
func failedRecord(t *testing.T, req spoke.Request, completed []string, failedStep string) *deployment.Record {
	t.Helper()
	rec := req.NewRecord()
	for _, name := range completed {
		require.NoError(t, rec.StartStep(name, ""))
		require.NoError(t, rec.CompleteStep(name))
	}
	require.NoError(t, rec.StartStep(failedStep, ""))
	require.NoError(t, rec.FailStep(failedStep, "injected failure"))
	return rec
}

// statusRank orders statuses along the only forward path a spoke may take.
var statusRank = map[deployment.Status]int{
	deployment.StatusPending:        0,
	deployment.StatusInProgress:     1,
	deployment.StatusCompleted:      2,
	deployment.StatusFailed:         2,
	deployment.StatusRollingBack:    3,
	deployment.StatusRolledBack:     4,
	deployment.StatusRollbackFailed: 4,
}

func requireMonotonic(t *testing.T, statuses []deployment.Status) {
	t.Helper()
	for i := 1; i < len(statuses); i++ {
		require.GreaterOrEqual(t, statusRank[statuses[i]], statusRank[statuses[i-1]],
			"status regressed: %v", statuses)
	}
}
