package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/platform/memory"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/store"
)

type testServer struct {
	cfg   *config.Config
	cloud *memory.Cloud
	store *store.MemoryStore
	orch  *provisioning.Orchestrator
	srv   *Server
	http  *httptest.Server
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...memory.Option) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Timeouts = config.FastTimeouts()
	cfg.Storage.Backend = config.StorageMemory
	if mutate != nil {
		mutate(cfg)
	}

	ts := &testServer{
		cfg:   cfg,
		cloud: memory.NewFromConfig(cfg, opts...),
		store: store.NewMemoryStore(),
	}
	ts.orch = provisioning.NewOrchestrator(provisioning.Options{
		Config:    cfg,
		Providers: ts.cloud.Providers(),
		Store:     ts.store,
		Logger:    logr.Discard(),
	})
	ts.srv = NewServer(Options{Config: cfg, Orchestrator: ts.orch, Store: ts.store, Logger: logr.Discard(), Version: "test"})
	ts.http = httptest.NewServer(ts.srv.Handler())
	t.Cleanup(func() {
		ts.http.Close()
		_ = ts.orch.Runner().Shutdown(context.Background())
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestCreateSpoke_Created(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 3, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 100, body["progress_percentage"])
	assert.Equal(t, "10.11.3.10", body["private_ip"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	rec, err := ts.store.Get(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, deployment.StatusCompleted, rec.Status)
}

func TestCreateSpoke_BadInput(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "empty body", body: "", code: string(CodeBadRequest)},
		{name: "malformed", body: `{"spoke_id":`, code: string(CodeBadRequest)},
		{name: "spoke id out of range", body: `{"spoke_id": 0, "client_name": "acme"}`, code: string(CodeValidation)},
		{name: "missing client", body: `{"spoke_id": 4}`, code: string(CodeValidation)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/spokes", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
	assert.Empty(t, ts.cloud.Calls(), "invalid input never reaches the provider")
}

func TestCreateSpoke_ConflictAndRecreate(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ctx := context.Background()

	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 5, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 5, "client_name": "acme"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(CodeConflict), errorCode(body))

	// A rolled back spoke may be provisioned again.
	rec, err := ts.store.Get(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, rec.MarkRollingBack())
	require.NoError(t, rec.MarkRolledBack())
	require.NoError(t, ts.store.Save(ctx, rec))

	resp, _ = ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 5, "client_name": "acme"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateSpoke_FailureQueuesRollback(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.cloud.Fail(memory.OpCreateInstance, errors.New("quota exceeded"))

	resp, body := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 6, "client_name": "acme"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, string(CodeDeploymentFailed), errorCode(body))
	assert.Equal(t, RollbackQueued, body["rollback_status"])

	require.NoError(t, ts.orch.Runner().Wait(6))
	resp, body = ts.do(t, http.MethodGet, "/spokes/6", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rolled_back", body["status"])
	assert.Equal(t, provisioning.StepDeployInstance, body["failed_step"])
}

func TestCreateSpoke_FailureWhenRollbackCannotStart(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.cloud.Fail(memory.OpCreateInstance, errors.New("quota exceeded"))
	require.NoError(t, ts.orch.Runner().Shutdown(context.Background()))

	resp, body := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 6, "client_name": "acme"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, string(CodeDeploymentFailed), errorCode(body))
	assert.Equal(t, RollbackNotScheduled, body["rollback_status"])

	details, _ := body["error"].(map[string]any)["details"].([]any)
	require.Len(t, details, 2)
	assert.Contains(t, details[0], provisioning.ErrRunnerClosed.Error())
	assert.True(t, ts.cloud.Has("network", "spoke-vnet-6"), "resources stay in place")
}

func TestCreateSpoke_FailureWithRollbackDisabled(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(c *config.Config) {
		disabled := false
		c.EnableRollback = &disabled
	})
	ts.cloud.Fail(memory.OpCreateInstance, errors.New("quota exceeded"))

	resp, body := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 6, "client_name": "acme"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, RollbackDisabled, body["rollback_status"])
	assert.True(t, ts.cloud.Has("network", "spoke-vnet-6"), "resources stay in place")
}

func TestGetSpoke(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 8, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("recorded", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/spokes/8", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["exists"])
		assert.Nil(t, body["live"])
		steps, _ := body["steps"].([]any)
		assert.Len(t, steps, len(provisioning.Steps))
	})

	t.Run("live", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/spokes/8?live=true", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		live, ok := body["live"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, live["network_exists"])
		assert.Equal(t, "10.11.8.10", live["private_ip"])
	})

	t.Run("missing", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/spokes/9", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, false, body["exists"])
	})

	for _, bad := range []string{"abc", "0", "255"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodGet, "/spokes/"+bad, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestListSpokes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ctx := context.Background()
	for i, status := range []deployment.Status{deployment.StatusCompleted, deployment.StatusFailed, deployment.StatusCompleted} {
		rec := deployment.New(i+1, "acme")
		rec.Status = status
		rec.CreatedAt = time.Date(2026, 1, 1, i, 0, 0, 0, time.UTC)
		require.NoError(t, ts.store.Save(ctx, rec))
	}

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{name: "all", query: "", status: http.StatusOK, count: 3},
		{name: "by status", query: "?status=completed", status: http.StatusOK, count: 2},
		{name: "limited", query: "?limit=1", status: http.StatusOK, count: 1},
		{name: "unknown status", query: "?status=exploded", status: http.StatusBadRequest},
		{name: "limit zero", query: "?limit=0", status: http.StatusBadRequest},
		{name: "limit too high", query: "?limit=101", status: http.StatusBadRequest},
		{name: "limit not a number", query: "?limit=ten", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodGet, "/spokes"+tt.query, "")
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				assert.EqualValues(t, tt.count, body["count"])
			}
		})
	}

	_, body := ts.do(t, http.MethodGet, "/spokes", "")
	spokes := body["spokes"].([]any)
	first := spokes[0].(map[string]any)
	assert.EqualValues(t, 3, first["spoke_id"], "newest first")
}

func TestDeleteSpoke_Completed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 10, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodDelete, "/spokes/10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RollbackCompleted, body["rollback_status"])

	rec, err := ts.store.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, rec, "record is removed after a clean rollback")
	for _, kind := range []string{"network", "instance", "nic", "disk"} {
		for _, r := range ts.cloud.Resources() {
			assert.False(t, strings.HasPrefix(r, kind+"/spoke-"), "leftover %s", r)
		}
	}
}

func TestDeleteSpoke_PartialFailure(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 11, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ts.cloud.Fail(memory.OpDeleteInstance, errors.New("server locked"))

	resp, body := ts.do(t, http.MethodDelete, "/spokes/11", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RollbackFailed, body["rollback_status"])
	errs, _ := body["errors"].([]any)
	assert.NotEmpty(t, errs)

	rec, err := ts.store.Get(context.Background(), 11)
	require.NoError(t, err)
	require.NotNil(t, rec, "record is kept for a retry")
	assert.Equal(t, deployment.StatusRollbackFailed, rec.Status)

	// A second delete retries the rollback.
	ts.cloud.Clear(memory.OpDeleteInstance)
	resp, body = ts.do(t, http.MethodDelete, "/spokes/11", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RollbackCompleted, body["rollback_status"])
}

func TestDeleteSpoke_MissingNeverTouchesProvider(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodDelete, "/spokes/12", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["exists"])
	assert.Empty(t, ts.cloud.Calls())
}

func TestDeleteSpoke_CreateInFlightConflict(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	rec := deployment.New(13, "acme")
	require.NoError(t, rec.StartStep(provisioning.StepCreateNetwork, ""))
	require.NoError(t, ts.store.Save(context.Background(), rec))

	require.True(t, ts.srv.claim(13))
	resp, body := ts.do(t, http.MethodDelete, "/spokes/13", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["message"], "still being created")
	assert.Empty(t, ts.cloud.Calls())
	ts.srv.unclaim(13)
}

func TestDeleteSpoke_AbandonedInProgress(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ctx := context.Background()
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 21, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A process that died mid-workflow leaves the record in_progress.
	rec, err := ts.store.Get(ctx, 21)
	require.NoError(t, err)
	rec.Status = deployment.StatusInProgress
	rec.CompletedAt = nil
	require.NoError(t, ts.store.Save(ctx, rec))
	require.True(t, ts.cloud.Has("network", rec.NetworkName))

	resp, body := ts.do(t, http.MethodDelete, "/spokes/21", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RollbackCompleted, body["rollback_status"])
	assert.False(t, ts.cloud.Has("network", rec.NetworkName))
	assert.False(t, ts.cloud.Has("instance", rec.InstanceName))

	got, err := ts.store.Get(ctx, 21)
	require.NoError(t, err)
	assert.Nil(t, got)

	resp, _ = ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 21, "client_name": "acme"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestDeleteSpoke_ActiveRollbackConflict(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, memory.WithLatency(20*time.Millisecond))
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 14, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec, err := ts.store.Get(context.Background(), 14)
	require.NoError(t, err)
	req, err := spoke.FromRecord(rec, ts.cfg)
	require.NoError(t, err)
	_, err = ts.orch.Runner().Schedule(req, rec)
	require.NoError(t, err)

	resp, _ = ts.do(t, http.MethodDelete, "/spokes/14", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NoError(t, ts.orch.Runner().Wait(14))
}

func TestStatisticsAndNextID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	resp, _ := ts.do(t, http.MethodPost, "/spokes", `{"spoke_id": 2, "client_name": "acme"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/spokes/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_deployments"])
	assert.EqualValues(t, 100, body["success_rate"])

	resp, body = ts.do(t, http.MethodGet, "/spokes/next-id", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["next_spoke_id"])
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/metrics", nil)
	require.NoError(t, err)
	mresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hubspoke_http_requests_total")
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(RequestID(logr.Discard()), Recovery())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(CodeInternal))
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}
