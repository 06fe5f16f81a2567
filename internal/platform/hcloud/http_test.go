package hcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/hetznercloud/hcloud-go/v2/hcloud/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/store"
	"github.com/imamik/hubspoke/internal/util/retry"
)

// testServer mocks the Hetzner Cloud API.
type testServer struct {
	server *httptest.Server
	mux    *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{server: server, mux: mux}
}

func (ts *testServer) client(opts ...ClientOption) *Client {
	hc := hcloud.NewClient(
		hcloud.WithToken("test-token"),
		hcloud.WithEndpoint(ts.server.URL),
	)
	base := []ClientOption{
		WithHCloudClient(hc),
		WithTimeouts(config.FastTimeouts()),
		WithLocation("fsn1", "eu-central"),
	}
	return New("test-token", append(base, opts...)...)
}

func (ts *testServer) handleFunc(pattern string, handler http.HandlerFunc) {
	ts.mux.HandleFunc(pattern, handler)
}

func jsonResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func spokeNetwork() schema.Network {
	return schema.Network{
		ID:      100,
		Name:    "spoke-vnet-3",
		IPRange: "10.11.3.0/24",
		Subnets: []schema.NetworkSubnet{
			{Type: "cloud", IPRange: "10.11.3.0/26", NetworkZone: "eu-central"},
		},
		Labels: map[string]string{},
	}
}

func TestClient_GetNetwork(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/networks", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "spoke-vnet-3" {
			jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{spokeNetwork()}})
			return
		}
		jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{}})
	})
	c := ts.client()
	ctx := context.Background()

	t.Run("exists", func(t *testing.T) {
		n, err := c.GetNetwork(ctx, "spoke-vnet-3")
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, "100", n.ID)
		assert.Equal(t, "10.11.3.0/24", n.CIDR)
		assert.Equal(t, []provisioning.Subnet{{Name: "10.11.3.0/26", CIDR: "10.11.3.0/26"}}, n.Subnets)
	})

	t.Run("missing", func(t *testing.T) {
		n, err := c.GetNetwork(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("subnet lookup", func(t *testing.T) {
		s, err := c.GetSubnet(ctx, "spoke-vnet-3", "10.11.3.0/26")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "10.11.3.0/26", s.CIDR)

		s, err = c.GetSubnet(ctx, "spoke-vnet-3", "10.11.3.64/26")
		require.NoError(t, err)
		assert.Nil(t, s)

		_, err = c.GetSubnet(ctx, "nope", "10.11.3.0/26")
		assert.ErrorIs(t, err, provisioning.ErrNotFound)
	})
}

func TestClient_CreateNetwork(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	var created atomic.Bool
	ts.handleFunc("/networks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created.Store(true)
			jsonResponse(w, http.StatusCreated, schema.NetworkCreateResponse{Network: spokeNetwork()})
			return
		}
		jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{}})
	})

	n, err := ts.client().CreateNetwork(context.Background(), provisioning.NetworkSpec{
		Name: "spoke-vnet-3",
		CIDR: "10.11.3.0/24",
	})
	require.NoError(t, err)
	assert.True(t, created.Load())
	assert.Equal(t, "spoke-vnet-3", n.Name)
}

func TestClient_CreateNetwork_RangeMismatch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/networks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			t.Error("unexpected create")
		}
		jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{spokeNetwork()}})
	})

	_, err := ts.client().CreateNetwork(context.Background(), provisioning.NetworkSpec{
		Name: "spoke-vnet-3",
		CIDR: "10.11.4.0/24",
	})
	assert.ErrorContains(t, err, "different IP range")
}

func TestClient_DeleteNetwork(t *testing.T) {
	t.Parallel()

	t.Run("missing network succeeds", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		ts.handleFunc("/networks", func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{}})
		})
		assert.NoError(t, ts.client().DeleteNetwork(context.Background(), "spoke-vnet-3"))
	})

	t.Run("attached servers are refused", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		n := spokeNetwork()
		n.Servers = []int64{42}
		ts.handleFunc("/networks", func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{n}})
		})
		err := ts.client().DeleteNetwork(context.Background(), "spoke-vnet-3")
		assert.ErrorIs(t, err, provisioning.ErrInUse)
	})

	t.Run("deletes by id", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		var deleted atomic.Bool
		ts.handleFunc("/networks", func(w http.ResponseWriter, _ *http.Request) {
			if deleted.Load() {
				jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{}})
				return
			}
			jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{spokeNetwork()}})
		})
		ts.handleFunc("/networks/100", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				deleted.Store(true)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusMethodNotAllowed)
		})
		require.NoError(t, ts.client().DeleteNetwork(context.Background(), "spoke-vnet-3"))
		assert.True(t, deleted.Load())
	})
}

func TestClient_GetPeering(t *testing.T) {
	t.Parallel()
	hub := schema.Network{
		ID:      1,
		Name:    "hub-vnet",
		IPRange: "10.0.0.0/16",
		Routes:  []schema.NetworkRoute{{Destination: "10.11.3.0/24", Gateway: "10.0.0.2"}},
		Labels: map[string]string{
			peeringDestinationPrefix + "hub-to-spoke-3": "10.11.3.0_24",
			peeringRemotePrefix + "hub-to-spoke-3":      "spoke-vnet-3",
			peeringDestinationPrefix + "hub-to-spoke-4": "10.11.4.0_24",
		},
	}
	ts := newTestServer(t)
	ts.handleFunc("/networks", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, schema.NetworkListResponse{Networks: []schema.Network{hub}})
	})
	c := ts.client()
	ctx := context.Background()

	tests := []struct {
		name    string
		peering string
		want    provisioning.PeeringState
	}{
		{name: "route present", peering: "hub-to-spoke-3", want: provisioning.PeeringConnected},
		{name: "label only", peering: "hub-to-spoke-4", want: provisioning.PeeringInitiated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.GetPeering(ctx, "hub-vnet", tt.peering)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.State)
		})
	}

	p, err := c.GetPeering(ctx, "hub-vnet", "hub-to-spoke-9")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = c.GetPeering(ctx, "hub-vnet", "hub-to-spoke-3")
	require.NoError(t, err)
	assert.Equal(t, "spoke-vnet-3", p.RemoteNetwork)
}

func TestClient_GetInstance(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "spoke-vm-3" {
			jsonResponse(w, http.StatusOK, schema.ServerListResponse{
				Servers: []schema.Server{{
					ID:         7,
					Name:       "spoke-vm-3",
					Status:     "running",
					ServerType: schema.ServerType{Name: "cx22"},
					PrivateNet: []schema.ServerPrivateNet{{Network: 100, IP: "10.11.3.10"}},
				}},
			})
			return
		}
		jsonResponse(w, http.StatusOK, schema.ServerListResponse{Servers: []schema.Server{}})
	})
	c := ts.client()

	inst, err := c.GetInstance(context.Background(), "spoke-vm-3")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "7", inst.ID)
	assert.Equal(t, "cx22", inst.Size)
	assert.Equal(t, "10.11.3.10", inst.PrivateIP)
	assert.True(t, inst.Ready())

	inst, err = c.GetInstance(context.Background(), "spoke-vm-4")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestClient_DeleteNIC_AssignedIsInUse(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/primary_ips", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{
			"primary_ips": []map[string]any{{
				"id":            11,
				"name":          "spoke-vm-3-nic",
				"ip":            "203.0.113.10",
				"type":          "ipv4",
				"assignee_id":   7,
				"assignee_type": "server",
				"labels":        map[string]string{labelNICPrivateIP: "10.11.3.10"},
			}},
		})
	})
	ts.handleFunc("/primary_ips/11", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			t.Error("assigned interface must not be deleted")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := ts.client().DeleteNIC(context.Background(), "spoke-vm-3-nic")
	assert.ErrorIs(t, err, provisioning.ErrInUse)
	assert.True(t, provisioning.IsInUse(err))
	assert.False(t, retry.IsFatal(err), "an assigned interface may still be released")
}

func TestRollback_WaitsForNICRelease(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	var gets, deletes atomic.Int32
	ts.handleFunc("/servers", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, schema.ServerListResponse{Servers: []schema.Server{}})
	})
	ts.handleFunc("/volumes", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, schema.VolumeListResponse{Volumes: []schema.Volume{}})
	})
	ts.handleFunc("/primary_ips", func(w http.ResponseWriter, _ *http.Request) {
		var assignee int64
		if gets.Add(1) <= 2 {
			assignee = 7
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"primary_ips": []map[string]any{{
				"id":            11,
				"name":          "spoke-vm-3-nic",
				"ip":            "203.0.113.10",
				"type":          "ipv4",
				"assignee_id":   assignee,
				"assignee_type": "server",
				"labels":        map[string]string{labelNICPrivateIP: "10.11.3.10"},
			}},
		})
	})
	ts.handleFunc("/primary_ips/11", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	rec := deployment.New(3, "acme")
	require.NoError(t, rec.StartStep(provisioning.StepCreateNIC, ""))
	require.NoError(t, rec.CompleteStep(provisioning.StepCreateNIC))
	require.NoError(t, rec.StartStep(provisioning.StepDeployInstance, ""))
	require.NoError(t, rec.FailStep(provisioning.StepDeployInstance, "quota exceeded"))
	req := spoke.Request{SpokeID: 3, InstanceName: "spoke-vm-3", NICName: "spoke-vm-3-nic", DiskName: "spoke-vm-3-osdisk"}

	engine := provisioning.NewRollbackEngine(ts.client().Providers(), store.NewMemoryStore(), config.FastTimeouts(), logr.Discard(), nil)
	require.NoError(t, engine.Rollback(context.Background(), req, rec))

	assert.Equal(t, deployment.StatusRolledBack, rec.Status)
	assert.EqualValues(t, 3, gets.Load())
	assert.EqualValues(t, 1, deletes.Load())
}

func TestClient_ErrorsAreClassified(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/load_balancers", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusNotFound, schema.ErrorResponse{
			Error: schema.Error{Code: "not_found", Message: "load balancer not found"},
		})
	})

	_, err := ts.client().GetGateway(context.Background(), "hub-gateway")
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
}

func TestClient_BackendPoolOnMissingGateway(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.handleFunc("/load_balancers", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, schema.LoadBalancerListResponse{LoadBalancers: []schema.LoadBalancer{}})
	})
	c := ts.client()
	ctx := context.Background()

	gw, err := c.GetGateway(ctx, "hub-gateway")
	require.NoError(t, err)
	assert.Nil(t, gw)

	_, err = c.GetBackendPool(ctx, "hub-gateway", "spoke3-pool")
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
	err = c.DeleteBackendPool(ctx, "hub-gateway", "spoke3-pool")
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
}
