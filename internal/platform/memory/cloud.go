package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/provisioning"
)

// Operation names used for fault injection and the call log.
const (
	OpCreateNetwork     = "CreateNetwork"
	OpGetNetwork        = "GetNetwork"
	OpDeleteNetwork     = "DeleteNetwork"
	OpCreateSubnet      = "CreateSubnet"
	OpGetSubnet         = "GetSubnet"
	OpCreateNIC         = "CreateNIC"
	OpGetNIC            = "GetNIC"
	OpDeleteNIC         = "DeleteNIC"
	OpCreatePeering     = "CreatePeering"
	OpGetPeering        = "GetPeering"
	OpCreateInstance    = "CreateInstance"
	OpGetInstance       = "GetInstance"
	OpDeleteInstance    = "DeleteInstance"
	OpDeleteDisk        = "DeleteDisk"
	OpGetGateway        = "GetGateway"
	OpGetBackendPool    = "GetBackendPool"
	OpCreateBackendPool = "CreateBackendPool"
	OpDeleteBackendPool = "DeleteBackendPool"
	OpListBackendPools  = "ListBackendPools"
	OpBackendHealth     = "BackendHealth"

	// OpProvisionInstance is not a method. A fault registered for it makes
	// new instances end in the failed provisioning state.
	OpProvisionInstance = "ProvisionInstance"
)

type network struct {
	provisioning.Network
	peerings map[string]*peering
}

type peering struct {
	provisioning.Peering
	polls int
}

type instance struct {
	provisioning.Instance
	nic   string
	disk  string
	polls int
}

type nic struct {
	provisioning.NIC
	// reserved counts delete attempts still rejected after detachment.
	reserved int
}

type pool struct {
	provisioning.BackendPool
	polls int
}

type gateway struct {
	provisioning.Gateway
	pools map[string]*pool
}

type fault struct {
	err error
	// remaining is the number of calls still failing; negative means always.
	remaining int
}

// Cloud is a simulated provider. The zero value is not usable; call New.
type Cloud struct {
	mu sync.Mutex

	networks  map[string]*network
	nics      map[string]*nic
	instances map[string]*instance
	disks     map[string]bool
	gateways  map[string]*gateway

	faults map[string]*fault
	calls  []string
	nextID int

	readyAfter     int
	nicReservation int
	connectAfter   int
	healthyAfter   int
	latency        time.Duration
}

// Option configures a Cloud.
type Option func(*Cloud)

// WithHub seeds a pre-existing hub network.
func WithHub(name, cidr string) Option {
	return func(c *Cloud) {
		c.networks[name] = &network{
			Network:  provisioning.Network{ID: c.id("net"), Name: name, CIDR: cidr},
			peerings: map[string]*peering{},
		}
	}
}

// WithGateway seeds a pre-existing gateway.
func WithGateway(name string) Option {
	return func(c *Cloud) {
		c.gateways[name] = &gateway{
			Gateway: provisioning.Gateway{ID: c.id("gw"), Name: name},
			pools:   map[string]*pool{},
		}
	}
}

// WithReadyAfter sets how many GetInstance polls an instance stays creating.
func WithReadyAfter(polls int) Option {
	return func(c *Cloud) { c.readyAfter = polls }
}

// WithNICReservation sets how many delete attempts an interface rejects with
// ErrInUse after its instance was deleted.
func WithNICReservation(attempts int) Option {
	return func(c *Cloud) { c.nicReservation = attempts }
}

// WithConnectAfter sets how many GetPeering polls a peering stays initiated.
func WithConnectAfter(polls int) Option {
	return func(c *Cloud) { c.connectAfter = polls }
}

// WithHealthyAfter sets how many BackendHealth calls report unhealthy.
func WithHealthyAfter(polls int) Option {
	return func(c *Cloud) { c.healthyAfter = polls }
}

// WithLatency delays every call, simulating remote round trips.
func WithLatency(d time.Duration) Option {
	return func(c *Cloud) { c.latency = d }
}

// New creates a simulated cloud.
func New(opts ...Option) *Cloud {
	c := &Cloud{
		networks:  map[string]*network{},
		nics:      map[string]*nic{},
		instances: map[string]*instance{},
		disks:     map[string]bool{},
		gateways:  map[string]*gateway{},
		faults:    map[string]*fault{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a simulated cloud seeded with the hub and gateway
// named in cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) *Cloud {
	seed := []Option{
		WithHub(cfg.Hub.NetworkName, cfg.Hub.CIDR),
		WithGateway(cfg.Gateway.Name),
	}
	return New(append(seed, opts...)...)
}

// Providers returns the cloud as a provisioning.Providers bundle.
func (c *Cloud) Providers() provisioning.Providers {
	return provisioning.Providers{Network: c, Compute: c, Gateway: c}
}

// Fail makes every call of op return err until Clear is called.
func (c *Cloud) Fail(op string, err error) {
	c.FailTimes(op, -1, err)
}

// FailTimes makes the next n calls of op return err.
func (c *Cloud) FailTimes(op string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = &fault{err: err, remaining: n}
}

// Clear removes the fault registered for op.
func (c *Cloud) Clear(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.faults, op)
}

// Calls returns the call log as "Op name" entries in call order.
func (c *Cloud) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallCount returns how often op was called.
func (c *Cloud) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, op+" ") {
			n++
		}
	}
	return n
}

// Resources lists every resource currently held as "kind/name", sorted.
// Seeded hub networks and gateways are included.
func (c *Cloud) Resources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name, n := range c.networks {
		out = append(out, "network/"+name)
		for pname := range n.peerings {
			out = append(out, "peering/"+pname)
		}
	}
	for name := range c.nics {
		out = append(out, "nic/"+name)
	}
	for name := range c.instances {
		out = append(out, "instance/"+name)
	}
	for name := range c.disks {
		out = append(out, "disk/"+name)
	}
	for gname, g := range c.gateways {
		out = append(out, "gateway/"+gname)
		for pname := range g.pools {
			out = append(out, "pool/"+pname)
		}
	}
	sort.Strings(out)
	return out
}

// Has reports whether a resource of kind ("network", "nic", "instance",
// "disk", "pool", "peering") with the given name exists.
func (c *Cloud) Has(kind, name string) bool {
	want := kind + "/" + name
	for _, r := range c.Resources() {
		if r == want {
			return true
		}
	}
	return false
}

// enter records the call, applies latency and returns an injected fault.
// The caller must not hold mu.
func (c *Cloud) enter(ctx context.Context, op, name string) error {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op+" "+name)
	return c.takeFault(op)
}

// takeFault must be called with mu held.
func (c *Cloud) takeFault(op string) error {
	f, ok := c.faults[op]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(c.faults, op)
		}
	}
	return f.err
}

// id must be called with mu held, or before the cloud is shared.
func (c *Cloud) id(kind string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", kind, c.nextID)
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, provisioning.ErrNotFound)
}

func inUse(kind, name, reason string) error {
	return fmt.Errorf("%s %q %s: %w", kind, name, reason, provisioning.ErrInUse)
}

func conflict(kind, name string) error {
	return fmt.Errorf("%s %q already exists", kind, name)
}
