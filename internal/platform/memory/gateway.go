package memory

import (
	"context"
	"sort"

	"github.com/imamik/hubspoke/internal/provisioning"
)

var _ provisioning.GatewayProvisioner = (*Cloud)(nil)

func (c *Cloud) GetGateway(ctx context.Context, name string) (*provisioning.Gateway, error) {
	if err := c.enter(ctx, OpGetGateway, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[name]
	if !ok {
		return nil, nil
	}
	out := g.Gateway
	out.BackendPools = sortedKeys(g.pools)
	return &out, nil
}

func (c *Cloud) GetBackendPool(ctx context.Context, gatewayName, name string) (*provisioning.BackendPool, error) {
	if err := c.enter(ctx, OpGetBackendPool, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[gatewayName]
	if !ok {
		return nil, notFound("gateway", gatewayName)
	}
	p, ok := g.pools[name]
	if !ok {
		return nil, nil
	}
	return copyPool(p), nil
}

func (c *Cloud) CreateBackendPool(ctx context.Context, gatewayName string, bp provisioning.BackendPool) (*provisioning.BackendPool, error) {
	if err := c.enter(ctx, OpCreateBackendPool, bp.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[gatewayName]
	if !ok {
		return nil, notFound("gateway", gatewayName)
	}
	if _, ok := g.pools[bp.Name]; ok {
		return nil, conflict("backend pool", bp.Name)
	}
	p := &pool{BackendPool: provisioning.BackendPool{
		Name:      bp.Name,
		Addresses: append([]string(nil), bp.Addresses...),
	}}
	g.pools[bp.Name] = p
	return copyPool(p), nil
}

func (c *Cloud) DeleteBackendPool(ctx context.Context, gatewayName, name string) error {
	if err := c.enter(ctx, OpDeleteBackendPool, name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[gatewayName]
	if !ok {
		return notFound("gateway", gatewayName)
	}
	if _, ok := g.pools[name]; !ok {
		return notFound("backend pool", name)
	}
	delete(g.pools, name)
	return nil
}

func (c *Cloud) ListBackendPools(ctx context.Context, gatewayName string) ([]provisioning.BackendPool, error) {
	if err := c.enter(ctx, OpListBackendPools, gatewayName); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[gatewayName]
	if !ok {
		return nil, notFound("gateway", gatewayName)
	}
	out := make([]provisioning.BackendPool, 0, len(g.pools))
	for _, name := range sortedKeys(g.pools) {
		out = append(out, *copyPool(g.pools[name]))
	}
	return out, nil
}

// BackendHealth reports every address unhealthy until the pool has been
// checked healthyAfter times.
func (c *Cloud) BackendHealth(ctx context.Context, gatewayName, name string) ([]provisioning.BackendHealth, error) {
	if err := c.enter(ctx, OpBackendHealth, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gateways[gatewayName]
	if !ok {
		return nil, notFound("gateway", gatewayName)
	}
	p, ok := g.pools[name]
	if !ok {
		return nil, notFound("backend pool", name)
	}
	p.polls++
	healthy := p.polls > c.healthyAfter

	out := make([]provisioning.BackendHealth, len(p.Addresses))
	for i, addr := range p.Addresses {
		state := "unhealthy"
		if healthy {
			state = "healthy"
		}
		out[i] = provisioning.BackendHealth{Address: addr, Healthy: healthy, State: state}
	}
	return out, nil
}

func copyPool(p *pool) *provisioning.BackendPool {
	return &provisioning.BackendPool{
		Name:      p.Name,
		Addresses: append([]string(nil), p.Addresses...),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
