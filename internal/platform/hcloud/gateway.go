package hcloud

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/util/labels"
)

// GetGateway returns the load balancer with the given name.
func (c *Client) GetGateway(ctx context.Context, name string) (*provisioning.Gateway, error) {
	lb, _, err := c.client.LoadBalancer.Get(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if lb == nil {
		return nil, nil
	}
	gw := &provisioning.Gateway{ID: strconv.FormatInt(lb.ID, 10), Name: lb.Name}
	for _, t := range lb.Targets {
		if pool, ok := poolOf(t); ok {
			gw.BackendPools = append(gw.BackendPools, pool)
		}
	}
	slices.Sort(gw.BackendPools)
	return gw, nil
}

// GetBackendPool returns the pool, or nil when the gateway has no such target.
func (c *Client) GetBackendPool(ctx context.Context, gateway, pool string) (*provisioning.BackendPool, error) {
	lb, err := c.loadBalancer(ctx, gateway)
	if err != nil {
		return nil, err
	}
	target := findPoolTarget(lb, pool)
	if target == nil {
		return nil, nil
	}
	return c.toBackendPool(ctx, pool, target)
}

// CreateBackendPool labels the servers owning the pool addresses and adds a
// label selector target matching them.
func (c *Client) CreateBackendPool(ctx context.Context, gateway string, pool provisioning.BackendPool) (*provisioning.BackendPool, error) {
	lb, err := c.loadBalancer(ctx, gateway)
	if err != nil {
		return nil, err
	}
	if findPoolTarget(lb, pool.Name) != nil {
		return nil, fmt.Errorf("backend pool %s already exists on %s", pool.Name, gateway)
	}

	if err := c.labelPoolMembers(ctx, pool); err != nil {
		return nil, err
	}

	action, _, err := c.client.LoadBalancer.AddLabelSelectorTarget(ctx, lb, hcloud.LoadBalancerAddLabelSelectorTargetOpts{
		Selector:     labels.SelectorForPool(pool.Name),
		UsePrivateIP: hcloud.Ptr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add target: %w", classify(err))
	}
	if err := waitForActions(ctx, c.client, action); err != nil {
		return nil, fmt.Errorf("failed to wait for target: %w", err)
	}
	return &provisioning.BackendPool{Name: pool.Name, Addresses: slices.Clone(pool.Addresses)}, nil
}

// labelPoolMembers adds the pool label to every managed server whose private
// address is one of the pool's addresses.
func (c *Client) labelPoolMembers(ctx context.Context, pool provisioning.BackendPool) error {
	servers, err := c.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: labels.KeyManagedBy + "=" + labels.ManagedByHubspoke},
	})
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", classify(err))
	}

	remaining := make(map[string]bool, len(pool.Addresses))
	for _, addr := range pool.Addresses {
		remaining[addr] = true
	}
	for _, server := range servers {
		addr := privateAddress(server)
		if !remaining[addr] {
			continue
		}
		delete(remaining, addr)
		if server.Labels[labels.KeyPool] == pool.Name {
			continue
		}
		updated := maps.Clone(server.Labels)
		if updated == nil {
			updated = map[string]string{}
		}
		updated[labels.KeyPool] = pool.Name
		if _, _, err := c.client.Server.Update(ctx, server, hcloud.ServerUpdateOpts{Labels: updated}); err != nil {
			return fmt.Errorf("failed to label instance %s: %w", server.Name, classify(err))
		}
	}
	if len(remaining) > 0 {
		missing := slices.Sorted(maps.Keys(remaining))
		return fmt.Errorf("no instance found for pool addresses %s: %w", strings.Join(missing, ", "), provisioning.ErrNotFound)
	}
	return nil
}

// DeleteBackendPool removes the pool's target from the load balancer.
func (c *Client) DeleteBackendPool(ctx context.Context, gateway, pool string) error {
	lb, err := c.loadBalancer(ctx, gateway)
	if err != nil {
		return err
	}
	if findPoolTarget(lb, pool) == nil {
		return notFound("backend pool", pool)
	}
	action, _, err := c.client.LoadBalancer.RemoveLabelSelectorTarget(ctx, lb, labels.SelectorForPool(pool))
	if err != nil {
		return fmt.Errorf("failed to remove target: %w", classify(err))
	}
	return waitForActions(ctx, c.client, action)
}

// ListBackendPools returns every pool target on the gateway.
func (c *Client) ListBackendPools(ctx context.Context, gateway string) ([]provisioning.BackendPool, error) {
	lb, err := c.loadBalancer(ctx, gateway)
	if err != nil {
		return nil, err
	}
	var out []provisioning.BackendPool
	for i := range lb.Targets {
		name, ok := poolOf(lb.Targets[i])
		if !ok {
			continue
		}
		pool, err := c.toBackendPool(ctx, name, &lb.Targets[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *pool)
	}
	slices.SortFunc(out, func(a, b provisioning.BackendPool) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// BackendHealth reports the health of every server the pool target resolved to.
func (c *Client) BackendHealth(ctx context.Context, gateway, pool string) ([]provisioning.BackendHealth, error) {
	lb, err := c.loadBalancer(ctx, gateway)
	if err != nil {
		return nil, err
	}
	target := findPoolTarget(lb, pool)
	if target == nil {
		return nil, notFound("backend pool", pool)
	}

	out := make([]provisioning.BackendHealth, 0, len(target.Targets))
	for _, resolved := range target.Targets {
		addr, err := c.targetAddress(ctx, resolved)
		if err != nil {
			return nil, err
		}
		healthy, state := targetHealth(resolved.HealthStatus)
		out = append(out, provisioning.BackendHealth{Address: addr, Healthy: healthy, State: state})
	}
	return out, nil
}

func (c *Client) loadBalancer(ctx context.Context, name string) (*hcloud.LoadBalancer, error) {
	lb, _, err := c.client.LoadBalancer.Get(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if lb == nil {
		return nil, notFound("gateway", name)
	}
	return lb, nil
}

func (c *Client) toBackendPool(ctx context.Context, name string, target *hcloud.LoadBalancerTarget) (*provisioning.BackendPool, error) {
	pool := &provisioning.BackendPool{Name: name}
	for _, resolved := range target.Targets {
		addr, err := c.targetAddress(ctx, resolved)
		if err != nil {
			return nil, err
		}
		if addr != "" {
			pool.Addresses = append(pool.Addresses, addr)
		}
	}
	slices.Sort(pool.Addresses)
	return pool, nil
}

// targetAddress resolves a server target to its private address.
func (c *Client) targetAddress(ctx context.Context, t hcloud.LoadBalancerTarget) (string, error) {
	if t.Server == nil || t.Server.Server == nil {
		return "", nil
	}
	server, _, err := c.client.Server.GetByID(ctx, t.Server.Server.ID)
	if err != nil {
		return "", classify(err)
	}
	if server == nil {
		return "", nil
	}
	return privateAddress(server), nil
}

func findPoolTarget(lb *hcloud.LoadBalancer, pool string) *hcloud.LoadBalancerTarget {
	for i, t := range lb.Targets {
		if name, ok := poolOf(t); ok && name == pool {
			return &lb.Targets[i]
		}
	}
	return nil
}

// poolOf returns the pool name of a label selector target created here.
func poolOf(t hcloud.LoadBalancerTarget) (string, bool) {
	if t.Type != hcloud.LoadBalancerTargetTypeLabelSelector || t.LabelSelector == nil {
		return "", false
	}
	return strings.CutPrefix(t.LabelSelector.Selector, labels.KeyPool+"=")
}

// targetHealth is healthy only when every service reports healthy.
func targetHealth(statuses []hcloud.LoadBalancerTargetHealthStatus) (bool, string) {
	if len(statuses) == 0 {
		return false, string(hcloud.LoadBalancerTargetHealthStatusStatusUnknown)
	}
	for _, s := range statuses {
		if s.Status != hcloud.LoadBalancerTargetHealthStatusStatusHealthy {
			return false, string(s.Status)
		}
	}
	return true, string(hcloud.LoadBalancerTargetHealthStatusStatusHealthy)
}

func privateAddress(server *hcloud.Server) string {
	for _, pn := range server.PrivateNet {
		if pn.IP != nil {
			return pn.IP.String()
		}
	}
	return ""
}
