package hcloud

import (
	"context"
	"fmt"
	"maps"
	"net"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/provisioning"
)

// Network label prefixes recording peerings. The key suffix is the peering
// name.
const (
	peeringDestinationPrefix = "peering.hubspoke.io/"
	peeringRemotePrefix      = "peer.hubspoke.io/"
)

// CreateNetwork creates the network or returns the existing one if its range matches.
func (c *Client) CreateNetwork(ctx context.Context, spec provisioning.NetworkSpec) (*provisioning.Network, error) {
	_, ipNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid network range %q: %w", spec.CIDR, err)
	}

	network, err := (&EnsureOperation[*hcloud.Network, hcloud.NetworkCreateOpts]{
		Name:         spec.Name,
		ResourceType: "network",
		Get:          c.client.Network.Get,
		Create:       simpleCreate(c.client.Network.Create),
		Validate: func(network *hcloud.Network) error {
			if network.IPRange.String() != ipNet.String() {
				return fmt.Errorf("network %s exists but with different IP range %s (expected %s)",
					spec.Name, network.IPRange.String(), ipNet.String())
			}
			return nil
		},
		Opts: func() hcloud.NetworkCreateOpts {
			return hcloud.NetworkCreateOpts{
				Name:    spec.Name,
				IPRange: ipNet,
				Labels:  spec.Labels,
			}
		},
	}).Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return toNetwork(network), nil
}

// GetNetwork returns the network with the given name.
func (c *Client) GetNetwork(ctx context.Context, name string) (*provisioning.Network, error) {
	network, _, err := c.client.Network.Get(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, nil
	}
	return toNetwork(network), nil
}

// DeleteNetwork deletes the network after removing the hub routes that
// point at it. It refuses while servers are still attached.
func (c *Client) DeleteNetwork(ctx context.Context, name string) error {
	network, _, err := c.client.Network.Get(ctx, name)
	if err != nil {
		return classify(err)
	}
	if network == nil {
		return nil
	}
	if len(network.Servers) > 0 {
		return inUse("network", name, fmt.Sprintf("has %d attached servers", len(network.Servers)))
	}

	if c.hubNetwork != "" && c.hubNetwork != name && network.IPRange != nil {
		if err := c.removePeeringsTowards(ctx, c.hubNetwork, network.IPRange); err != nil {
			return err
		}
	}

	return (&DeleteOperation[*hcloud.Network]{
		Name:         name,
		ResourceType: "network",
		Get:          c.client.Network.Get,
		Delete: func(ctx context.Context, n *hcloud.Network) ([]*hcloud.Action, error) {
			_, err := c.client.Network.Delete(ctx, n)
			return nil, err
		},
	}).Execute(ctx, c)
}

// CreateSubnet adds a cloud subnet to the network unless one with the same range exists.
func (c *Client) CreateSubnet(ctx context.Context, spec provisioning.SubnetSpec) (*provisioning.Subnet, error) {
	network, _, err := c.client.Network.Get(ctx, spec.Network)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, notFound("network", spec.Network)
	}

	_, ipNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet ip range: %w", err)
	}
	for _, subnet := range network.Subnets {
		if subnet.IPRange.String() == ipNet.String() {
			return &provisioning.Subnet{Name: spec.Name, CIDR: ipNet.String()}, nil
		}
	}

	zone := spec.Zone
	if zone == "" {
		zone = c.zone
	}
	action, _, err := c.client.Network.AddSubnet(ctx, network, hcloud.NetworkAddSubnetOpts{
		Subnet: hcloud.NetworkSubnet{
			Type:        hcloud.NetworkSubnetTypeCloud,
			IPRange:     ipNet,
			NetworkZone: hcloud.NetworkZone(zone),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add subnet: %w", classify(err))
	}
	if err := waitForActions(ctx, c.client, action); err != nil {
		return nil, fmt.Errorf("failed to wait for subnet creation: %w", err)
	}
	return &provisioning.Subnet{Name: spec.Name, CIDR: ipNet.String()}, nil
}

// GetSubnet looks a subnet up by range. The provider does not name subnets,
// so the range doubles as the name.
func (c *Client) GetSubnet(ctx context.Context, networkName, cidr string) (*provisioning.Subnet, error) {
	network, _, err := c.client.Network.Get(ctx, networkName)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, notFound("network", networkName)
	}
	for _, subnet := range network.Subnets {
		if subnet.IPRange != nil && subnet.IPRange.String() == cidr {
			return &provisioning.Subnet{Name: cidr, CIDR: cidr}, nil
		}
	}
	return nil, nil
}

// CreatePeering adds a route towards the remote range and records the
// peering on the network's labels.
func (c *Client) CreatePeering(ctx context.Context, spec provisioning.PeeringSpec) (*provisioning.Peering, error) {
	network, _, err := c.client.Network.Get(ctx, spec.Network)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, notFound("network", spec.Network)
	}

	_, dest, err := net.ParseCIDR(spec.RemoteCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid peering destination %q: %w", spec.RemoteCIDR, err)
	}
	gateway := net.ParseIP(spec.NextHop)
	if gateway == nil {
		return nil, fmt.Errorf("invalid peering next hop %q", spec.NextHop)
	}

	if findRoute(network, dest) == nil {
		action, _, err := c.client.Network.AddRoute(ctx, network, hcloud.NetworkAddRouteOpts{
			Route: hcloud.NetworkRoute{Destination: dest, Gateway: gateway},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add route: %w", classify(err))
		}
		if err := waitForActions(ctx, c.client, action); err != nil {
			return nil, fmt.Errorf("failed to wait for route creation: %w", err)
		}
	}

	labels := maps.Clone(network.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[peeringDestinationPrefix+spec.Name] = encodeCIDR(dest)
	labels[peeringRemotePrefix+spec.Name] = spec.RemoteNetwork
	if _, _, err := c.client.Network.Update(ctx, network, hcloud.NetworkUpdateOpts{Labels: labels}); err != nil {
		return nil, fmt.Errorf("failed to label network: %w", classify(err))
	}

	return &provisioning.Peering{
		Name:          spec.Name,
		Network:       spec.Network,
		RemoteNetwork: spec.RemoteNetwork,
		State:         provisioning.PeeringConnected,
	}, nil
}

// GetPeering reports a peering as connected once its route exists and as
// initiated while only the label is present.
func (c *Client) GetPeering(ctx context.Context, networkName, name string) (*provisioning.Peering, error) {
	network, _, err := c.client.Network.Get(ctx, networkName)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, notFound("network", networkName)
	}

	encoded, ok := network.Labels[peeringDestinationPrefix+name]
	if !ok {
		return nil, nil
	}
	p := &provisioning.Peering{
		Name:          name,
		Network:       networkName,
		RemoteNetwork: network.Labels[peeringRemotePrefix+name],
		State:         provisioning.PeeringInitiated,
	}
	if dest, err := decodeCIDR(encoded); err == nil && findRoute(network, dest) != nil {
		p.State = provisioning.PeeringConnected
	}
	return p, nil
}

// removePeeringsTowards deletes the routes and peering labels in owner
// whose destination is dest.
func (c *Client) removePeeringsTowards(ctx context.Context, owner string, dest *net.IPNet) error {
	network, _, err := c.client.Network.Get(ctx, owner)
	if err != nil {
		return classify(err)
	}
	if network == nil {
		return nil
	}

	if route := findRoute(network, dest); route != nil {
		action, _, err := c.client.Network.DeleteRoute(ctx, network, hcloud.NetworkDeleteRouteOpts{Route: *route})
		if err != nil && !isHCloudErrorCode(err, hcloud.ErrorCodeNotFound) {
			return fmt.Errorf("failed to delete route towards %s: %w", dest, classify(err))
		}
		if err := waitForActions(ctx, c.client, action); err != nil {
			return fmt.Errorf("failed to wait for route deletion: %w", err)
		}
	}

	labels := maps.Clone(network.Labels)
	changed := false
	for key, value := range network.Labels {
		name, ok := strings.CutPrefix(key, peeringDestinationPrefix)
		if !ok || value != encodeCIDR(dest) {
			continue
		}
		delete(labels, key)
		delete(labels, peeringRemotePrefix+name)
		changed = true
	}
	if !changed {
		return nil
	}
	if _, _, err := c.client.Network.Update(ctx, network, hcloud.NetworkUpdateOpts{Labels: labels}); err != nil {
		return fmt.Errorf("failed to update peering labels on %s: %w", owner, classify(err))
	}
	return nil
}

func findRoute(network *hcloud.Network, dest *net.IPNet) *hcloud.NetworkRoute {
	for i, route := range network.Routes {
		if route.Destination != nil && route.Destination.String() == dest.String() {
			return &network.Routes[i]
		}
	}
	return nil
}

func toNetwork(n *hcloud.Network) *provisioning.Network {
	out := &provisioning.Network{
		ID:   strconv.FormatInt(n.ID, 10),
		Name: n.Name,
	}
	if n.IPRange != nil {
		out.CIDR = n.IPRange.String()
	}
	for _, s := range n.Subnets {
		if s.IPRange == nil {
			continue
		}
		cidr := s.IPRange.String()
		out.Subnets = append(out.Subnets, provisioning.Subnet{Name: cidr, CIDR: cidr})
	}
	return out
}

// Label values may not contain '/'.
func labelSafe(cidr string) string { return strings.Replace(cidr, "/", "_", 1) }

func fromLabel(value string) string { return strings.Replace(value, "_", "/", 1) }

func encodeCIDR(n *net.IPNet) string { return labelSafe(n.String()) }

func decodeCIDR(s string) (*net.IPNet, error) {
	_, n, err := net.ParseCIDR(fromLabel(s))
	return n, err
}
