package memory

import (
	"context"
	"fmt"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/provisioning"
)

var _ provisioning.NetworkProvisioner = (*Cloud)(nil)

func (c *Cloud) CreateNetwork(ctx context.Context, spec provisioning.NetworkSpec) (*provisioning.Network, error) {
	if err := c.enter(ctx, OpCreateNetwork, spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.networks[spec.Name]; ok {
		return nil, conflict("network", spec.Name)
	}
	n := &network{
		Network:  provisioning.Network{ID: c.id("net"), Name: spec.Name, CIDR: spec.CIDR},
		peerings: map[string]*peering{},
	}
	c.networks[spec.Name] = n
	return copyNetwork(n), nil
}

func (c *Cloud) GetNetwork(ctx context.Context, name string) (*provisioning.Network, error) {
	if err := c.enter(ctx, OpGetNetwork, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.networks[name]
	if !ok {
		return nil, nil
	}
	return copyNetwork(n), nil
}

// DeleteNetwork removes the network with its subnets and peerings, and the
// peerings other networks hold towards it.
func (c *Cloud) DeleteNetwork(ctx context.Context, name string) error {
	if err := c.enter(ctx, OpDeleteNetwork, name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.networks[name]; !ok {
		return notFound("network", name)
	}
	for _, n := range c.nics {
		if n.Network == name {
			return inUse("network", name, "has interface "+n.Name)
		}
	}
	delete(c.networks, name)
	for _, other := range c.networks {
		for pname, p := range other.peerings {
			if p.RemoteNetwork == name {
				delete(other.peerings, pname)
			}
		}
	}
	return nil
}

func (c *Cloud) CreateSubnet(ctx context.Context, spec provisioning.SubnetSpec) (*provisioning.Subnet, error) {
	if err := c.enter(ctx, OpCreateSubnet, spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.networks[spec.Network]
	if !ok {
		return nil, notFound("network", spec.Network)
	}
	inside, err := config.Overlaps(n.CIDR, spec.CIDR)
	if err != nil {
		return nil, err
	}
	if !inside {
		return nil, fmt.Errorf("subnet %s is outside network %s (%s)", spec.CIDR, n.Name, n.CIDR)
	}
	for _, s := range n.Subnets {
		if s.CIDR == spec.CIDR {
			return nil, conflict("subnet", spec.CIDR)
		}
	}
	sn := provisioning.Subnet{Name: spec.Name, CIDR: spec.CIDR}
	n.Subnets = append(n.Subnets, sn)
	return &sn, nil
}

func (c *Cloud) GetSubnet(ctx context.Context, networkName, cidr string) (*provisioning.Subnet, error) {
	if err := c.enter(ctx, OpGetSubnet, cidr); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.networks[networkName]
	if !ok {
		return nil, nil
	}
	for _, s := range n.Subnets {
		if s.CIDR == cidr {
			sn := s
			return &sn, nil
		}
	}
	return nil, nil
}

func (c *Cloud) CreateNIC(ctx context.Context, spec provisioning.NICSpec) (*provisioning.NIC, error) {
	if err := c.enter(ctx, OpCreateNIC, spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nics[spec.Name]; ok {
		return nil, conflict("interface", spec.Name)
	}
	n, ok := c.networks[spec.Network]
	if !ok {
		return nil, notFound("network", spec.Network)
	}
	found := false
	for _, s := range n.Subnets {
		if s.CIDR == spec.Subnet {
			found = true
		}
	}
	if !found {
		return nil, notFound("subnet", spec.Subnet)
	}
	if spec.PrivateIP != "" {
		ok, err := config.ContainsAddr(spec.Subnet, spec.PrivateIP)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("address %s is outside subnet %s", spec.PrivateIP, spec.Subnet)
		}
	}

	ni := &nic{NIC: provisioning.NIC{
		ID:        c.id("nic"),
		Name:      spec.Name,
		Network:   spec.Network,
		Subnet:    spec.Subnet,
		PrivateIP: spec.PrivateIP,
	}}
	c.nics[spec.Name] = ni
	out := ni.NIC
	return &out, nil
}

func (c *Cloud) GetNIC(ctx context.Context, name string) (*provisioning.NIC, error) {
	if err := c.enter(ctx, OpGetNIC, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ni, ok := c.nics[name]
	if !ok {
		return nil, nil
	}
	out := ni.NIC
	return &out, nil
}

// DeleteNIC rejects deletion while the interface is attached or still
// reserved after detachment.
func (c *Cloud) DeleteNIC(ctx context.Context, name string) error {
	if err := c.enter(ctx, OpDeleteNIC, name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ni, ok := c.nics[name]
	if !ok {
		return notFound("interface", name)
	}
	if ni.AttachedTo != "" {
		return inUse("interface", name, "is attached to "+ni.AttachedTo)
	}
	if ni.reserved > 0 {
		ni.reserved--
		return inUse("interface", name, "is still reserved")
	}
	delete(c.nics, name)
	return nil
}

func (c *Cloud) CreatePeering(ctx context.Context, spec provisioning.PeeringSpec) (*provisioning.Peering, error) {
	if err := c.enter(ctx, OpCreatePeering, spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.networks[spec.Network]
	if !ok {
		return nil, notFound("network", spec.Network)
	}
	if _, ok := c.networks[spec.RemoteNetwork]; !ok {
		return nil, notFound("network", spec.RemoteNetwork)
	}
	if _, ok := n.peerings[spec.Name]; ok {
		return nil, conflict("peering", spec.Name)
	}
	p := &peering{Peering: provisioning.Peering{
		Name:          spec.Name,
		Network:       spec.Network,
		RemoteNetwork: spec.RemoteNetwork,
		State:         provisioning.PeeringInitiated,
	}}
	if c.connectAfter == 0 {
		p.State = provisioning.PeeringConnected
	}
	n.peerings[spec.Name] = p
	out := p.Peering
	return &out, nil
}

func (c *Cloud) GetPeering(ctx context.Context, networkName, name string) (*provisioning.Peering, error) {
	if err := c.enter(ctx, OpGetPeering, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.networks[networkName]
	if !ok {
		return nil, nil
	}
	p, ok := n.peerings[name]
	if !ok {
		return nil, nil
	}
	p.polls++
	if p.polls >= c.connectAfter {
		p.State = provisioning.PeeringConnected
	}
	out := p.Peering
	return &out, nil
}

func copyNetwork(n *network) *provisioning.Network {
	out := n.Network
	out.Subnets = append([]provisioning.Subnet(nil), n.Subnets...)
	return &out
}
