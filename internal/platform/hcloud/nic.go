package hcloud

import (
	"context"
	"maps"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/provisioning"
)

// Primary IP labels carrying the private side of an interface.
const (
	labelNICNetwork   = "hubspoke.io/network"
	labelNICSubnet    = "hubspoke.io/subnet"
	labelNICPrivateIP = "hubspoke.io/private-ip"
)

// datacenters maps locations to the datacenter Primary IPs are created in.
var datacenters = map[string]string{
	"fsn1": "fsn1-dc14",
	"nbg1": "nbg1-dc3",
	"hel1": "hel1-dc2",
	"ash":  "ash-dc1",
	"hil":  "hil-dc1",
	"sin":  "sin-dc1",
}

func datacenterFor(location string) string {
	if dc, ok := datacenters[location]; ok {
		return dc
	}
	return location
}

// CreateNIC reserves a Primary IP for the instance. The private address the
// instance will use inside the spoke network is kept in its labels.
func (c *Client) CreateNIC(ctx context.Context, spec provisioning.NICSpec) (*provisioning.NIC, error) {
	location := spec.Location
	if location == "" {
		location = c.location
	}
	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[labelNICNetwork] = spec.Network
	labels[labelNICPrivateIP] = spec.PrivateIP
	if spec.Subnet != "" {
		labels[labelNICSubnet] = labelSafe(spec.Subnet)
	}

	ip, err := (&EnsureOperation[*hcloud.PrimaryIP, hcloud.PrimaryIPCreateOpts]{
		Name:         spec.Name,
		ResourceType: "network interface",
		Get:          c.client.PrimaryIP.Get,
		Create: func(ctx context.Context, opts hcloud.PrimaryIPCreateOpts) (*CreateResult[*hcloud.PrimaryIP], *hcloud.Response, error) {
			res, resp, err := c.client.PrimaryIP.Create(ctx, opts)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.PrimaryIP]{Resource: res.PrimaryIP, Actions: []*hcloud.Action{res.Action}}, resp, nil
		},
		Opts: func() hcloud.PrimaryIPCreateOpts {
			return hcloud.PrimaryIPCreateOpts{
				Name:         spec.Name,
				Type:         hcloud.PrimaryIPTypeIPv4,
				AssigneeType: "server",
				Datacenter:   datacenterFor(location), //nolint:staticcheck
				AutoDelete:   hcloud.Ptr(false),
				Labels:       labels,
			}
		},
	}).Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return c.toNIC(ctx, ip)
}

// GetNIC returns the interface with the given name.
func (c *Client) GetNIC(ctx context.Context, name string) (*provisioning.NIC, error) {
	ip, _, err := c.client.PrimaryIP.Get(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if ip == nil {
		return nil, nil
	}
	return c.toNIC(ctx, ip)
}

// DeleteNIC releases the Primary IP. While it is still assigned to a server
// the delete is refused with ErrInUse.
func (c *Client) DeleteNIC(ctx context.Context, name string) error {
	return (&DeleteOperation[*hcloud.PrimaryIP]{
		Name:         name,
		ResourceType: "network interface",
		Get:          c.client.PrimaryIP.Get,
		Check: func(ip *hcloud.PrimaryIP) error {
			if ip.AssigneeID != 0 {
				return inUse("network interface", name, "is still assigned to server "+strconv.FormatInt(ip.AssigneeID, 10))
			}
			return nil
		},
		Delete: func(ctx context.Context, ip *hcloud.PrimaryIP) ([]*hcloud.Action, error) {
			_, err := c.client.PrimaryIP.Delete(ctx, ip)
			return nil, err
		},
	}).Execute(ctx, c)
}

func (c *Client) toNIC(ctx context.Context, ip *hcloud.PrimaryIP) (*provisioning.NIC, error) {
	nic := &provisioning.NIC{
		ID:        strconv.FormatInt(ip.ID, 10),
		Name:      ip.Name,
		Network:   ip.Labels[labelNICNetwork],
		Subnet:    fromLabel(ip.Labels[labelNICSubnet]),
		PrivateIP: ip.Labels[labelNICPrivateIP],
	}
	if ip.AssigneeID != 0 {
		server, _, err := c.client.Server.GetByID(ctx, ip.AssigneeID)
		if err != nil {
			return nil, classify(err)
		}
		if server != nil {
			nic.AttachedTo = server.Name
		} else {
			nic.AttachedTo = strconv.FormatInt(ip.AssigneeID, 10)
		}
	}
	return nic, nil
}
