package hcloud

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"gopkg.in/yaml.v3"

	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/util/labels"
)

// cloudConfig is the subset of cloud-init user data used to create the admin user.
type cloudConfig struct {
	Users []cloudUser `yaml:"users"`
}

type cloudUser struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	Sudo              string   `yaml:"sudo,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// userData renders cloud-init user data that creates the admin user with
// key-only access.
func userData(admin, publicKey string) (string, error) {
	if admin == "" {
		return "", nil
	}
	user := cloudUser{
		Name:   admin,
		Groups: "sudo",
		Shell:  "/bin/bash",
		Sudo:   "ALL=(ALL) NOPASSWD:ALL",
	}
	if publicKey != "" {
		user.SSHAuthorizedKeys = []string{publicKey}
	}
	out, err := yaml.Marshal(cloudConfig{Users: []cloudUser{user}})
	if err != nil {
		return "", fmt.Errorf("failed to render user data: %w", err)
	}
	return "#cloud-config\n" + string(out), nil
}

// CreateInstance creates the server stopped, attaches it to the spoke
// network at the reserved address, creates its disk and powers it on. It
// returns without waiting for the server to boot.
func (c *Client) CreateInstance(ctx context.Context, spec provisioning.InstanceSpec) (*provisioning.Instance, error) {
	network, _, err := c.client.Network.Get(ctx, spec.Network)
	if err != nil {
		return nil, classify(err)
	}
	if network == nil {
		return nil, notFound("network", spec.Network)
	}
	privateIP := net.ParseIP(spec.PrivateIP)
	if privateIP == nil {
		return nil, fmt.Errorf("invalid private address %q", spec.PrivateIP)
	}

	opts, err := c.buildServerCreateOpts(ctx, spec)
	if err != nil {
		return nil, err
	}

	server, err := (&EnsureOperation[*hcloud.Server, hcloud.ServerCreateOpts]{
		Name:         spec.Name,
		ResourceType: "instance",
		Get:          c.client.Server.Get,
		Create: func(ctx context.Context, opts hcloud.ServerCreateOpts) (*CreateResult[*hcloud.Server], *hcloud.Response, error) {
			res, resp, err := c.client.Server.Create(ctx, opts)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.Server]{
				Resource: res.Server,
				Actions:  append([]*hcloud.Action{res.Action}, res.NextActions...),
			}, resp, nil
		},
		Opts: func() hcloud.ServerCreateOpts { return opts },
	}).Execute(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := c.attachServerToNetwork(ctx, server, network, privateIP); err != nil {
		return nil, err
	}
	if spec.DiskName != "" {
		if err := c.ensureDisk(ctx, server, spec); err != nil {
			return nil, err
		}
	}

	// Boot progress is observed through GetInstance.
	if _, _, err := c.client.Server.Poweron(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to power on instance: %w", classify(err))
	}

	return &provisioning.Instance{
		ID:                strconv.FormatInt(server.ID, 10),
		Name:              server.Name,
		Size:              spec.Size,
		ProvisioningState: provisioning.ProvisioningCreating,
		PowerState:        provisioning.PowerStarting,
		PrivateIP:         spec.PrivateIP,
	}, nil
}

// buildServerCreateOpts resolves server type, image, location and the
// reserved Primary IP.
func (c *Client) buildServerCreateOpts(ctx context.Context, spec provisioning.InstanceSpec) (hcloud.ServerCreateOpts, error) {
	serverType, _, err := c.client.ServerType.Get(ctx, spec.Size)
	if err != nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get server type: %w", classify(err))
	}
	if serverType == nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("server type not found: %s", spec.Size)
	}

	image, _, err := c.client.Image.Get(ctx, spec.Image) //nolint:staticcheck
	if err != nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get image: %w", classify(err))
	}
	if image == nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("image not found: %s", spec.Image)
	}

	locationName := spec.Location
	if locationName == "" {
		locationName = c.location
	}
	location, _, err := c.client.Location.Get(ctx, locationName)
	if err != nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get location %s: %w", locationName, classify(err))
	}

	data, err := userData(spec.AdminUsername, spec.PublicKey)
	if err != nil {
		return hcloud.ServerCreateOpts{}, err
	}

	opts := hcloud.ServerCreateOpts{
		Name:             spec.Name,
		ServerType:       serverType,
		Image:            image,
		Location:         location,
		Labels:           spec.Labels,
		UserData:         data,
		StartAfterCreate: hcloud.Ptr(false),
	}

	if spec.NIC != "" {
		ip, _, err := c.client.PrimaryIP.Get(ctx, spec.NIC)
		if err != nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get network interface: %w", classify(err))
		}
		if ip == nil {
			return hcloud.ServerCreateOpts{}, notFound("network interface", spec.NIC)
		}
		opts.PublicNet = &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			IPv4:       ip,
		}
	}
	return opts, nil
}

// attachServerToNetwork attaches the server at ip unless it already is.
func (c *Client) attachServerToNetwork(ctx context.Context, server *hcloud.Server, network *hcloud.Network, ip net.IP) error {
	for _, pn := range server.PrivateNet {
		if pn.Network != nil && pn.Network.ID == network.ID {
			return nil
		}
	}

	action, _, err := c.client.Server.AttachToNetwork(ctx, server, hcloud.ServerAttachToNetworkOpts{
		Network: network,
		IP:      ip,
	})
	if err != nil {
		return fmt.Errorf("failed to attach instance to network: %w", classify(err))
	}
	if err := waitForActions(ctx, c.client, action); err != nil {
		return fmt.Errorf("failed to wait for network attachment: %w", err)
	}
	return nil
}

func (c *Client) ensureDisk(ctx context.Context, server *hcloud.Server, spec provisioning.InstanceSpec) error {
	size := spec.DiskSizeGB
	if size < 10 {
		size = 10
	}
	_, err := (&EnsureOperation[*hcloud.Volume, hcloud.VolumeCreateOpts]{
		Name:         spec.DiskName,
		ResourceType: "disk",
		Get:          c.client.Volume.Get,
		Create: func(ctx context.Context, opts hcloud.VolumeCreateOpts) (*CreateResult[*hcloud.Volume], *hcloud.Response, error) {
			res, resp, err := c.client.Volume.Create(ctx, opts)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.Volume]{
				Resource: res.Volume,
				Actions:  append([]*hcloud.Action{res.Action}, res.NextActions...),
			}, resp, nil
		},
		Opts: func() hcloud.VolumeCreateOpts {
			return hcloud.VolumeCreateOpts{
				Name:      spec.DiskName,
				Size:      size,
				Server:    server,
				Labels:    diskLabels(spec.Labels),
				Automount: hcloud.Ptr(false),
			}
		},
	}).Execute(ctx, c)
	return err
}

// diskLabels copies the instance labels with the disk role.
func diskLabels(instance map[string]string) map[string]string {
	out := make(map[string]string, len(instance)+1)
	for k, v := range instance {
		out[k] = v
	}
	out[labels.KeyRole] = labels.RoleDisk
	return out
}

// GetInstance returns the instance with the given name.
func (c *Client) GetInstance(ctx context.Context, name string) (*provisioning.Instance, error) {
	server, _, err := c.client.Server.Get(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if server == nil {
		return nil, nil
	}

	provisioningState, powerState := serverStates(server.Status)
	inst := &provisioning.Instance{
		ID:                strconv.FormatInt(server.ID, 10),
		Name:              server.Name,
		ProvisioningState: provisioningState,
		PowerState:        powerState,
	}
	if server.ServerType != nil {
		inst.Size = server.ServerType.Name
	}
	if len(server.PrivateNet) > 0 && server.PrivateNet[0].IP != nil {
		inst.PrivateIP = server.PrivateNet[0].IP.String()
	}
	return inst, nil
}

// serverStates maps a server status onto provisioning and power states.
func serverStates(status hcloud.ServerStatus) (string, string) {
	switch status {
	case hcloud.ServerStatusInitializing:
		return provisioning.ProvisioningCreating, provisioning.PowerStarting
	case hcloud.ServerStatusStarting:
		return provisioning.ProvisioningSucceeded, provisioning.PowerStarting
	case hcloud.ServerStatusRunning:
		return provisioning.ProvisioningSucceeded, provisioning.PowerRunning
	case hcloud.ServerStatusOff, hcloud.ServerStatusStopping:
		return provisioning.ProvisioningSucceeded, provisioning.PowerStopped
	case hcloud.ServerStatusDeleting:
		return provisioning.ProvisioningDeleting, provisioning.PowerStopped
	case hcloud.ServerStatusMigrating, hcloud.ServerStatusRebuilding:
		return provisioning.ProvisioningCreating, provisioning.PowerUnknown
	default:
		return provisioning.ProvisioningSucceeded, provisioning.PowerUnknown
	}
}

// DeleteInstance deletes the server and waits until it is gone.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return (&DeleteOperation[*hcloud.Server]{
		Name:         name,
		ResourceType: "instance",
		Get:          c.client.Server.Get,
		Delete: func(ctx context.Context, server *hcloud.Server) ([]*hcloud.Action, error) {
			res, _, err := c.client.Server.DeleteWithResult(ctx, server)
			if err != nil {
				return nil, err
			}
			return []*hcloud.Action{res.Action}, nil
		},
	}).Execute(ctx, c)
}

// DeleteDisk deletes the volume. It is refused while the volume is attached.
func (c *Client) DeleteDisk(ctx context.Context, name string) error {
	return (&DeleteOperation[*hcloud.Volume]{
		Name:         name,
		ResourceType: "disk",
		Get:          c.client.Volume.Get,
		Check: func(v *hcloud.Volume) error {
			if v.Server != nil {
				return inUse("disk", name, "is still attached")
			}
			return nil
		},
		Delete: func(ctx context.Context, v *hcloud.Volume) ([]*hcloud.Action, error) {
			_, err := c.client.Volume.Delete(ctx, v)
			return nil, err
		},
	}).Execute(ctx, c)
}
