package provisioning

import (
	"context"

	"github.com/imamik/hubspoke/internal/deployment"
)

// Instance provisioning states reported by ComputeProvisioner.GetInstance.
const (
	ProvisioningCreating  = "creating"
	ProvisioningSucceeded = "succeeded"
	ProvisioningFailed    = "failed"
	ProvisioningDeleting  = "deleting"
)

// Instance power states.
const (
	PowerStarting = "starting"
	PowerRunning  = "running"
	PowerStopped  = "stopped"
	PowerUnknown  = "unknown"
)

// PeeringState is the link state of one direction of a peering.
type PeeringState string

const (
	PeeringInitiated    PeeringState = "initiated"
	PeeringConnected    PeeringState = "connected"
	PeeringDisconnected PeeringState = "disconnected"
)

// Network is a virtual network as reported by the provider.
type Network struct {
	ID      string
	Name    string
	CIDR    string
	Subnets []Subnet
}

// Subnet is an address block inside a network.
type Subnet struct {
	Name string
	CIDR string
}

// NIC is a network interface reserved for an instance.
type NIC struct {
	ID        string
	Name      string
	Network   string
	Subnet    string
	PrivateIP string
	// AttachedTo names the instance using the interface, if any.
	AttachedTo string
}

// Instance is a compute instance.
type Instance struct {
	ID                string
	Name              string
	Size              string
	ProvisioningState string
	PowerState        string
	PrivateIP         string
}

// Ready reports whether the instance finished provisioning and is running.
func (i *Instance) Ready() bool {
	return i.ProvisioningState == ProvisioningSucceeded && i.PowerState == PowerRunning
}

// Peering is one direction of a network peering.
type Peering struct {
	Name          string
	Network       string
	RemoteNetwork string
	State         PeeringState
}

// Gateway is the shared load-balancing gateway.
type Gateway struct {
	ID           string
	Name         string
	BackendPools []string
}

// BackendPool is a named set of addresses the gateway balances across.
type BackendPool struct {
	Name      string
	Addresses []string
}

// BackendHealth is the health of one backend address.
type BackendHealth struct {
	Address string
	Healthy bool
	State   string
}

// NetworkSpec describes a network to create.
type NetworkSpec struct {
	Name     string
	CIDR     string
	Location string
	Zone     string
	Labels   map[string]string
}

// SubnetSpec describes a subnet to create.
type SubnetSpec struct {
	Network string
	Name    string
	CIDR    string
	Zone    string
}

// NICSpec describes a network interface to create.
type NICSpec struct {
	Name      string
	Network   string
	Subnet    string
	PrivateIP string
	Location  string
	Labels    map[string]string
}

// InstanceSpec describes a compute instance to create.
type InstanceSpec struct {
	Name          string
	Size          string
	Image         string
	Location      string
	NIC           string
	Network       string
	PrivateIP     string
	AdminUsername string
	PublicKey     string
	DiskName      string
	DiskSizeGB    int
	Labels        map[string]string
}

// PeeringSpec describes one direction of a peering. NextHop is used by
// providers that model peering as routes.
type PeeringSpec struct {
	Name          string
	Network       string
	RemoteNetwork string
	RemoteCIDR    string
	NextHop       string
}

// NetworkProvisioner manages networks, subnets, interfaces and peerings.
// Get methods return nil and no error when the resource does not exist.
type NetworkProvisioner interface {
	CreateNetwork(ctx context.Context, spec NetworkSpec) (*Network, error)
	GetNetwork(ctx context.Context, name string) (*Network, error)
	// DeleteNetwork removes the network together with its subnets and
	// peerings. Deleting a missing network succeeds.
	DeleteNetwork(ctx context.Context, name string) error

	CreateSubnet(ctx context.Context, spec SubnetSpec) (*Subnet, error)
	GetSubnet(ctx context.Context, network, cidr string) (*Subnet, error)

	CreateNIC(ctx context.Context, spec NICSpec) (*NIC, error)
	GetNIC(ctx context.Context, name string) (*NIC, error)
	// DeleteNIC removes the interface. While the provider still holds the
	// interface reserved it returns an error wrapping ErrInUse.
	DeleteNIC(ctx context.Context, name string) error

	CreatePeering(ctx context.Context, spec PeeringSpec) (*Peering, error)
	GetPeering(ctx context.Context, network, name string) (*Peering, error)
}

// ComputeProvisioner manages instances and their disks.
type ComputeProvisioner interface {
	// CreateInstance returns once the provider accepted the instance.
	CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error)
	GetInstance(ctx context.Context, name string) (*Instance, error)
	// DeleteInstance returns once the instance is gone.
	DeleteInstance(ctx context.Context, name string) error
	DeleteDisk(ctx context.Context, name string) error
}

// GatewayProvisioner manages backend pools on the shared gateway.
type GatewayProvisioner interface {
	GetGateway(ctx context.Context, name string) (*Gateway, error)
	GetBackendPool(ctx context.Context, gateway, pool string) (*BackendPool, error)
	CreateBackendPool(ctx context.Context, gateway string, pool BackendPool) (*BackendPool, error)
	DeleteBackendPool(ctx context.Context, gateway, pool string) error
	ListBackendPools(ctx context.Context, gateway string) ([]BackendPool, error)
	BackendHealth(ctx context.Context, gateway, pool string) ([]BackendHealth, error)
}

// Providers bundles the three capability interfaces.
type Providers struct {
	Network NetworkProvisioner
	Compute ComputeProvisioner
	Gateway GatewayProvisioner
}

// RecordSaver persists deployment records. Implemented by internal/store.
type RecordSaver interface {
	Save(ctx context.Context, rec *deployment.Record) error
}

// Exists reports whether get found a resource. A lookup error is returned
// unchanged so that callers can tell "absent" from "unknown".
func Exists[T any](ctx context.Context, get func(context.Context) (*T, error)) (bool, error) {
	v, err := get(ctx)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// ensure returns the existing resource or creates it. created reports which
// path was taken.
func ensure[T any](
	ctx context.Context,
	get func(context.Context) (*T, error),
	create func(context.Context) (*T, error),
) (res *T, created bool, err error) {
	res, err = get(ctx)
	if err != nil {
		return nil, false, err
	}
	if res != nil {
		return res, false, nil
	}
	res, err = create(ctx)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}
