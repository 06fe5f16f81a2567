// Package spoke builds the immutable provisioning request for one spoke from
// user input and service configuration.
//
// A Request carries everything the workflow needs to know up front: the
// address plan, resource names, hub and gateway references. It is built once,
// validated once and never mutated afterwards.
package spoke

import (
	"fmt"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/util/labels"
	"github.com/imamik/hubspoke/internal/util/naming"
)

// nicHostOffset is the host number reserved for the instance NIC inside the
// compute subnet.
const nicHostOffset = 10

var subnetOrder = naming.SubnetTypes

// Input is the user-supplied part of a create request.
type Input struct {
	SpokeID       int    `json:"spoke_id"`
	ClientName    string `json:"client_name"`
	InstanceSize  string `json:"instance_size,omitempty"`
	AdminUsername string `json:"admin_identity,omitempty"`
	PublicKey     string `json:"public_key,omitempty"`
}

// Subnet is one sub-block of the spoke address range.
type Subnet struct {
	Type string
	Name string
	CIDR string
}

// Hub references the shared hub network.
type Hub struct {
	NetworkName string
	CIDR        string
	RouterIP    string
}

// Request is the validated, fully derived input to the provisioning workflow.
// Pass it by value; the slice fields are copied on construction.
type Request struct {
	SpokeID       int
	ClientName    string
	InstanceSize  string
	AdminUsername string
	PublicKey     string

	CIDR    string
	Subnets []Subnet
	// NICAddress is the private address reserved for the instance NIC.
	NICAddress string

	NetworkName     string
	InstanceName    string
	NICName         string
	DiskName        string
	BackendPoolName string
	RoutingRuleName string

	Hub         Hub
	GatewayName string
	BackendPort int
	Location    string
	NetworkZone string
	Image       string
	DiskSizeGB  int
}

// NewRequest validates in, applies configuration defaults and derives the
// address plan and resource names. Input problems are reported as a
// *ValidationError.
func NewRequest(in Input, cfg *config.Config) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	if in.InstanceSize == "" {
		in.InstanceSize = cfg.Spokes.DefaultInstanceSize
	}
	if in.AdminUsername == "" {
		in.AdminUsername = cfg.Spokes.DefaultAdminUsername
	}

	req, err := build(in, cfg)
	if err != nil {
		return Request{}, err
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// FromRecord rebuilds the request that produced rec. Names recorded by the
// workflow take precedence over freshly derived ones so that teardown targets
// exactly what was created.
func FromRecord(rec *deployment.Record, cfg *config.Config) (Request, error) {
	if err := ValidateSpokeID(rec.SpokeID); err != nil {
		return Request{}, err
	}
	in := Input{
		SpokeID:       rec.SpokeID,
		ClientName:    rec.ClientName,
		InstanceSize:  rec.InstanceSize,
		AdminUsername: rec.AdminUsername,
	}
	if in.InstanceSize == "" {
		in.InstanceSize = cfg.Spokes.DefaultInstanceSize
	}
	if in.AdminUsername == "" {
		in.AdminUsername = cfg.Spokes.DefaultAdminUsername
	}

	req, err := build(in, cfg)
	if err != nil {
		return Request{}, err
	}

	override(&req.NetworkName, rec.NetworkName)
	override(&req.InstanceName, rec.InstanceName)
	override(&req.NICName, rec.NICName)
	override(&req.DiskName, rec.DiskName)
	override(&req.BackendPoolName, rec.BackendPoolName)
	override(&req.RoutingRuleName, rec.RoutingRuleName)
	override(&req.CIDR, rec.CIDR)
	return req, nil
}

func override(dst *string, recorded string) {
	if recorded != "" {
		*dst = recorded
	}
}

func build(in Input, cfg *config.Config) (Request, error) {
	block, err := config.SpokeBlock(cfg.Spokes.Supernet, in.SpokeID)
	if err != nil {
		return Request{}, fmt.Errorf("failed to derive address block for spoke %d: %w", in.SpokeID, err)
	}
	blocks, err := config.SpokeSubnets(block)
	if err != nil {
		return Request{}, err
	}

	subnets := make([]Subnet, len(subnetOrder))
	for i, typ := range subnetOrder {
		subnets[i] = Subnet{
			Type: typ,
			Name: naming.Subnet(in.SpokeID, typ),
			CIDR: blocks[i],
		}
	}

	nicAddr, err := config.CIDRHost(subnets[0].CIDR, nicHostOffset)
	if err != nil {
		return Request{}, fmt.Errorf("failed to derive NIC address: %w", err)
	}

	instance := naming.Instance(in.SpokeID)
	return Request{
		SpokeID:       in.SpokeID,
		ClientName:    in.ClientName,
		InstanceSize:  in.InstanceSize,
		AdminUsername: in.AdminUsername,
		PublicKey:     in.PublicKey,

		CIDR:       block,
		Subnets:    subnets,
		NICAddress: nicAddr,

		NetworkName:     naming.Network(in.SpokeID),
		InstanceName:    instance,
		NICName:         naming.NIC(instance),
		DiskName:        naming.Disk(instance),
		BackendPoolName: naming.BackendPool(in.ClientName),
		RoutingRuleName: naming.RoutingRule(in.ClientName),

		Hub: Hub{
			NetworkName: cfg.Hub.NetworkName,
			CIDR:        cfg.Hub.CIDR,
			RouterIP:    cfg.Hub.RouterIP,
		},
		GatewayName: cfg.Gateway.Name,
		BackendPort: cfg.Gateway.BackendPort,
		Location:    cfg.Provider.Location,
		NetworkZone: cfg.Provider.NetworkZone,
		Image:       cfg.Spokes.Image,
		DiskSizeGB:  cfg.Spokes.DiskSizeGB,
	}, nil
}

// Subnet returns the sub-block of the given type.
func (r Request) Subnet(typ string) (Subnet, bool) {
	for _, s := range r.Subnets {
		if s.Type == typ {
			return s, true
		}
	}
	return Subnet{}, false
}

// ComputeSubnet returns the sub-block that hosts the instance NIC.
func (r Request) ComputeSubnet() Subnet {
	s, _ := r.Subnet(naming.SubnetCompute)
	return s
}

// SubnetMap returns subnet CIDRs keyed by type, as stored on the record.
func (r Request) SubnetMap() map[string]string {
	m := make(map[string]string, len(r.Subnets))
	for _, s := range r.Subnets {
		m[s.Type] = s.CIDR
	}
	return m
}

// HubPeeringName is the name of the hub to spoke peering.
func (r Request) HubPeeringName() string {
	return naming.Peering(r.Hub.NetworkName, r.NetworkName)
}

// SpokePeeringName is the name of the spoke to hub peering.
func (r Request) SpokePeeringName() string {
	return naming.Peering(r.NetworkName, r.Hub.NetworkName)
}

// Labels returns the labels applied to every resource of the spoke.
func (r Request) Labels(role string) map[string]string {
	return labels.NewLabelBuilder(r.SpokeID).
		WithClient(r.ClientName).
		WithRole(role).
		Build()
}

// NewRecord returns a pending deployment record describing r.
func (r Request) NewRecord() *deployment.Record {
	rec := deployment.New(r.SpokeID, r.ClientName)
	rec.CIDR = r.CIDR
	rec.Subnets = r.SubnetMap()
	rec.InstanceSize = r.InstanceSize
	rec.AdminUsername = r.AdminUsername
	rec.NetworkName = r.NetworkName
	rec.InstanceName = r.InstanceName
	rec.NICName = r.NICName
	rec.DiskName = r.DiskName
	rec.BackendPoolName = r.BackendPoolName
	rec.RoutingRuleName = r.RoutingRuleName
	return rec
}
