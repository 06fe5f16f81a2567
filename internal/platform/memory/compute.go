package memory

import (
	"context"

	"github.com/imamik/hubspoke/internal/provisioning"
)

var _ provisioning.ComputeProvisioner = (*Cloud)(nil)

// CreateInstance attaches the named interface and creates the disk. The
// instance then reports creating until it has been polled readyAfter times.
func (c *Cloud) CreateInstance(ctx context.Context, spec provisioning.InstanceSpec) (*provisioning.Instance, error) {
	if err := c.enter(ctx, OpCreateInstance, spec.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.instances[spec.Name]; ok {
		return nil, conflict("instance", spec.Name)
	}
	ni, ok := c.nics[spec.NIC]
	if !ok {
		return nil, notFound("interface", spec.NIC)
	}
	if ni.AttachedTo != "" {
		return nil, inUse("interface", spec.NIC, "is attached to "+ni.AttachedTo)
	}

	inst := &instance{
		Instance: provisioning.Instance{
			ID:                c.id("vm"),
			Name:              spec.Name,
			Size:              spec.Size,
			ProvisioningState: provisioning.ProvisioningCreating,
			PowerState:        provisioning.PowerStarting,
			PrivateIP:         ni.PrivateIP,
		},
		nic:  spec.NIC,
		disk: spec.DiskName,
	}
	if c.takeFault(OpProvisionInstance) != nil {
		inst.ProvisioningState = provisioning.ProvisioningFailed
		inst.PowerState = provisioning.PowerStopped
	} else if c.readyAfter == 0 {
		inst.ProvisioningState = provisioning.ProvisioningSucceeded
		inst.PowerState = provisioning.PowerRunning
	}

	ni.AttachedTo = spec.Name
	c.instances[spec.Name] = inst
	if spec.DiskName != "" {
		c.disks[spec.DiskName] = true
	}
	out := inst.Instance
	return &out, nil
}

func (c *Cloud) GetInstance(ctx context.Context, name string) (*provisioning.Instance, error) {
	if err := c.enter(ctx, OpGetInstance, name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[name]
	if !ok {
		return nil, nil
	}
	inst.polls++
	if inst.ProvisioningState == provisioning.ProvisioningCreating && inst.polls >= c.readyAfter {
		inst.ProvisioningState = provisioning.ProvisioningSucceeded
		inst.PowerState = provisioning.PowerRunning
	}
	out := inst.Instance
	return &out, nil
}

// DeleteInstance removes the instance and detaches its interface, which then
// stays reserved for nicReservation delete attempts. The disk is kept.
func (c *Cloud) DeleteInstance(ctx context.Context, name string) error {
	if err := c.enter(ctx, OpDeleteInstance, name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[name]
	if !ok {
		return notFound("instance", name)
	}
	delete(c.instances, name)
	if ni, ok := c.nics[inst.nic]; ok && ni.AttachedTo == name {
		ni.AttachedTo = ""
		ni.reserved = c.nicReservation
	}
	return nil
}

func (c *Cloud) DeleteDisk(ctx context.Context, name string) error {
	if err := c.enter(ctx, OpDeleteDisk, name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.disks[name] {
		return notFound("disk", name)
	}
	for _, inst := range c.instances {
		if inst.disk == name {
			return inUse("disk", name, "is attached to "+inst.Name)
		}
	}
	delete(c.disks, name)
	return nil
}
