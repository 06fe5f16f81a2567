package labels

import "strconv"

// Standard label keys for spoke resources.
const (
	// KeySpoke identifies which spoke a resource belongs to
	KeySpoke = "hubspoke.io/spoke"

	// KeyClient identifies the client the spoke was provisioned for
	KeyClient = "hubspoke.io/client"

	// KeyRole identifies the role of a resource inside the spoke
	KeyRole = "hubspoke.io/role"

	// KeyPool marks membership in a gateway backend pool
	KeyPool = "hubspoke.io/pool"

	// KeyManagedBy identifies the management system
	KeyManagedBy = "hubspoke.io/managed-by"
)

// Role values
const (
	RoleNetwork   = "network"
	RoleInterface = "interface"
	RoleInstance  = "instance"
	RoleDisk      = "disk"
)

// ManagedByHubspoke is the KeyManagedBy value for resources created here.
const ManagedByHubspoke = "hubspoke"

// LabelBuilder provides a fluent interface for building resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a new label builder with the spoke id pre-set.
func NewLabelBuilder(spokeID int) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeySpoke:     strconv.Itoa(spokeID),
			KeyManagedBy: ManagedByHubspoke,
		},
	}
}

// WithClient adds the client label.
func (lb *LabelBuilder) WithClient(client string) *LabelBuilder {
	if client != "" {
		lb.labels[KeyClient] = client
	}
	return lb
}

// WithRole adds a role label.
func (lb *LabelBuilder) WithRole(role string) *LabelBuilder {
	lb.labels[KeyRole] = role
	return lb
}

// WithPool adds a backend pool membership label.
func (lb *LabelBuilder) WithPool(pool string) *LabelBuilder {
	if pool != "" {
		lb.labels[KeyPool] = pool
	}
	return lb
}

// Merge adds all labels from the provided map.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		lb.labels[k] = v
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

// SelectorForSpoke returns a label selector matching every resource of a spoke.
func SelectorForSpoke(spokeID int) string {
	return KeySpoke + "=" + strconv.Itoa(spokeID)
}

// SelectorForPool returns the label selector a gateway uses for a backend pool.
func SelectorForPool(pool string) string {
	return KeyPool + "=" + pool
}
