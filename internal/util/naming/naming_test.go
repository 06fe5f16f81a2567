package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamingFunctions(t *testing.T) {
	t.Parallel()
	vm := Instance(1)

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "Network", got: Network(1), expected: "spoke-vnet-1"},
		{name: "Subnet", got: Subnet(1, SubnetCompute), expected: "spoke-1-compute-subnet"},
		{name: "Subnet underscores", got: Subnet(9, "shared_service"), expected: "spoke-9-shared-service-subnet"},
		{name: "Instance", got: vm, expected: "spoke-vm-1"},
		{name: "NIC", got: NIC(vm), expected: "spoke-vm-1-nic"},
		{name: "Disk", got: Disk(vm), expected: "spoke-vm-1-osdisk"},
		{name: "Peering", got: Peering("hub-vnet", "spoke-vnet-1"), expected: "hub-vnet-to-spoke-vnet-1"},
		{name: "BackendPool", got: BackendPool("Acme Finance"), expected: "acme-finance-pool"},
		{name: "RoutingRule", got: RoutingRule("acme"), expected: "acme-route"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"acme", "acme"},
		{"ACME_Corp", "acme-corp"},
		{"--edge--", "edge"},
		{"a..b", "a-b"},
		{"!!!", "default"},
		{"", "default"},
		{strings.Repeat("x", 70), strings.Repeat("x", MaxNameLength)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSubnetTypesOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"compute", "data", "secrets", "shared-service"}, SubnetTypes)
}
