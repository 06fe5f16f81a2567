package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength is the longest resource name the providers accept.
const MaxNameLength = 63

// Subnet types in the order they occupy a spoke block.
const (
	SubnetCompute       = "compute"
	SubnetData          = "data"
	SubnetSecrets       = "secrets"
	SubnetSharedService = "shared-service"
)

// SubnetTypes lists subnet types in block order.
var SubnetTypes = []string{SubnetCompute, SubnetData, SubnetSecrets, SubnetSharedService}

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns   = regexp.MustCompile(`-+`)
)

func Network(spokeID int) string {
	return fmt.Sprintf("spoke-vnet-%d", spokeID)
}

func Subnet(spokeID int, subnetType string) string {
	subnetType = strings.ReplaceAll(strings.ToLower(subnetType), "_", "-")
	return fmt.Sprintf("spoke-%d-%s-subnet", spokeID, subnetType)
}

func Instance(spokeID int) string {
	return fmt.Sprintf("spoke-vm-%d", spokeID)
}

func NIC(instance string) string {
	return instance + "-nic"
}

func Disk(instance string) string {
	return instance + "-osdisk"
}

func Peering(source, target string) string {
	return fmt.Sprintf("%s-to-%s", source, target)
}

func BackendPool(client string) string {
	return Sanitize(client) + "-pool"
}

func RoutingRule(client string) string {
	return Sanitize(client) + "-route"
}

// Sanitize lowercases name, replaces characters outside [a-z0-9-] with
// hyphens, collapses hyphen runs and trims to MaxNameLength. The result never
// starts or ends with a hyphen; an empty result becomes "default".
func Sanitize(name string) string {
	name = strings.ToLower(name)
	name = invalidChars.ReplaceAllString(name, "-")
	name = hyphenRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], "-")
	}
	if name == "" {
		return "default"
	}
	return name
}
