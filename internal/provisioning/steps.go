package provisioning

// StepDef names one workflow step.
type StepDef struct {
	Name        string
	Description string
}

// Workflow step names, in execution order.
const (
	StepValidateConfig     = "validate_config"
	StepCreateNetwork      = "create_network"
	StepCreateSubnets      = "create_subnets"
	StepCreateNIC          = "create_nic"
	StepDeployInstance     = "deploy_instance"
	StepWaitInstanceReady  = "wait_instance_ready"
	StepGetInstanceIP      = "get_instance_ip"
	StepCreatePeering      = "create_peering"
	StepVerifyConnectivity = "verify_connectivity"
	StepUpdateGateway      = "update_gateway"
	StepCreateRoutingRule  = "create_routing_rule"
)

// Steps is the fixed create workflow.
var Steps = []StepDef{
	{StepValidateConfig, "Validate spoke configuration"},
	{StepCreateNetwork, "Create spoke virtual network"},
	{StepCreateSubnets, "Create spoke subnets"},
	{StepCreateNIC, "Create instance network interface"},
	{StepDeployInstance, "Deploy compute instance"},
	{StepWaitInstanceReady, "Wait for instance to become ready"},
	{StepGetInstanceIP, "Read instance private address"},
	{StepCreatePeering, "Peer spoke with hub network"},
	{StepVerifyConnectivity, "Verify peering connectivity"},
	{StepUpdateGateway, "Register instance in gateway backend pool"},
	{StepCreateRoutingRule, "Prepare gateway routing rule"},
}

// LookupStep returns the definition of a workflow step.
func LookupStep(name string) (StepDef, bool) {
	for _, s := range Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDef{}, false
}
