// Package provisioning runs the spoke create workflow and its compensating
// rollback.
//
// # Core Types
//
// NetworkProvisioner, ComputeProvisioner and GatewayProvisioner are the
// capability interfaces implemented by the platform adapters
// (internal/platform/hcloud, internal/platform/memory).
//
// Executor runs one named step against a deployment record and is the only
// code that moves step state forward. Orchestrator defines the fixed step
// order and hands failed workflows to the Runner, which executes the
// RollbackEngine in the background and tracks one Task per spoke.
//
// # Workflow
//
//	validate_config -> create_network -> create_subnets -> create_nic ->
//	deploy_instance -> wait_instance_ready -> get_instance_ip ->
//	create_peering -> verify_connectivity -> update_gateway ->
//	create_routing_rule
//
// Rollback tears down gateway pool, instance, NIC, disk and network in that
// order, skipping anything whose creating step never completed.
package provisioning
