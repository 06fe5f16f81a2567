// Package hcloud implements the provisioning interfaces on top of the Hetzner
// Cloud API.
//
// # Resource mapping
//
// The provider has no first-class peering or standalone interface resources,
// so some spoke concepts are modelled on what Hetzner does offer:
//
//   - network, subnet: a Network and its cloud subnets
//   - peering: a route in the owning network towards the remote CIDR, plus a
//     network label recording the peering name
//   - network interface: a Primary IP named after the instance; its labels
//     carry the reserved private address
//   - instance, disk: a Server attached to the spoke network and a Volume
//   - gateway, backend pool: a Load Balancer and a label selector target
//     matching servers labelled with the pool name
//
// # Generic Operations
//
// EnsureOperation and DeleteOperation give every resource the same
// get-or-create and idempotent delete behavior. Locked resources are retried
// with exponential backoff; deleting a missing resource succeeds.
//
// # Error classification
//
// API errors are mapped onto provisioning.ErrNotFound and
// provisioning.ErrInUse so the rollback engine can tell a missing resource
// from one that is still held.
package hcloud
