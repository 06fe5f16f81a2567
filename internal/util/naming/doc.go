// Package naming provides consistent names for spoke resources.
//
// Infrastructure names are derived from the spoke id ("spoke-vnet-{id}",
// "spoke-vm-{id}") so that every run for the same id converges on the same
// resources. Gateway entries are derived from the sanitized client name.
package naming
