// Package config defines the service configuration shared by the workflow,
// the provider adapters, the stores and the HTTP server.
//
// [Load] layers a YAML file and HUBSPOKE_* environment variables over
// [Default], then validates the result. Timeouts come from [LoadTimeouts].
// The package also owns the address math used to derive spoke blocks and
// subnets ([SpokeBlock], [SpokeSubnets]) and the keychain lookup for the
// Hetzner Cloud token.
package config
